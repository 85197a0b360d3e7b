package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"incident-assistant/internal/domain/model"
	"incident-assistant/internal/infra/logging"
	"incident-assistant/internal/usecase"
)

const (
	ChatPath          = "/chat"
	msgNotFound       = "Not Found"
	msgDispatchFailed = "Failed to process chat request"

	// sent on any 429 that carries no window of its own
	defaultRetryAfter = time.Minute
)

// Dispatcher forwards a request to the handler that owns its session id.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.SessionRequest) (*model.ChatResponse, error)
}

// Server is the public entry point: one route, session id assignment and
// response shaping.
type Server struct {
	dispatcher   Dispatcher
	log          *zerolog.Logger
	dev          bool
	newSessionID func() string
}

func NewServer(d Dispatcher, logger *zerolog.Logger, dev bool) *Server {
	sLog := logger.With().Str("component", "EntryRouter").Logger()
	return &Server{
		dispatcher:   d,
		log:          &sLog,
		dev:          dev,
		newSessionID: uuid.NewString,
	}
}

// Routes returns the public handler. Anything but POST /chat is a 404.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID(), RequestLog(s.log), Recover(s.log))
	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.notFound)
	r.Post(ChatPath, s.handleChat)
	return r
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, msgNotFound)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	l := logging.With(r.Context(), s.log)

	parsed, perr := ParseChatRequest(w, r)
	if perr != nil {
		l.Warn().
			Int("status", perr.Status).
			Str("reason", perr.Message).
			AnErr("cause", perr.Err).
			Msg("chat_request_rejected")
		writeError(w, perr.Status, perr.Message)
		return
	}

	sessionID := parsed.SessionID
	if sessionID == "" {
		sessionID = s.newSessionID()
	}
	ctx := logging.WithSessID(r.Context(), sessionID)
	l = logging.With(ctx, s.log)
	l.Debug().Str("message", logging.Redact(parsed.Message, s.dev)).Int("logs_len", len(parsed.TextLogs)).Msg("chat_request_accepted")

	// a client disconnect must not abort a cycle that is about to persist
	resp, err := s.dispatcher.Dispatch(context.WithoutCancel(ctx), model.SessionRequest{
		SessionID: sessionID,
		UserText:  parsed.UserText,
	})
	if err != nil {
		s.writeDispatchError(w, l, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeDispatchError(w http.ResponseWriter, l *zerolog.Logger, err error) {
	var rerr *usecase.RequestError
	if !errors.As(err, &rerr) {
		l.Error().Err(err).Msg("dispatch_failed")
		writeError(w, http.StatusInternalServerError, msgDispatchFailed)
		return
	}

	ev := l.Warn()
	if rerr.Status >= http.StatusInternalServerError {
		ev = l.Error()
	}
	ev.Int("status", rerr.Status).AnErr("cause", rerr.Err).Msg("session_reply_failed")

	if rerr.Status == http.StatusTooManyRequests {
		retry := rerr.RetryAfter
		if retry <= 0 {
			retry = defaultRetryAfter
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
	}
	writeError(w, rerr.Status, rerr.Message)
}
