package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"incident-assistant/internal/domain"
	"incident-assistant/internal/domain/model"
	"incident-assistant/internal/domain/ports/repository"
	derror "incident-assistant/internal/error"
	"incident-assistant/internal/infra/logging"
	"incident-assistant/internal/infra/metrics"
)

// User-facing messages. Internal codes never reach the caller.
const (
	msgEnvelopeInvalid = "sessionId and userText are required"
	msgSessionLimited  = "Too many requests for this session. Please wait a minute and try again."
	msgAITimeout       = "The analysis service timed out. Please try again."
	msgAIRateLimited   = "The analysis service is rate-limited right now. Please retry shortly."
	msgAIFailed        = "The analysis service failed to produce a response."
	msgInternalFailure = "Failed to process chat request"
)

// upstreamRetryAfter is advertised when the model service itself rate-limits.
const upstreamRetryAfter = time.Minute

// Generator produces the assistant reply for a composed prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TokenCounter estimates prompt size for observability. Optional.
type TokenCounter interface {
	Count(text string) int
}

// RequestError is a handler outcome that maps onto an HTTP status.
type RequestError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

type SessionHandlerConfig struct {
	MaxHistory int
	RateLimit  int
	RateWindow time.Duration
}

// SessionHandler owns one conversation. It is not safe for concurrent use;
// callers must serialize requests for the same session id.
type SessionHandler struct {
	sessionID  string
	repo       repository.SessionStateRepository
	gen        Generator
	tokens     TokenCounter
	limiter    *SlidingWindow
	maxHistory int
	now        func() time.Time
	log        *zerolog.Logger
}

func NewSessionHandler(
	sessionID string,
	repo repository.SessionStateRepository,
	gen Generator,
	tokens TokenCounter,
	cfg SessionHandlerConfig,
	logger *zerolog.Logger,
) *SessionHandler {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = model.DefaultMaxHistory
	}
	hLog := logger.With().Str("component", "SessionHandler").Logger()
	return &SessionHandler{
		sessionID:  sessionID,
		repo:       repo,
		gen:        gen,
		tokens:     tokens,
		limiter:    NewSlidingWindow(cfg.RateLimit, cfg.RateWindow),
		maxHistory: cfg.MaxHistory,
		now:        time.Now,
		log:        &hLog,
	}
}

func (h *SessionHandler) SessionID() string { return h.sessionID }

// Handle runs one request cycle. Errors are *RequestError for every expected
// outcome; state is only persisted when the whole cycle succeeds.
func (h *SessionHandler) Handle(ctx context.Context, req model.SessionRequest) (*model.ChatResponse, error) {
	ctx = logging.WithSessID(ctx, h.sessionID)
	l := logging.With(ctx, h.log)
	defer logging.TraceDuration(l, "SessionHandler.Handle")()

	req.SessionID = strings.TrimSpace(req.SessionID)
	req.UserText = strings.TrimSpace(req.UserText)
	if err := validateSessionRequest(req); err != nil || req.SessionID != h.sessionID {
		l.Warn().Err(err).Msg("session_request_invalid")
		return nil, &RequestError{Status: http.StatusBadRequest, Message: msgEnvelopeInvalid, Err: domain.ErrInvalidArgument}
	}

	if !h.limiter.Allow(h.now()) {
		metrics.IncSessionRateLimited()
		l.Warn().Msg("session_rate_limited")
		return nil, &RequestError{
			Status:     http.StatusTooManyRequests,
			Message:    msgSessionLimited,
			RetryAfter: h.limiter.RetryAfter(),
		}
	}

	state, err := h.load(ctx)
	if err != nil {
		l.Error().Err(err).Msg("session_state_load_failed")
		return nil, &RequestError{Status: http.StatusInternalServerError, Message: msgInternalFailure, Err: err}
	}

	prompt := ComposePrompt(req.UserText, state.History)
	if h.tokens != nil {
		metrics.ObservePromptTokens(h.tokens.Count(prompt))
	}

	reply, err := h.gen.Generate(ctx, prompt)
	if err != nil {
		cerr := derror.Classify(err)
		l.Error().
			Str("code", string(cerr.Code)).
			Int("status", cerr.HTTPStatus).
			Bool("retryable", cerr.Retryable).
			Msg("ai_generation_failed")
		rerr := &RequestError{Status: cerr.HTTPStatus, Message: userMessageFor(cerr), Err: cerr}
		if rerr.Status == http.StatusTooManyRequests {
			rerr.RetryAfter = upstreamRetryAfter
		}
		return nil, rerr
	}

	next := state.WithExchange(req.UserText, reply, h.maxHistory)
	if err := h.repo.Put(ctx, next); err != nil {
		l.Error().Err(err).Msg("session_state_persist_failed")
		return nil, &RequestError{Status: http.StatusInternalServerError, Message: msgInternalFailure, Err: err}
	}

	l.Debug().Int("history", len(next.History)).Msg("session_reply_ok")
	return &model.ChatResponse{SessionID: h.sessionID, Response: reply}, nil
}

func (h *SessionHandler) load(ctx context.Context) (*model.SessionState, error) {
	state, err := h.repo.Get(ctx, h.sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return model.NewSessionState(h.sessionID, h.now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", h.sessionID, err)
	}
	// the record is keyed by id; the id inside it must agree
	state.SessionID = h.sessionID
	return state, nil
}

func validateSessionRequest(req model.SessionRequest) error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.SessionID, validation.Required),
		validation.Field(&req.UserText, validation.Required),
	)
}

func userMessageFor(cerr *derror.ClassifiedError) string {
	switch cerr.Code {
	case derror.CodeTimeout:
		return msgAITimeout
	case derror.CodeRateLimited:
		return msgAIRateLimited
	default:
		return msgAIFailed
	}
}
