//go:build !integration

package usecase

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"incident-assistant/internal/domain"
	"incident-assistant/internal/domain/model"
	"incident-assistant/internal/domain/ports/adapter"
	derror "incident-assistant/internal/error"
)

// memSessionRepo is an in-memory SessionStateRepository for unit tests.
type memSessionRepo struct {
	mu     sync.Mutex
	store  map[string]*model.SessionState
	getErr error
	putErr error
	gets   int
	puts   int
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{store: make(map[string]*model.SessionState)}
}

func (m *memSessionRepo) Get(ctx context.Context, id string) (*model.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.Clone(), nil
}

func (m *memSessionRepo) Put(ctx context.Context, s *model.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.store[s.SessionID] = s.Clone()
	return nil
}

type fakeGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type countingTokens struct{ calls int }

func (c *countingTokens) Count(text string) int {
	c.calls++
	return len(strings.Fields(text))
}

func newNopLogger() *zerolog.Logger {
	nop := zerolog.Nop()
	return &nop
}

func newTestHandler(id string, repo *memSessionRepo, gen Generator) *SessionHandler {
	return NewSessionHandler(id, repo, gen, nil, SessionHandlerConfig{}, newNopLogger())
}

func requireRequestError(t *testing.T, err error, status int) *RequestError {
	t.Helper()
	var rerr *RequestError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RequestError, got %T %v", err, err)
	}
	if rerr.Status != status {
		t.Fatalf("status = %d, want %d (%s)", rerr.Status, status, rerr.Message)
	}
	return rerr
}

func TestSessionHandler_PersistsTwoExchanges(t *testing.T) {
	repo := newMemSessionRepo()
	gen := &fakeGenerator{reply: "Most likely pattern: regional outage"}
	h := newTestHandler("s1", repo, gen)
	ctx := context.Background()

	resp, err := h.Handle(ctx, model.SessionRequest{SessionID: "s1", UserText: "eu-west errors"})
	if err != nil {
		t.Fatalf("Handle #1: %v", err)
	}
	if resp.SessionID != "s1" || resp.Response != gen.reply {
		t.Fatalf("resp = %+v", resp)
	}
	if _, err := h.Handle(ctx, model.SessionRequest{SessionID: "s1", UserText: "retry spikes"}); err != nil {
		t.Fatalf("Handle #2: %v", err)
	}

	st := repo.store["s1"]
	if len(st.History) != 4 {
		t.Fatalf("history len = %d, want 4", len(st.History))
	}
	wantRoles := []model.Role{model.RoleUser, model.RoleAssistant, model.RoleUser, model.RoleAssistant}
	for i, r := range wantRoles {
		if st.History[i].Role != r {
			t.Fatalf("turn %d role = %s, want %s", i, st.History[i].Role, r)
		}
	}
	if st.History[2].Text != "retry spikes" {
		t.Fatalf("turn 2 text = %q", st.History[2].Text)
	}
	if !strings.Contains(gen.prompts[1], "[USER]: eu-west errors") {
		t.Fatalf("second prompt lacks prior history:\n%s", gen.prompts[1])
	}
}

func TestSessionHandler_HistoryCapped(t *testing.T) {
	repo := newMemSessionRepo()
	h := newTestHandler("s1", repo, &fakeGenerator{reply: "ok"})
	for i := 0; i < 15; i++ {
		if _, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "msg"}); err != nil {
			t.Fatalf("Handle %d: %v", i, err)
		}
	}
	if n := len(repo.store["s1"].History); n != model.DefaultMaxHistory {
		t.Fatalf("history len = %d, want %d", n, model.DefaultMaxHistory)
	}
}

func TestSessionHandler_RateLimit(t *testing.T) {
	repo := newMemSessionRepo()
	h := newTestHandler("s1", repo, &fakeGenerator{reply: "ok"})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	for i := 0; i < 20; i++ {
		if _, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "x"}); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	_, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "x"})
	rerr := requireRequestError(t, err, http.StatusTooManyRequests)
	if rerr.RetryAfter != time.Minute {
		t.Fatalf("RetryAfter = %v", rerr.RetryAfter)
	}
	if repo.puts != 20 {
		t.Fatalf("puts = %d, rejected request must not persist", repo.puts)
	}
	if repo.gets != 20 {
		t.Fatalf("gets = %d, rejected request must not read storage", repo.gets)
	}

	now = now.Add(61 * time.Second)
	if _, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "x"}); err != nil {
		t.Fatalf("after window: %v", err)
	}
}

func TestSessionHandler_UpstreamFailureLeavesStateUntouched(t *testing.T) {
	repo := newMemSessionRepo()
	repo.store["s1"] = &model.SessionState{
		SessionID: "s1",
		History:   []model.ConversationTurn{{Role: model.RoleUser, Text: "a"}, {Role: model.RoleAssistant, Text: "b"}},
	}
	gen := &fakeGenerator{err: derror.Classify(&adapter.UpstreamError{Status: http.StatusTooManyRequests, Message: "quota"})}
	h := newTestHandler("s1", repo, gen)

	_, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "c"})
	rerr := requireRequestError(t, err, http.StatusTooManyRequests)
	if !strings.Contains(rerr.Message, "rate-limited") {
		t.Fatalf("message = %q", rerr.Message)
	}
	if rerr.RetryAfter != time.Minute {
		t.Fatalf("RetryAfter = %v, want 1m", rerr.RetryAfter)
	}
	if repo.puts != 0 || len(repo.store["s1"].History) != 2 {
		t.Fatalf("state changed after failed generation")
	}
}

func TestSessionHandler_GenerationFailureLogEvent(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	gen := &fakeGenerator{err: derror.Timeout("20s")}
	h := NewSessionHandler("s1", newMemSessionRepo(), gen, nil, SessionHandlerConfig{}, &logger)

	_, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "x"})
	requireRequestError(t, err, http.StatusGatewayTimeout)
	out := buf.String()
	if !strings.Contains(out, `"message":"ai_generation_failed"`) {
		t.Fatalf("missing generation failure event:\n%s", out)
	}
	if strings.Contains(out, "session_reply_failed") {
		t.Fatalf("handler must leave session_reply_failed to the router:\n%s", out)
	}
}

func TestSessionHandler_GenerationStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"timeout", derror.Timeout("20s"), http.StatusGatewayTimeout, msgAITimeout},
		{"upstream down", &adapter.UpstreamError{Status: 503, Message: "unavailable"}, http.StatusBadGateway, msgAIFailed},
		{"invalid", errors.New("invalid input"), http.StatusBadRequest, msgAIFailed},
		{"empty", derror.EmptyResponse(), http.StatusBadGateway, msgAIFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler("s1", newMemSessionRepo(), &fakeGenerator{err: tc.err})
			_, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "x"})
			rerr := requireRequestError(t, err, tc.status)
			if rerr.Message != tc.msg {
				t.Fatalf("message = %q", rerr.Message)
			}
		})
	}
}

func TestSessionHandler_InvalidEnvelope(t *testing.T) {
	cases := []model.SessionRequest{
		{SessionID: "s1", UserText: "   "},
		{SessionID: "", UserText: "x"},
		{SessionID: "other", UserText: "x"},
	}
	for _, req := range cases {
		gen := &fakeGenerator{reply: "ok"}
		h := newTestHandler("s1", newMemSessionRepo(), gen)
		_, err := h.Handle(context.Background(), req)
		requireRequestError(t, err, http.StatusBadRequest)
		if len(gen.prompts) != 0 {
			t.Fatalf("generator called for invalid envelope %+v", req)
		}
	}
}

func TestSessionHandler_InvalidEnvelopeDoesNotConsumeRateLimit(t *testing.T) {
	repo := newMemSessionRepo()
	h := NewSessionHandler("s1", repo, &fakeGenerator{reply: "ok"}, nil, SessionHandlerConfig{RateLimit: 1}, newNopLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: " "})
		requireRequestError(t, err, http.StatusBadRequest)
	}
	if repo.gets != 0 {
		t.Fatalf("gets = %d, invalid envelope must not read storage", repo.gets)
	}
	if _, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "x"}); err != nil {
		t.Fatalf("first valid request: %v", err)
	}
	_, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "x"})
	requireRequestError(t, err, http.StatusTooManyRequests)
}

func TestSessionHandler_StoreFailures(t *testing.T) {
	t.Run("load", func(t *testing.T) {
		repo := newMemSessionRepo()
		repo.getErr = errors.New("connection refused")
		gen := &fakeGenerator{reply: "ok"}
		h := newTestHandler("s1", repo, gen)
		_, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "x"})
		rerr := requireRequestError(t, err, http.StatusInternalServerError)
		if rerr.Message != msgInternalFailure || len(gen.prompts) != 0 {
			t.Fatalf("unexpected outcome %+v prompts=%d", rerr, len(gen.prompts))
		}
	})
	t.Run("persist", func(t *testing.T) {
		repo := newMemSessionRepo()
		repo.putErr = errors.New("disk full")
		h := newTestHandler("s1", repo, &fakeGenerator{reply: "ok"})
		_, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "x"})
		requireRequestError(t, err, http.StatusInternalServerError)
	})
}

func TestSessionHandler_CountsPromptTokens(t *testing.T) {
	nop := zerolog.Nop()
	tokens := &countingTokens{}
	h := NewSessionHandler("s1", newMemSessionRepo(), &fakeGenerator{reply: "ok"}, tokens, SessionHandlerConfig{}, &nop)
	if _, err := h.Handle(context.Background(), model.SessionRequest{SessionID: "s1", UserText: "x"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if tokens.calls != 1 {
		t.Fatalf("token counter calls = %d", tokens.calls)
	}
}
