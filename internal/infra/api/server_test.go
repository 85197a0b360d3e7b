//go:build !integration

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"incident-assistant/internal/domain"
	"incident-assistant/internal/domain/model"
	"incident-assistant/internal/usecase"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	reqs []model.SessionRequest
	err  error
	fn   func(req model.SessionRequest) (*model.ChatResponse, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req model.SessionRequest) (*model.ChatResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.ChatResponse{SessionID: req.SessionID, Response: "analysis"}, nil
}

func newTestServer(d Dispatcher) http.Handler {
	nop := zerolog.Nop()
	s := NewServer(d, &nop, false)
	s.newSessionID = func() string { return "generated-id" }
	return s.Routes()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rec.Body.String())
	}
}

func TestChat_Success(t *testing.T) {
	d := &fakeDispatcher{}
	h := newTestServer(d)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonRequest(`{"message":"db latency","sessionId":"s-1"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp model.ChatResponse
	decodeBody(t, rec, &resp)
	if resp.SessionID != "s-1" || resp.Response != "analysis" {
		t.Fatalf("resp = %+v", resp)
	}
	if rec.Header().Get(HeaderRequestID) == "" {
		t.Fatal("missing X-Request-ID")
	}
	if d.reqs[0].UserText != "db latency" {
		t.Fatalf("forwarded = %+v", d.reqs[0])
	}
}

func TestChat_AssignsSessionID(t *testing.T) {
	d := &fakeDispatcher{}
	rec := httptest.NewRecorder()
	newTestServer(d).ServeHTTP(rec, jsonRequest(`{"message":"hi","sessionId":"   "}`))

	var resp model.ChatResponse
	decodeBody(t, rec, &resp)
	if resp.SessionID != "generated-id" || d.reqs[0].SessionID != "generated-id" {
		t.Fatalf("session id not assigned: %+v", resp)
	}
}

func TestChat_UnknownRoutesAre404(t *testing.T) {
	h := newTestServer(&fakeDispatcher{})
	cases := []struct{ method, path string }{
		{http.MethodGet, ChatPath},
		{http.MethodPut, ChatPath},
		{http.MethodPost, "/other"},
		{http.MethodGet, "/"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: status = %d", tc.method, tc.path, rec.Code)
		}
		var body model.ErrorResponse
		decodeBody(t, rec, &body)
		if body.Error != msgNotFound {
			t.Fatalf("body = %+v", body)
		}
	}
}

func TestChat_ParserRejectionSkipsDispatch(t *testing.T) {
	d := &fakeDispatcher{}
	rec := httptest.NewRecorder()
	newTestServer(d).ServeHTTP(rec, jsonRequest(`{"message":""}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body model.ErrorResponse
	decodeBody(t, rec, &body)
	if body.Error != msgMessageRequired {
		t.Fatalf("error = %q", body.Error)
	}
	if len(d.reqs) != 0 {
		t.Fatal("dispatcher must not be called")
	}
}

func TestChat_SessionRateLimitSetsRetryAfter(t *testing.T) {
	d := &fakeDispatcher{err: &usecase.RequestError{
		Status:     http.StatusTooManyRequests,
		Message:    "Too many requests for this session. Please wait a minute and try again.",
		RetryAfter: time.Minute,
	}}
	rec := httptest.NewRecorder()
	newTestServer(d).ServeHTTP(rec, jsonRequest(`{"message":"hi","sessionId":"s"}`))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q", got)
	}
}

func TestChat_UpstreamRateLimitDefaultsRetryAfter(t *testing.T) {
	d := &fakeDispatcher{err: &usecase.RequestError{
		Status:  http.StatusTooManyRequests,
		Message: "The analysis service is rate-limited right now. Please retry shortly.",
	}}
	rec := httptest.NewRecorder()
	newTestServer(d).ServeHTTP(rec, jsonRequest(`{"message":"hi","sessionId":"s"}`))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want 60", got)
	}
}

func TestChat_UpstreamErrorPassesStatusAndMessage(t *testing.T) {
	d := &fakeDispatcher{err: &usecase.RequestError{Status: http.StatusGatewayTimeout, Message: "timed out"}}
	rec := httptest.NewRecorder()
	newTestServer(d).ServeHTTP(rec, jsonRequest(`{"message":"hi"}`))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Fatal("Retry-After only applies to 429 responses")
	}
	var body model.ErrorResponse
	decodeBody(t, rec, &body)
	if body.Error != "timed out" {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestChat_DispatchFailureIs500(t *testing.T) {
	for _, err := range []error{domain.ErrRegistryClosed, domain.ErrSessionBusy, errors.New("boom")} {
		rec := httptest.NewRecorder()
		newTestServer(&fakeDispatcher{err: err}).ServeHTTP(rec, jsonRequest(`{"message":"hi"}`))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%v: status = %d", err, rec.Code)
		}
		var body model.ErrorResponse
		decodeBody(t, rec, &body)
		if body.Error != msgDispatchFailed {
			t.Fatalf("error = %q", body.Error)
		}
	}
}

func TestChat_PanicIsRecovered(t *testing.T) {
	d := &fakeDispatcher{fn: func(model.SessionRequest) (*model.ChatResponse, error) { panic("kaboom") }}
	rec := httptest.NewRecorder()
	newTestServer(d).ServeHTTP(rec, jsonRequest(`{"message":"hi"}`))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), msgDispatchFailed) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
