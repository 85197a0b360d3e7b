package derror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"incident-assistant/internal/domain/ports/adapter"
)

// Code is the stable tag of a classified generation failure.
type Code string

const (
	CodeTimeout             Code = "ai_timeout"
	CodeRateLimited         Code = "ai_rate_limited"
	CodeUpstreamUnavailable Code = "ai_upstream_unavailable"
	CodeInvalidRequest      Code = "ai_invalid_request"
	CodeEmptyResponse       Code = "ai_empty_response"
	CodeUnknownFailure      Code = "ai_unknown_failure"
)

// ClassifiedError is a normalized generation failure. Build it with Classify,
// Timeout or EmptyResponse only.
type ClassifiedError struct {
	Code       Code
	HTTPStatus int
	Retryable  bool
	Message    string

	cause error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s (status=%d retryable=%t): %s", e.Code, e.HTTPStatus, e.Retryable, e.Message)
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

// Classify maps an arbitrary failure of the generation call onto a ClassifiedError.
// The first matching rule wins; unknown failures are treated as transient.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	msg := SafeMessage(err)
	lower := strings.ToLower(msg)
	status := statusOf(err)

	switch {
	case strings.Contains(lower, "timeout"):
		return newClassified(CodeTimeout, http.StatusGatewayTimeout, true, msg, err)
	case status == http.StatusTooManyRequests || strings.Contains(lower, "rate limit"):
		return newClassified(CodeRateLimited, http.StatusTooManyRequests, true, msg, err)
	case status >= 500:
		return newClassified(CodeUpstreamUnavailable, http.StatusBadGateway, true, msg, err)
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "bad request"):
		return newClassified(CodeInvalidRequest, http.StatusBadRequest, false, msg, err)
	default:
		return newClassified(CodeUnknownFailure, http.StatusBadGateway, true, msg, err)
	}
}

// Timeout is the classification used when the wait for a call is abandoned.
func Timeout(after string) *ClassifiedError {
	return newClassified(CodeTimeout, http.StatusGatewayTimeout, true, "AI request timeout after "+after, nil)
}

// EmptyResponse is the classification for a successful call without usable text.
func EmptyResponse() *ClassifiedError {
	return newClassified(CodeEmptyResponse, http.StatusBadGateway, true, "AI returned an empty response", nil)
}

// SafeMessage returns a non-empty description of err.
func SafeMessage(err error) string {
	if err == nil {
		return "Unknown error"
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return "Unknown error"
}

func statusOf(err error) int {
	var sc adapter.StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

func newClassified(code Code, status int, retryable bool, msg string, cause error) *ClassifiedError {
	return &ClassifiedError{
		Code:       code,
		HTTPStatus: status,
		Retryable:  retryable,
		Message:    msg,
		cause:      cause,
	}
}
