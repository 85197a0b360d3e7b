package adapter

import (
	"context"
	"errors"
	"fmt"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// GenerationInput is the payload handed to the text-generation service.
type GenerationInput struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// AIServiceAdapter is the port for the text-generation call.
//
// Run returns the raw JSON body of a successful call. Accepted shapes are a bare
// JSON string, an object with a "response" string, or an object with
// "result.response". Providers whose SDK returns plain text encode it as one of those.
type AIServiceAdapter interface {
	Run(ctx context.Context, model string, in GenerationInput) ([]byte, error)
	Provider() string
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// UpstreamError is the error shape adapters return for non-2xx replies.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream http %d", e.Status)
	}
	return fmt.Sprintf("upstream http %d: %s", e.Status, e.Message)
}

func (e *UpstreamError) StatusCode() int { return e.Status }

// ErrAbandoned is returned by wrappers that drop a call whose caller stopped
// waiting before the call started.
var ErrAbandoned = errors.New("generation call abandoned before start")

type abandonKey struct{}

// WithAbandon attaches a signal that is closed once the caller no longer waits
// for the result. Unlike cancellation it must not interrupt a call in flight;
// it only lets queued calls be skipped.
func WithAbandon(ctx context.Context, abandoned <-chan struct{}) context.Context {
	return context.WithValue(ctx, abandonKey{}, abandoned)
}

// Abandoned returns the signal set by WithAbandon, or nil when there is none.
func Abandoned(ctx context.Context) <-chan struct{} {
	ch, _ := ctx.Value(abandonKey{}).(<-chan struct{})
	return ch
}
