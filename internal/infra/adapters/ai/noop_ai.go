package ai

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"incident-assistant/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter implements adapter.AIServiceAdapter for local/dev testing.
// It answers with a fixed analysis skeleton instead of calling a model.
type NoopAIAdapter struct {
	delay time.Duration
}

func NewNoopAIAdapter(delay time.Duration) *NoopAIAdapter {
	return &NoopAIAdapter{delay: delay}
}

func (a *NoopAIAdapter) Provider() string { return "noop" }

func (a *NoopAIAdapter) Run(ctx context.Context, model string, in adapter.GenerationInput) ([]byte, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var last string
	for _, m := range in.Messages {
		if m.Role == "user" {
			last = m.Content
		}
	}
	reply := strings.Join([]string{
		"Most likely pattern: unknown (noop provider)",
		"Top 3 hypotheses: none generated",
		"What to check next: configure a real AI provider",
		"What would change my mind: a real model response",
		"",
		"Prompt size: " + strconv.Itoa(len(last)) + " bytes",
	}, "\n")
	return json.Marshal(map[string]string{"response": reply})
}
