package ai

import (
	"context"

	"incident-assistant/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.AIServiceAdapter = (*limitedAI)(nil)

type limitedAI struct {
	inner adapter.AIServiceAdapter
	sem   chan struct{}
}

// NewLimitedAI caps the number of in-flight generation calls across all sessions.
func NewLimitedAI(inner adapter.AIServiceAdapter, maxConcurrent int) adapter.AIServiceAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAI{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAI) Provider() string { return l.inner.Provider() }

// Run waits for a slot. A call whose caller gave up while it was queued is
// dropped without reaching the provider.
func (l *limitedAI) Run(ctx context.Context, model string, in adapter.GenerationInput) ([]byte, error) {
	abandoned := adapter.Abandoned(ctx)
	select {
	case <-abandoned:
		return nil, adapter.ErrAbandoned
	default:
	}
	select {
	case l.sem <- struct{}{}:
	case <-abandoned:
		return nil, adapter.ErrAbandoned
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.sem }()
	// a slot and the abandon signal may become ready together
	select {
	case <-abandoned:
		return nil, adapter.ErrAbandoned
	default:
	}
	return l.inner.Run(ctx, model, in)
}
