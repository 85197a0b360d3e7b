package repository

import (
	"context"

	"incident-assistant/internal/domain/model"
)

// -----------------------------
// Session state
// -----------------------------

// SessionStateRepository is the durable load/save primitive behind a session.
// Get returns domain.ErrNotFound when nothing is stored for the id.
type SessionStateRepository interface {
	Get(ctx context.Context, sessionID string) (*model.SessionState, error)
	Put(ctx context.Context, state *model.SessionState) error
}
