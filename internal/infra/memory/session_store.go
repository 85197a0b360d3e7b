package memory

import (
	"context"
	"sync"

	"incident-assistant/internal/domain"
	"incident-assistant/internal/domain/model"
	"incident-assistant/internal/domain/ports/repository"
	"incident-assistant/internal/infra/metrics"
)

var _ repository.SessionStateRepository = (*SessionStore)(nil)

// SessionStore is a process-local store for development and single-node use.
// Records are copied on the way in and out.
type SessionStore struct {
	mu    sync.RWMutex
	items map[string]*model.SessionState
}

func NewSessionStore() *SessionStore {
	return &SessionStore{items: make(map[string]*model.SessionState)}
}

func (s *SessionStore) Get(ctx context.Context, id string) (*model.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.items[id]
	if !ok {
		metrics.IncStoreOp("memory", "get", "miss")
		return nil, domain.ErrNotFound
	}
	metrics.IncStoreOp("memory", "get", "hit")
	return st.Clone(), nil
}

func (s *SessionStore) Put(ctx context.Context, st *model.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[st.SessionID] = st.Clone()
	metrics.IncStoreOp("memory", "put", "ok")
	return nil
}

func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
