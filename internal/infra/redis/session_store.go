package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"incident-assistant/internal/domain"
	"incident-assistant/internal/domain/model"
	"incident-assistant/internal/domain/ports/repository"
	"incident-assistant/internal/infra/metrics"
	"incident-assistant/internal/infra/security"
)

var _ repository.SessionStateRepository = (*SessionStore)(nil)

// SessionStore keeps one record per session id under prefix+id.
// A zero ttl stores records without expiry.
type SessionStore struct {
	client RedisClient
	codec  *security.StateCodec
	prefix string
	ttl    time.Duration
}

func NewSessionStore(client RedisClient, codec *security.StateCodec, prefix string, ttl time.Duration) *SessionStore {
	if codec == nil {
		codec = &security.StateCodec{}
	}
	return &SessionStore{client: client, codec: codec, prefix: prefix, ttl: ttl}
}

func (s *SessionStore) key(id string) string { return s.prefix + id }

func (s *SessionStore) Get(ctx context.Context, id string) (*model.SessionState, error) {
	data, err := s.client.Get(ctx, s.key(id))
	if errors.Is(err, redis.Nil) {
		metrics.IncStoreOp("redis", "get", "miss")
		return nil, domain.ErrNotFound
	}
	if err != nil {
		metrics.IncStoreOp("redis", "get", "error")
		return nil, fmt.Errorf("redis get %s: %w", s.key(id), err)
	}
	st, err := s.codec.Decode([]byte(data))
	if err != nil {
		metrics.IncStoreOp("redis", "get", "error")
		return nil, err
	}
	metrics.IncStoreOp("redis", "get", "hit")
	return st, nil
}

func (s *SessionStore) Put(ctx context.Context, st *model.SessionState) error {
	data, err := s.codec.Encode(st)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(st.SessionID), data, s.ttl); err != nil {
		metrics.IncStoreOp("redis", "put", "error")
		return fmt.Errorf("redis set %s: %w", s.key(st.SessionID), err)
	}
	metrics.IncStoreOp("redis", "put", "ok")
	return nil
}
