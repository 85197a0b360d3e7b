package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"incident-assistant/internal/domain"
	"incident-assistant/internal/domain/model"
	"incident-assistant/internal/infra/logging"
	"incident-assistant/internal/infra/metrics"
)

// SessionHandler is what the registry dispatches to; one instance per session id.
type SessionHandler interface {
	Handle(ctx context.Context, req model.SessionRequest) (*model.ChatResponse, error)
}

// HandlerFactory builds the handler for a session id the first time it is seen.
type HandlerFactory func(sessionID string) SessionHandler

// Locker guards a session id across replicas. Optional.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type RegistryOptions struct {
	Locker     Locker
	LockTTL    time.Duration
	LockPrefix string
}

type sessionSlot struct {
	mu       sync.Mutex // serializes Handle for this id
	handler  SessionHandler
	inflight int       // guarded by SessionRegistry.mu
	lastUsed time.Time // guarded by SessionRegistry.mu
}

// SessionRegistry keeps at most one live handler per session id and runs
// requests for the same id one at a time. Different ids run concurrently.
type SessionRegistry struct {
	mu      sync.Mutex
	slots   map[string]*sessionSlot
	closed  bool
	factory HandlerFactory
	opts    RegistryOptions
	now     func() time.Time
	log     *zerolog.Logger
}

func NewSessionRegistry(factory HandlerFactory, opts RegistryOptions, logger *zerolog.Logger) *SessionRegistry {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if opts.LockPrefix == "" {
		opts.LockPrefix = "lock:chat_session:"
	}
	rLog := logger.With().Str("component", "SessionRegistry").Logger()
	return &SessionRegistry{
		slots:   make(map[string]*sessionSlot),
		factory: factory,
		opts:    opts,
		now:     time.Now,
		log:     &rLog,
	}
}

// Dispatch routes req to the handler owning req.SessionID.
// Handler errors are returned unchanged; registry failures wrap a domain error.
func (r *SessionRegistry) Dispatch(ctx context.Context, req model.SessionRequest) (resp *model.ChatResponse, err error) {
	slot, err := r.acquire(req.SessionID)
	if err != nil {
		return nil, err
	}
	defer r.release(slot)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if r.opts.Locker != nil {
		key := r.opts.LockPrefix + req.SessionID
		token, lerr := r.opts.Locker.TryLock(ctx, key, r.opts.LockTTL)
		if lerr != nil {
			return nil, fmt.Errorf("lock session %s: %w", req.SessionID, domain.ErrSessionBusy)
		}
		defer func() {
			// the request is finished either way; a failed unlock only delays the next replica until TTL
			if uerr := r.opts.Locker.Unlock(context.WithoutCancel(ctx), key, token); uerr != nil {
				logging.With(ctx, r.log).Warn().Err(uerr).Str("session_id", req.SessionID).Msg("session_unlock_failed")
			}
		}()
	}

	defer func() {
		if rec := recover(); rec != nil {
			logging.With(ctx, r.log).Error().Interface("panic", rec).Str("session_id", req.SessionID).Msg("session_handler_panic")
			resp, err = nil, fmt.Errorf("session %s: handler panic: %v", req.SessionID, rec)
		}
	}()
	return slot.handler.Handle(ctx, req)
}

func (r *SessionRegistry) acquire(id string) (*sessionSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrRegistryClosed
	}
	slot, ok := r.slots[id]
	if !ok {
		slot = &sessionSlot{handler: r.factory(id)}
		r.slots[id] = slot
		metrics.SetRegistryActive(len(r.slots))
	}
	slot.inflight++
	slot.lastUsed = r.now()
	return slot, nil
}

func (r *SessionRegistry) release(slot *sessionSlot) {
	r.mu.Lock()
	slot.inflight--
	slot.lastUsed = r.now()
	r.mu.Unlock()
}

// Sweep evicts slots with no request in flight that were last used before now-idleTTL.
func (r *SessionRegistry) Sweep(now time.Time, idleTTL time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for id, slot := range r.slots {
		if slot.inflight == 0 && now.Sub(slot.lastUsed) > idleTTL {
			delete(r.slots, id)
			evicted++
		}
	}
	metrics.SetRegistryActive(len(r.slots))
	return evicted
}

func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Close rejects further dispatches. Requests already running finish normally.
func (r *SessionRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}
