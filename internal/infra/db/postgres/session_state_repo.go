package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"incident-assistant/internal/domain"
	"incident-assistant/internal/domain/model"
	"incident-assistant/internal/domain/ports/repository"
	"incident-assistant/internal/infra/metrics"
	"incident-assistant/internal/infra/security"
)

var _ repository.SessionStateRepository = (*SessionStateRepo)(nil)

// executor is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type executor interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

// SessionStateRepo stores one row per session id; the state column holds the
// codec output (JSON, optionally sealed).
type SessionStateRepo struct {
	db    executor
	codec *security.StateCodec
}

func NewSessionStateRepo(db executor, codec *security.StateCodec) *SessionStateRepo {
	if codec == nil {
		codec = &security.StateCodec{}
	}
	return &SessionStateRepo{db: db, codec: codec}
}

func (r *SessionStateRepo) Get(ctx context.Context, id string) (*model.SessionState, error) {
	const q = `SELECT state FROM chat_session_states WHERE session_id = $1;`
	var data []byte
	if err := r.db.QueryRow(ctx, q, id).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			metrics.IncStoreOp("postgres", "get", "miss")
			return nil, domain.ErrNotFound
		}
		metrics.IncStoreOp("postgres", "get", "error")
		return nil, fmt.Errorf("get session state: %w", describe(err))
	}
	st, err := r.codec.Decode(data)
	if err != nil {
		metrics.IncStoreOp("postgres", "get", "error")
		return nil, err
	}
	metrics.IncStoreOp("postgres", "get", "hit")
	return st, nil
}

func (r *SessionStateRepo) Put(ctx context.Context, st *model.SessionState) error {
	const q = `
INSERT INTO chat_session_states (session_id, state, created_at, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (session_id) DO UPDATE SET
  state = EXCLUDED.state,
  updated_at = NOW();`
	data, err := r.codec.Encode(st)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, q, st.SessionID, data, st.CreatedAt); err != nil {
		metrics.IncStoreOp("postgres", "put", "error")
		return fmt.Errorf("save session state: %w", describe(err))
	}
	metrics.IncStoreOp("postgres", "put", "ok")
	return nil
}

// describe adds the SQLSTATE to server-side errors.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("sqlstate %s: %w", pgErr.Code, err)
	}
	return err
}
