package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleylabs/parley/pkg/types"
)

const ddlHistoryMessages = `
CREATE TABLE IF NOT EXISTS history_messages (
    id          BIGSERIAL    PRIMARY KEY,
    role        TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_history_messages_created_at
    ON history_messages (created_at);
`

// Migrate ensures the history table exists. It is idempotent and safe to call
// on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlHistoryMessages); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

var _ Store = (*PGStore)(nil)

// PGStore persists the conversation in a PostgreSQL history_messages table.
// The caller owns the pool lifecycle; PGStore never closes it.
type PGStore struct {
	pool     *pgxpool.Pool
	maxTurns int
}

// NewPGStore creates a PostgreSQL-backed store on an existing pool. Run
// [Migrate] before first use.
func NewPGStore(pool *pgxpool.Pool, opts ...Option) (*PGStore, error) {
	if pool == nil {
		return nil, errors.New("history: pool must not be nil")
	}
	cfg := config{maxTurns: DefaultMaxTurns}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &PGStore{pool: pool, maxTurns: cfg.maxTurns}, nil
}

// Load implements [Store]. Messages are returned in insertion order.
func (s *PGStore) Load(ctx context.Context) ([]types.Message, error) {
	const q = `
		SELECT role, content
		FROM   history_messages
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("history: load: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Message, error) {
		var m types.Message
		err := row.Scan(&m.Role, &m.Content)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan rows: %w", err)
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	return msgs, nil
}

// Append implements [Store]. The user row is inserted before the assistant row
// so id order matches conversation order, then rows beyond the turn budget are
// deleted oldest first.
func (s *PGStore) Append(ctx context.Context, user, assistant types.Message) error {
	const insert = `
		INSERT INTO history_messages (role, content)
		VALUES ($1, $2), ($3, $4)`

	_, err := s.pool.Exec(ctx, insert,
		user.Role,
		user.Content,
		assistant.Role,
		assistant.Content,
	)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}

	if s.maxTurns <= 0 {
		return nil
	}

	const prune = `
		DELETE FROM history_messages
		WHERE  id NOT IN (
		    SELECT id
		    FROM   history_messages
		    ORDER  BY id DESC
		    LIMIT  $1)`

	if _, err := s.pool.Exec(ctx, prune, s.maxTurns*2); err != nil {
		return fmt.Errorf("history: prune: %w", err)
	}
	return nil
}

// Clear implements [Store].
func (s *PGStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM history_messages`); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}
