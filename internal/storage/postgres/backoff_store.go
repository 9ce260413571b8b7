// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/localnewslab/newsingest/internal/backoff"
)

// DB is the subset of pgxpool.Pool these stores need; pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BackoffStore persists per-source pacing state. Updates are last-writer-
// wins except backoff_until, which only ever moves forward: GREATEST in the
// upsert preserves the invariant regardless of write ordering across
// workers.
type BackoffStore struct {
	db DB
}

// NewBackoffStore wires a BackoffStore.
func NewBackoffStore(db DB) *BackoffStore {
	return &BackoffStore{db: db}
}

const (
	getBackoffSQL = `
SELECT min_interval, max_interval, consecutive_soft_blocks, backoff_until
FROM source_backoff_state
WHERE source = $1`

	upsertBackoffSQL = `
INSERT INTO source_backoff_state (source, min_interval, max_interval, consecutive_soft_blocks, backoff_until)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (source) DO UPDATE SET
	min_interval = EXCLUDED.min_interval,
	max_interval = EXCLUDED.max_interval,
	consecutive_soft_blocks = EXCLUDED.consecutive_soft_blocks,
	backoff_until = GREATEST(source_backoff_state.backoff_until, EXCLUDED.backoff_until)`

	clearBackoffSQL = `
UPDATE source_backoff_state
SET consecutive_soft_blocks = 0, backoff_until = NULL
WHERE source = $1`
)

// Get loads the state for a source. The second return is false when the
// source has never been crawled.
func (s *BackoffStore) Get(ctx context.Context, source string) (backoff.State, bool, error) {
	var (
		minSeconds  int64
		maxSeconds  int64
		consecutive int
		until       *time.Time
	)
	err := s.db.QueryRow(ctx, getBackoffSQL, source).
		Scan(&minSeconds, &maxSeconds, &consecutive, &until)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return backoff.State{}, false, nil
		}
		return backoff.State{}, false, fmt.Errorf("get backoff state: %w", err)
	}
	st := backoff.State{
		Source:                source,
		MinInterval:           time.Duration(minSeconds) * time.Second,
		MaxInterval:           time.Duration(maxSeconds) * time.Second,
		ConsecutiveSoftBlocks: consecutive,
	}
	if until != nil {
		st.BackoffUntil = *until
	}
	return st, true, nil
}

// Upsert writes the state, creating the row lazily on first crawl.
func (s *BackoffStore) Upsert(ctx context.Context, st backoff.State) error {
	var until *time.Time
	if !st.BackoffUntil.IsZero() {
		until = &st.BackoffUntil
	}
	_, err := s.db.Exec(ctx, upsertBackoffSQL,
		st.Source,
		int64(st.MinInterval/time.Second),
		int64(st.MaxInterval/time.Second),
		st.ConsecutiveSoftBlocks,
		until,
	)
	if err != nil {
		return fmt.Errorf("upsert backoff state: %w", err)
	}
	return nil
}

// Clear resets the suspension after a completed cooldown. This is the only
// path that moves backoff_until backward.
func (s *BackoffStore) Clear(ctx context.Context, source string) error {
	if _, err := s.db.Exec(ctx, clearBackoffSQL, source); err != nil {
		return fmt.Errorf("clear backoff state: %w", err)
	}
	return nil
}
