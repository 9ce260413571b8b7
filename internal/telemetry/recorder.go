// Package telemetry writes best-effort pipeline events to a durable log.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/localnewslab/newsingest/internal/ingest"
	"github.com/localnewslab/newsingest/internal/metrics"
)

const pgUniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the recorder needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Recorder appends telemetry rows. A unique violation on the id column is
// evidence the identifier sequence has drifted behind the stored maximum
// (e.g. a bulk import bypassed normal allocation); the recorder resyncs the
// sequence and retries exactly once, then degrades to a dropped event. It
// never raises an error that would abort the operation it instruments.
type Recorder struct {
	db     DB
	clock  ingest.Clock
	logger *zap.Logger
}

// NewRecorder wires a Recorder.
func NewRecorder(db DB, clock ingest.Clock, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{db: db, clock: clock, logger: logger}
}

const (
	insertEventSQL = `INSERT INTO telemetry (payload, created_at) VALUES ($1, $2) RETURNING id`
	resyncSQL      = `SELECT setval(pg_get_serial_sequence('telemetry', 'id'),
		(SELECT COALESCE(MAX(id), 0) + 1 FROM telemetry), false)`
)

// Record appends one event. It returns the assigned id and whether the
// event was durably recorded; a dropped event returns (0, false) after a
// local warning. The call returns normally either way.
func (r *Recorder) Record(ctx context.Context, payload any) (int64, bool) {
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("telemetry payload not serializable; dropping event", zap.Error(err))
		metrics.ObserveTelemetry("dropped")
		return 0, false
	}

	// Bounded state machine: attempt, resync on drift, retry once, give up.
	id, err := r.insert(ctx, body)
	if err == nil {
		metrics.ObserveTelemetry("recorded")
		return id, true
	}
	if !isSequenceDrift(err) {
		r.logger.Warn("telemetry insert failed; dropping event", zap.Error(err))
		metrics.ObserveTelemetry("dropped")
		return 0, false
	}

	r.logger.Warn("telemetry id sequence drifted; resyncing", zap.Error(err))
	metrics.ObserveTelemetry("resynced")
	if resyncErr := r.resync(ctx); resyncErr != nil {
		r.logger.Warn("telemetry sequence resync failed; dropping event", zap.Error(resyncErr))
		metrics.ObserveTelemetry("dropped")
		return 0, false
	}

	id, err = r.insert(ctx, body)
	if err != nil {
		r.logger.Warn("telemetry retry failed after resync; dropping event", zap.Error(err))
		metrics.ObserveTelemetry("dropped")
		return 0, false
	}
	metrics.ObserveTelemetry("recorded")
	return id, true
}

func (r *Recorder) insert(ctx context.Context, body []byte) (int64, error) {
	var id int64
	if err := r.db.QueryRow(ctx, insertEventSQL, body, r.clock.Now()).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert telemetry: %w", err)
	}
	return id, nil
}

func (r *Recorder) resync(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, resyncSQL); err != nil {
		return fmt.Errorf("resync telemetry sequence: %w", err)
	}
	return nil
}

// isSequenceDrift reports whether err is a unique violation on the id key.
func isSequenceDrift(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation
}
