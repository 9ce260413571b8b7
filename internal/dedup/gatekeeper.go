// Package dedup guards the content store against duplicate records.
package dedup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/localnewslab/newsingest/internal/ingest"
)

// Outcome is the result of an insert attempt.
type Outcome string

// Insert outcomes. A conflicting insert is a no-op, not an error.
const (
	OutcomeCreated          Outcome = "created"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
)

// DB is the subset of pgxpool.Pool the gatekeeper needs; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Gatekeeper performs atomic insert-or-skip for content records. The url
// uniqueness constraint is the sole correctness mechanism against races
// between independently scheduled extraction workers; no in-process locking
// is assumed or required.
type Gatekeeper struct {
	db DB
}

// NewGatekeeper wires a Gatekeeper over the given connection pool.
func NewGatekeeper(db DB) *Gatekeeper {
	return &Gatekeeper{db: db}
}

const insertContentSQL = `
INSERT INTO content_records (candidate_link_id, url, title, text, text_hash, status, extracted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (url) DO NOTHING`

// InsertContent inserts the record unless a record for its url already
// exists. Both racing workers return without error; exactly one row
// survives.
func (g *Gatekeeper) InsertContent(ctx context.Context, rec ingest.ContentRecord) (Outcome, error) {
	if rec.URL == "" {
		return "", fmt.Errorf("record url is required")
	}
	status := rec.Status
	if status == "" {
		status = ingest.ContentExtracted
	}
	tag, err := g.db.Exec(ctx, insertContentSQL,
		rec.CandidateLinkID,
		rec.URL,
		rec.Title,
		rec.Text,
		rec.TextHash,
		status,
		rec.ExtractedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return OutcomeSkippedDuplicate, nil
	}
	return OutcomeCreated, nil
}
