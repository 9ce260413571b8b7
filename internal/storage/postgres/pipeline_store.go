package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/localnewslab/newsingest/internal/ingest"
)

// ErrNotFound is returned when a targeted row does not exist.
var ErrNotFound = errors.New("not found")

// Querier is satisfied by both the pool and a pgx.Tx; claim and transition
// queries run on a batch transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PipelineStore holds the row claim and status transition queries for stage
// processing. All coordination between workers runs through these queries;
// FOR UPDATE SKIP LOCKED guarantees two concurrent batch runs never claim
// the same row.
type PipelineStore struct {
	db DB
}

// NewPipelineStore wires a PipelineStore.
func NewPipelineStore(db DB) *PipelineStore {
	return &PipelineStore{db: db}
}

// Begin opens a batch transaction. The whole batch commits or none of it
// does; a crash mid-batch leaves no partially visible state change.
func (s *PipelineStore) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin batch tx: %w", err)
	}
	return tx, nil
}

const insertCandidateSQL = `
INSERT INTO candidate_links (url, source, status, discovered_at)
SELECT $1, $2, $3, $4
WHERE NOT EXISTS (SELECT 1 FROM candidate_links WHERE url = $1)`

// InsertCandidate records a discovered URL unless it is already known.
func (s *PipelineStore) InsertCandidate(ctx context.Context, url, source string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, insertCandidateSQL, url, source, ingest.CandidateDiscovered, at)
	if err != nil {
		return false, fmt.Errorf("insert candidate: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const claimCandidatesSQL = `
SELECT id, url, source, status, discovered_at
FROM candidate_links
WHERE source = $1 AND status = $2
ORDER BY id
LIMIT $3
FOR UPDATE SKIP LOCKED`

// ClaimCandidates locks up to limit candidate rows in the expected status,
// skipping rows already claimed by a concurrent worker.
func (s *PipelineStore) ClaimCandidates(
	ctx context.Context,
	q Querier,
	source string,
	status ingest.CandidateStatus,
	limit int,
) ([]ingest.CandidateLink, error) {
	rows, err := q.Query(ctx, claimCandidatesSQL, source, status, limit)
	if err != nil {
		return nil, fmt.Errorf("claim candidates: %w", err)
	}
	defer rows.Close()

	var links []ingest.CandidateLink
	for rows.Next() {
		var link ingest.CandidateLink
		if err := rows.Scan(&link.ID, &link.URL, &link.Source, &link.Status, &link.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return links, nil
}

const updateCandidateStatusSQL = `UPDATE candidate_links SET status = $1 WHERE id = $2`

// UpdateCandidateStatus advances one claimed candidate row.
func (s *PipelineStore) UpdateCandidateStatus(
	ctx context.Context,
	q Querier,
	id int64,
	status ingest.CandidateStatus,
) error {
	if _, err := q.Exec(ctx, updateCandidateStatusSQL, status, id); err != nil {
		return fmt.Errorf("update candidate %d: %w", id, err)
	}
	return nil
}

const claimContentSQL = `
SELECT c.id, c.candidate_link_id, c.url, c.title, c.text, c.text_hash, c.status, c.extracted_at
FROM content_records c
JOIN candidate_links l ON l.id = c.candidate_link_id
WHERE l.source = $1 AND c.status = $2
ORDER BY c.id
LIMIT $3
FOR UPDATE OF c SKIP LOCKED`

// ClaimContent locks up to limit content rows in the expected status.
func (s *PipelineStore) ClaimContent(
	ctx context.Context,
	q Querier,
	source string,
	status ingest.ContentStatus,
	limit int,
) ([]ingest.ContentRecord, error) {
	rows, err := q.Query(ctx, claimContentSQL, source, status, limit)
	if err != nil {
		return nil, fmt.Errorf("claim content: %w", err)
	}
	defer rows.Close()

	var records []ingest.ContentRecord
	for rows.Next() {
		var rec ingest.ContentRecord
		err := rows.Scan(
			&rec.ID,
			&rec.CandidateLinkID,
			&rec.URL,
			&rec.Title,
			&rec.Text,
			&rec.TextHash,
			&rec.Status,
			&rec.ExtractedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan content row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content: %w", err)
	}
	return records, nil
}

const updateContentStatusSQL = `UPDATE content_records SET status = $1 WHERE id = $2`

// UpdateContentStatus advances one claimed content row.
func (s *PipelineStore) UpdateContentStatus(
	ctx context.Context,
	q Querier,
	id int64,
	status ingest.ContentStatus,
) error {
	if _, err := q.Exec(ctx, updateContentStatusSQL, status, id); err != nil {
		return fmt.Errorf("update content %d: %w", id, err)
	}
	return nil
}

const updateContentTextSQL = `
UPDATE content_records SET text = $1, text_hash = $2, status = $3 WHERE id = $4`

// UpdateContentText rewrites the cleaned text alongside the status advance.
func (s *PipelineStore) UpdateContentText(
	ctx context.Context,
	q Querier,
	id int64,
	text, textHash string,
	status ingest.ContentStatus,
) error {
	if _, err := q.Exec(ctx, updateContentTextSQL, text, textHash, status, id); err != nil {
		return fmt.Errorf("update content text %d: %w", id, err)
	}
	return nil
}

const reprocessContentSQL = `UPDATE content_records SET status = $1 WHERE id = $2`

// ReprocessContent is the explicit manual path backward through the stage
// graph. Nothing in the automated pipeline calls it.
func (s *PipelineStore) ReprocessContent(ctx context.Context, id int64, status ingest.ContentStatus) error {
	tag, err := s.db.Exec(ctx, reprocessContentSQL, status, id)
	if err != nil {
		return fmt.Errorf("reprocess content %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reprocess content %d: %w", id, ErrNotFound)
	}
	return nil
}
