package postgres

import (
	"context"
	"fmt"

	"github.com/localnewslab/newsingest/internal/ingest"
)

// PatternStore loads active classification rules. Patterns are owned by the
// persistent store and read-only here; the classify cache refreshes them on
// a TTL.
type PatternStore struct {
	db DB
	// datasets maps a source name to the dataset its patterns are scoped
	// to. A source without an entry uses its own name as the dataset.
	datasets map[string]string
}

// NewPatternStore wires a PatternStore.
func NewPatternStore(db DB, datasets map[string]string) *PatternStore {
	return &PatternStore{db: db, datasets: datasets}
}

const loadPatternsSQL = `
SELECT value
FROM classification_patterns
WHERE pattern_type = $1 AND dataset = $2 AND active`

// Load returns the active pattern values for (source, kind).
func (s *PatternStore) Load(ctx context.Context, source string, kind ingest.PatternKind) ([]string, error) {
	dataset := source
	if mapped, ok := s.datasets[source]; ok && mapped != "" {
		dataset = mapped
	}
	rows, err := s.db.Query(ctx, loadPatternsSQL, kind, dataset)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan pattern row: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patterns: %w", err)
	}
	return values, nil
}
