package dedup

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
)

// ReconcileResult reports exact affected counts. Counts are computed before
// any row is touched; in dry-run mode nothing is mutated.
type ReconcileResult struct {
	DuplicateGroups int  `json:"duplicate_groups"`
	RowsRemoved     int  `json:"rows_removed"`
	Applied         bool `json:"applied"`
}

// Reconciler removes pre-existing duplicate content rows. It must run, and
// finish with zero remaining duplicate groups, before the url uniqueness
// constraint can be introduced on an existing store.
type Reconciler struct {
	db     DB
	logger *zap.Logger
}

// NewReconciler wires a Reconciler.
func NewReconciler(db DB, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{db: db, logger: logger}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Reconcile groups existing records by url and, for each group with more
// than one row, retains the row with the maximum extracted_at. In apply
// mode the losers and their dependent label and entity rows are deleted in
// one transaction. The operation is idempotent: a second run reports zero
// duplicate groups.
func (r *Reconciler) Reconcile(ctx context.Context, dryRun bool) (ReconcileResult, error) {
	groups, victims, err := r.collect(ctx)
	if err != nil {
		return ReconcileResult{}, err
	}
	result := ReconcileResult{
		DuplicateGroups: groups,
		RowsRemoved:     len(victims),
	}
	r.logger.Info("duplicate reconciliation scan",
		zap.Int("duplicate_groups", groups),
		zap.Int("rows_to_remove", len(victims)),
		zap.Bool("dry_run", dryRun),
	)
	if dryRun || len(victims) == 0 {
		return result, nil
	}

	if err := r.apply(ctx, victims); err != nil {
		return ReconcileResult{}, err
	}
	result.Applied = true
	return result, nil
}

// collect returns the duplicate group count and the ids losing to the row
// with maximal extracted_at (ties broken by highest id).
func (r *Reconciler) collect(ctx context.Context) (int, []int64, error) {
	dupURLs, _, err := psql.
		Select("url").
		From("content_records").
		GroupBy("url").
		Having("COUNT(*) > 1").
		ToSql()
	if err != nil {
		return 0, nil, fmt.Errorf("build duplicate group query: %w", err)
	}

	query, args, err := psql.
		Select("id", "url").
		From("content_records").
		Where(sq.Expr("url IN (" + dupURLs + ")")).
		OrderBy("url", "extracted_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return 0, nil, fmt.Errorf("build duplicate scan query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("scan duplicates: %w", err)
	}
	defer rows.Close()

	var (
		groups  int
		victims []int64
		lastURL string
	)
	for rows.Next() {
		var (
			id  int64
			url string
		)
		if err := rows.Scan(&id, &url); err != nil {
			return 0, nil, fmt.Errorf("scan duplicate row: %w", err)
		}
		if url != lastURL {
			groups++
			lastURL = url
			continue // first row per url is the keeper
		}
		victims = append(victims, id)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate duplicates: %w", err)
	}
	return groups, victims, nil
}

// apply deletes the losing rows and their dependents atomically.
func (r *Reconciler) apply(ctx context.Context, victims []int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	ids := make([]any, len(victims))
	for i, id := range victims {
		ids[i] = id
	}

	for _, dependent := range []string{"content_labels", "content_entities"} {
		query, args, err := psql.
			Delete(dependent).
			Where(sq.Eq{"content_record_id": ids}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build %s delete: %w", dependent, err)
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("delete %s: %w", dependent, err)
		}
	}

	query, args, err := psql.
		Delete("content_records").
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build content delete: %w", err)
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete duplicate content: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reconcile tx: %w", err)
	}
	r.logger.Info("duplicate rows removed", zap.Int64("rows", tag.RowsAffected()))
	return nil
}
