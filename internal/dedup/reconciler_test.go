package dedup

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func expectDuplicateScan(mock pgxmock.PgxPoolIface, rows *pgxmock.Rows) {
	mock.ExpectQuery("SELECT id, url FROM content_records").WillReturnRows(rows)
}

func TestReconcileDryRunReportsCounts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// One duplicate group of three rows: the newest (id 9) is the keeper.
	expectDuplicateScan(mock, pgxmock.NewRows([]string{"id", "url"}).
		AddRow(int64(9), "https://a.example/story").
		AddRow(int64(5), "https://a.example/story").
		AddRow(int64(2), "https://a.example/story"))

	result, err := NewReconciler(mock, nil).Reconcile(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, ReconcileResult{DuplicateGroups: 1, RowsRemoved: 2, Applied: false}, result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileApplyDeletesLosersAndDependents(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectDuplicateScan(mock, pgxmock.NewRows([]string{"id", "url"}).
		AddRow(int64(9), "https://a.example/story").
		AddRow(int64(5), "https://a.example/story").
		AddRow(int64(7), "https://b.example/story").
		AddRow(int64(3), "https://b.example/story"))

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM content_labels").
		WithArgs(int64(5), int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM content_entities").
		WithArgs(int64(5), int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("DELETE FROM content_records").
		WithArgs(int64(5), int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	result, err := NewReconciler(mock, nil).Reconcile(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, ReconcileResult{DuplicateGroups: 2, RowsRemoved: 2, Applied: true}, result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileIdempotentWhenClean(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectDuplicateScan(mock, pgxmock.NewRows([]string{"id", "url"}))

	result, err := NewReconciler(mock, nil).Reconcile(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, ReconcileResult{}, result)
	require.NoError(t, mock.ExpectationsWereMet())
}
