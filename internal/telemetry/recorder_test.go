package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/localnewslab/newsingest/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func driftErr() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "telemetry_pkey"}
}

func TestRecordAssignsID(t *testing.T) {
	t.Parallel()
	metrics.Init()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	mock.ExpectQuery("INSERT INTO telemetry").
		WithArgs([]byte(`{"stage":"extract"}`), clock.now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, ok := NewRecorder(mock, clock, nil).Record(context.Background(), map[string]string{"stage": "extract"})
	require.True(t, ok)
	require.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordResyncsSequenceDriftAndRetriesOnce(t *testing.T) {
	t.Parallel()
	metrics.Init()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	mock.ExpectQuery("INSERT INTO telemetry").
		WithArgs(pgxmock.AnyArg(), clock.now).
		WillReturnError(driftErr())
	mock.ExpectExec("SELECT setval").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("INSERT INTO telemetry").
		WithArgs(pgxmock.AnyArg(), clock.now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(101)))

	id, ok := NewRecorder(mock, clock, nil).Record(context.Background(), map[string]string{"stage": "label"})
	require.True(t, ok)
	require.Equal(t, int64(101), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDropsWhenRetryFailsAgain(t *testing.T) {
	t.Parallel()
	metrics.Init()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	mock.ExpectQuery("INSERT INTO telemetry").
		WithArgs(pgxmock.AnyArg(), clock.now).
		WillReturnError(driftErr())
	mock.ExpectExec("SELECT setval").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	// Exactly one retry; a second drift means something else owns the ids.
	mock.ExpectQuery("INSERT INTO telemetry").
		WithArgs(pgxmock.AnyArg(), clock.now).
		WillReturnError(driftErr())

	id, ok := NewRecorder(mock, clock, nil).Record(context.Background(), map[string]string{"stage": "label"})
	require.False(t, ok)
	require.Zero(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDropsWhenResyncFails(t *testing.T) {
	t.Parallel()
	metrics.Init()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	mock.ExpectQuery("INSERT INTO telemetry").
		WithArgs(pgxmock.AnyArg(), clock.now).
		WillReturnError(driftErr())
	mock.ExpectExec("SELECT setval").
		WillReturnError(errors.New("permission denied"))

	id, ok := NewRecorder(mock, clock, nil).Record(context.Background(), map[string]string{"stage": "label"})
	require.False(t, ok)
	require.Zero(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDropsOnUnrelatedErrorWithoutResync(t *testing.T) {
	t.Parallel()
	metrics.Init()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	mock.ExpectQuery("INSERT INTO telemetry").
		WithArgs(pgxmock.AnyArg(), clock.now).
		WillReturnError(errors.New("connection refused"))

	id, ok := NewRecorder(mock, clock, nil).Record(context.Background(), map[string]string{"stage": "label"})
	require.False(t, ok)
	require.Zero(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordDropsUnserializablePayload(t *testing.T) {
	t.Parallel()
	metrics.Init()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	id, ok := NewRecorder(mock, clock, nil).Record(context.Background(), make(chan int))
	require.False(t, ok)
	require.Zero(t, id)
	require.NoError(t, mock.ExpectationsWereMet())
}
