package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/localnewslab/newsingest/internal/backoff"
	"github.com/localnewslab/newsingest/internal/classify"
	"github.com/localnewslab/newsingest/internal/dedup"
	"github.com/localnewslab/newsingest/internal/detector"
	sha256hash "github.com/localnewslab/newsingest/internal/hash/sha256"
	"github.com/localnewslab/newsingest/internal/ingest"
	"github.com/localnewslab/newsingest/internal/metrics"
	"github.com/localnewslab/newsingest/internal/storage/postgres"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type stubPatterns struct{}

func (stubPatterns) Load(context.Context, string, ingest.PatternKind) ([]string, error) {
	return nil, nil
}

// scriptedFetcher returns a canned response per URL and counts calls.
type scriptedFetcher struct {
	mu        sync.Mutex
	calls     int
	responses map[string]ingest.FetchResponse
	errs      map[string]error
}

func (f *scriptedFetcher) Fetch(_ context.Context, req ingest.FetchRequest) (ingest.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.responses[req.URL], f.errs[req.URL]
}

type flakyPublisher struct {
	failOn    map[int64]bool
	published []int64
}

func (p *flakyPublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	sample, ok := payload.(ingest.CuratedSample)
	if !ok {
		return "", errors.New("unexpected payload type")
	}
	if p.failOn[sample.ContentID] {
		return "", errors.New("broker unavailable")
	}
	p.published = append(p.published, sample.ContentID)
	return "m-1", nil
}

func newTestPacer(t *testing.T, clock ingest.Clock) *backoff.Controller {
	t.Helper()
	ctrl, err := backoff.New(context.Background(), backoff.Config{
		Source:      "gazette",
		Base:        time.Hour,
		Max:         4 * time.Hour,
		RecoveryRun: 3,
	}, nil, clock, nil)
	require.NoError(t, err)
	return ctrl
}

func articleBody() []byte {
	return []byte("<html><body>" +
		strings.Repeat("<p>City officials confirmed the water treatment plan on Tuesday.</p>", 20) +
		"</body></html>")
}

func TestVerifyDispositionsIsolatePerRow(t *testing.T) {
	t.Parallel()
	metrics.Init()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := stubClock{now: time.Unix(1700000000, 0).UTC()}
	fetcher := &scriptedFetcher{
		responses: map[string]ingest.FetchResponse{
			"https://www.dailygazette.com/a": {StatusCode: 200, Body: articleBody()},
			"https://www.dailygazette.com/b": {StatusCode: 404},
			"https://www.dailygazette.com/d": {StatusCode: 429},
		},
		errs: map[string]error{
			"https://www.dailygazette.com/c": errors.New("connection reset"),
		},
	}

	at := clock.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, url, source, status, discovered_at").
		WithArgs("gazette", ingest.CandidateDiscovered, 4).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "source", "status", "discovered_at"}).
			AddRow(int64(1), "https://www.dailygazette.com/a", "gazette", ingest.CandidateDiscovered, at).
			AddRow(int64(2), "https://www.dailygazette.com/b", "gazette", ingest.CandidateDiscovered, at).
			AddRow(int64(3), "https://www.dailygazette.com/c", "gazette", ingest.CandidateDiscovered, at).
			AddRow(int64(4), "https://www.dailygazette.com/d", "gazette", ingest.CandidateDiscovered, at))
	mock.ExpectExec("UPDATE candidate_links SET status").
		WithArgs(ingest.CandidateVerified, int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE candidate_links SET status").
		WithArgs(ingest.CandidateRejected, int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	o, err := New(Config{Source: "gazette", BatchSize: 4}, Deps{
		Store:  postgres.NewPipelineStore(mock),
		Pacer:  newTestPacer(t, clock),
		Probe:  fetcher,
		Blocks: detector.NewHeuristic(0),
		Clock:  clock,
	})
	require.NoError(t, err)

	// One clean row advances, one gone row rejects, one transient failure
	// and one rate-limited row stay claimed for a later cycle. None of
	// them aborts the batch.
	require.NoError(t, o.Verify(context.Background()))
	require.Equal(t, 4, fetcher.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyStopsConsumingDuringSuspension(t *testing.T) {
	t.Parallel()
	metrics.Init()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := stubClock{now: time.Unix(1700000000, 0).UTC()}
	pacer := newTestPacer(t, clock)
	require.NoError(t, pacer.RecordResponse(context.Background(), ingest.SignalSoftBlock))

	at := clock.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, url, source, status, discovered_at").
		WithArgs("gazette", ingest.CandidateDiscovered, 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "source", "status", "discovered_at"}).
			AddRow(int64(1), "https://www.dailygazette.com/a", "gazette", ingest.CandidateDiscovered, at).
			AddRow(int64(2), "https://www.dailygazette.com/b", "gazette", ingest.CandidateDiscovered, at))
	mock.ExpectCommit()

	fetcher := &scriptedFetcher{}
	o, err := New(Config{Source: "gazette", BatchSize: 2}, Deps{
		Store:  postgres.NewPipelineStore(mock),
		Pacer:  pacer,
		Probe:  fetcher,
		Blocks: detector.NewHeuristic(0),
		Clock:  clock,
	})
	require.NoError(t, err)

	// The suspension window must not be slept out inside the open batch
	// transaction: no fetches, no row updates, an immediate commit.
	done := make(chan error, 1)
	go func() { done <- o.Verify(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("verify held the batch open during a suspension window")
	}
	require.Zero(t, fetcher.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExtractRowFailureKeepsBatchGoing(t *testing.T) {
	t.Parallel()
	metrics.Init()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := stubClock{now: time.Unix(1700000000, 0).UTC()}
	fetcher := &scriptedFetcher{
		responses: map[string]ingest.FetchResponse{
			"https://www.dailygazette.com/b": {StatusCode: 200, Body: articleBody()},
		},
		errs: map[string]error{
			"https://www.dailygazette.com/a": errors.New("connection reset"),
		},
	}

	at := clock.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, url, source, status, discovered_at").
		WithArgs("gazette", ingest.CandidateVerified, 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "url", "source", "status", "discovered_at"}).
			AddRow(int64(1), "https://www.dailygazette.com/a", "gazette", ingest.CandidateVerified, at).
			AddRow(int64(2), "https://www.dailygazette.com/b", "gazette", ingest.CandidateVerified, at))
	mock.ExpectExec("INSERT INTO content_records").
		WithArgs(int64(2), "https://www.dailygazette.com/b",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			ingest.ContentExtracted, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE candidate_links SET status").
		WithArgs(ingest.CandidateExtracted, int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	o, err := New(Config{Source: "gazette", BatchSize: 2}, Deps{
		Store:      postgres.NewPipelineStore(mock),
		Gatekeeper: dedup.NewGatekeeper(mock),
		Pacer:      newTestPacer(t, clock),
		Probe:      fetcher,
		Blocks:     detector.NewHeuristic(0),
		Hasher:     sha256hash.New(),
		Clock:      clock,
	})
	require.NoError(t, err)

	// The first row's fetch fails; the second still lands a content record
	// and advances to extracted.
	require.NoError(t, o.Extract(context.Background()))
	require.Equal(t, 2, fetcher.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanStripsChromeAndAdvancesRow(t *testing.T) {
	t.Parallel()
	metrics.Init()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := stubClock{now: time.Unix(1700000000, 0).UTC()}
	article := "City officials confirmed Tuesday that the water treatment upgrade " +
		"will finish ahead of schedule, crediting a mild winter and an early " +
		"equipment delivery for the progress made since the project began."
	raw := "Facebook Twitter WhatsApp SMS Email\n\n" + article + "\n\nBack to top"

	at := clock.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT c.id, c.candidate_link_id, c.url, c.title, c.text, c.text_hash, c.status, c.extracted_at").
		WithArgs("gazette", ingest.ContentExtracted, 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "candidate_link_id", "url", "title", "text", "text_hash", "status", "extracted_at"}).
			AddRow(int64(7), int64(1), "https://www.dailygazette.com/a", "Upgrade", raw, "oldhash", ingest.ContentExtracted, at))
	mock.ExpectExec("UPDATE content_records SET text").
		WithArgs(article, pgxmock.AnyArg(), ingest.ContentCleaned, int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	o, err := New(Config{Source: "gazette", BatchSize: 2}, Deps{
		Store:  postgres.NewPipelineStore(mock),
		Boiler: classify.NewBoilerplateDetector(nil, 0),
		Hasher: sha256hash.New(),
		Clock:  clock,
	})
	require.NoError(t, err)

	require.NoError(t, o.Clean(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLabelPublishFailureLeavesRowCleaned(t *testing.T) {
	t.Parallel()
	metrics.Init()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	clock := stubClock{now: time.Unix(1700000000, 0).UTC()}
	pub := &flakyPublisher{failOn: map[int64]bool{5: true}}
	cache := classify.NewCache(stubPatterns{}, clock, time.Minute, nil)

	at := clock.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT c.id, c.candidate_link_id, c.url, c.title, c.text, c.text_hash, c.status, c.extracted_at").
		WithArgs("gazette", ingest.ContentCleaned, 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "candidate_link_id", "url", "title", "text", "text_hash", "status", "extracted_at"}).
			AddRow(int64(5), int64(1), "https://www.dailygazette.com/a", "A", "Local council story.", "h5", ingest.ContentCleaned, at).
			AddRow(int64(6), int64(2), "https://www.dailygazette.com/b", "B", "Another local story.", "h6", ingest.ContentCleaned, at))
	mock.ExpectExec("UPDATE content_records SET status").
		WithArgs(ingest.ContentLabeled, int64(6)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	o, err := New(Config{Source: "gazette", BatchSize: 2, Topic: "curated-samples"}, Deps{
		Store:      postgres.NewPipelineStore(mock),
		Classifier: classify.NewClassifier(cache, nil, nil),
		Publisher:  pub,
		Clock:      clock,
	})
	require.NoError(t, err)

	// The failed publish leaves row 5 in cleaned so a later batch
	// republishes it; row 6 publishes and advances.
	require.NoError(t, o.Label(context.Background()))
	require.Equal(t, []int64{6}, pub.published)
	require.NoError(t, mock.ExpectationsWereMet())
}
