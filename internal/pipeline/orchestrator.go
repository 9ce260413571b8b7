// Package pipeline sequences discovery, verification, extraction, cleaning,
// and labeling batches for one source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/localnewslab/newsingest/internal/backoff"
	"github.com/localnewslab/newsingest/internal/classify"
	"github.com/localnewslab/newsingest/internal/dedup"
	"github.com/localnewslab/newsingest/internal/ingest"
	"github.com/localnewslab/newsingest/internal/metrics"
	"github.com/localnewslab/newsingest/internal/storage/postgres"
	"github.com/localnewslab/newsingest/internal/telemetry"
)

// Config controls Orchestrator behavior for one source.
type Config struct {
	Source          string
	IndexURLs       []string
	Dataset         string
	BatchSize       int
	RequestTimeout  time.Duration
	HeadlessAllowed bool
	BlobPrefix      string
	ContentType     string
	Topic           string
}

// Orchestrator drives one source through the stage graph
// discovered -> verified -> extracted -> cleaned -> labeled. Stage order is
// strictly forward; the manual reprocess path lives on the store, not here.
type Orchestrator struct {
	cfg        Config
	store      *postgres.PipelineStore
	gate       *dedup.Gatekeeper
	pacer      *backoff.Controller
	classifier *classify.Classifier
	boiler     *classify.BoilerplateDetector
	probe      ingest.Fetcher
	headless   ingest.Fetcher
	blocks     ingest.SoftBlockDetector
	blobs      ingest.BlobStore
	publisher  ingest.Publisher
	hasher     ingest.Hasher
	clock      ingest.Clock
	ids        ingest.IDGenerator
	emitter    *telemetry.Emitter
	logger     *zap.Logger

	cycleID string
}

// Deps bundles the collaborators an Orchestrator needs.
type Deps struct {
	Store      *postgres.PipelineStore
	Gatekeeper *dedup.Gatekeeper
	Pacer      *backoff.Controller
	Classifier *classify.Classifier
	Boiler     *classify.BoilerplateDetector
	Probe      ingest.Fetcher
	Headless   ingest.Fetcher
	Blocks     ingest.SoftBlockDetector
	Blobs      ingest.BlobStore
	Publisher  ingest.Publisher
	Hasher     ingest.Hasher
	Clock      ingest.Clock
	IDs        ingest.IDGenerator
	Emitter    *telemetry.Emitter
	Logger     *zap.Logger
}

// New constructs an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("source is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      deps.Store,
		gate:       deps.Gatekeeper,
		pacer:      deps.Pacer,
		classifier: deps.Classifier,
		boiler:     deps.Boiler,
		probe:      deps.Probe,
		headless:   deps.Headless,
		blocks:     deps.Blocks,
		blobs:      deps.Blobs,
		publisher:  deps.Publisher,
		hasher:     deps.Hasher,
		clock:      deps.Clock,
		ids:        deps.IDs,
		emitter:    deps.Emitter,
		logger:     logger,
	}, nil
}

// RunCycle executes one pass over every stage. Stage failures abort the
// remainder of the cycle for this source only.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.cycleID = ""
	if o.ids != nil {
		if id, err := o.ids.NewID(); err == nil {
			o.cycleID = id
		}
	}
	stages := []struct {
		name string
		run  func(context.Context) error
	}{
		{"discover", o.Discover},
		{"verify", o.Verify},
		{"extract", o.Extract},
		{"clean", o.Clean},
		{"label", o.Label},
	}
	for _, stage := range stages {
		if err := stage.run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("%s stage: %w", stage.name, err)
		}
	}
	return nil
}

// errSourceSuspended reports that the pacer is inside a suspension window.
// Stages treat it as a batch-level stop, not a row failure: claimed rows
// unlock at commit and a later cycle picks them up once the window passes.
var errSourceSuspended = errors.New("source suspended")

// pacedFetch waits out the source's current interval draw, performs one
// fetch with a hard execution deadline, classifies the outcome, and feeds
// the signal to the backoff controller. A deadline expiry counts as a soft
// block, not a distinct error path. An active suspension is never slept
// out here; the caller gets errSourceSuspended and decides what to defer.
func (o *Orchestrator) pacedFetch(ctx context.Context, url string) (ingest.FetchResponse, ingest.Signal, error) {
	delay, suspended, err := o.pacer.NextDelay(ctx)
	if err != nil {
		return ingest.FetchResponse{}, ingest.SignalHardError, err
	}
	if suspended {
		o.logger.Debug("fetch skipped, suspension active",
			zap.String("url", url),
			zap.Duration("remaining", delay),
		)
		return ingest.FetchResponse{}, ingest.SignalSoftBlock, errSourceSuspended
	}
	metrics.ObserveBackoffDelay(o.cfg.Source, delay)
	if err := sleepCtx(ctx, delay); err != nil {
		return ingest.FetchResponse{}, ingest.SignalHardError, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	resp, err := o.probe.Fetch(fetchCtx, ingest.FetchRequest{Source: o.cfg.Source, URL: url})
	signal := o.classifySignal(resp, err)

	if signal == ingest.SignalSoftBlock && o.shouldEscalate(resp, err) {
		if rendered, ok := o.escalate(ctx, url); ok {
			resp, err, signal = rendered, nil, ingest.SignalOK
		}
	}

	metrics.ObserveFetch(o.cfg.Source, string(signal))
	if recErr := o.pacer.RecordResponse(ctx, signal); recErr != nil {
		o.logger.Warn("backoff state update failed", zap.Error(recErr))
	}
	return resp, signal, err
}

func (o *Orchestrator) classifySignal(resp ingest.FetchResponse, err error) ingest.Signal {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ingest.SignalSoftBlock
		}
		return ingest.SignalHardError
	}
	if o.blocks.IsSoftBlock(resp) {
		return ingest.SignalSoftBlock
	}
	return ingest.SignalOK
}

func (o *Orchestrator) shouldEscalate(resp ingest.FetchResponse, err error) bool {
	if !o.cfg.HeadlessAllowed || o.headless == nil || err != nil {
		return false
	}
	return o.blocks.NeedsRendering(resp)
}

// escalate retries a JS-walled probe with a headless browser.
func (o *Orchestrator) escalate(ctx context.Context, url string) (ingest.FetchResponse, bool) {
	metrics.ObserveHeadlessEscalation()
	rendered, err := o.headless.Fetch(ctx, ingest.FetchRequest{
		Source:      o.cfg.Source,
		URL:         url,
		UseHeadless: true,
	})
	if err != nil {
		o.logger.Warn("headless escalation failed", zap.String("url", url), zap.Error(err))
		return ingest.FetchResponse{}, false
	}
	if o.blocks.IsSoftBlock(rendered) {
		return ingest.FetchResponse{}, false
	}
	return rendered, true
}

func (o *Orchestrator) emit(stage, url string, rowID int64, note string) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(telemetry.Event{
		Cycle:  o.cycleID,
		Stage:  stage,
		Source: o.cfg.Source,
		URL:    url,
		RowID:  rowID,
		Note:   note,
		TS:     o.clock.Now(),
	})
}

// sleepCtx pauses without outliving the context.
func sleepCtx(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
