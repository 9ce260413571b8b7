// Package main wires together the news ingestion service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/localnewslab/newsingest/internal/api"
	"github.com/localnewslab/newsingest/internal/backoff"
	"github.com/localnewslab/newsingest/internal/classify"
	"github.com/localnewslab/newsingest/internal/clock/system"
	"github.com/localnewslab/newsingest/internal/config"
	"github.com/localnewslab/newsingest/internal/dedup"
	"github.com/localnewslab/newsingest/internal/detector"
	collyfetcher "github.com/localnewslab/newsingest/internal/fetcher/colly"
	headlessfetcher "github.com/localnewslab/newsingest/internal/fetcher/headless"
	"github.com/localnewslab/newsingest/internal/hash/sha256"
	iduuid "github.com/localnewslab/newsingest/internal/id/uuid"
	"github.com/localnewslab/newsingest/internal/ingest"
	"github.com/localnewslab/newsingest/internal/logging"
	"github.com/localnewslab/newsingest/internal/metrics"
	"github.com/localnewslab/newsingest/internal/pipeline"
	memorypublisher "github.com/localnewslab/newsingest/internal/publisher/memory"
	pubsubpublisher "github.com/localnewslab/newsingest/internal/publisher/pubsub"
	gcsstorage "github.com/localnewslab/newsingest/internal/storage/gcs"
	localstorage "github.com/localnewslab/newsingest/internal/storage/local"
	memorystorage "github.com/localnewslab/newsingest/internal/storage/memory"
	"github.com/localnewslab/newsingest/internal/storage/postgres"
	"github.com/localnewslab/newsingest/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer pool.Close()

	clock := system.New()
	hasher := sha256.New()
	idGen := iduuid.New()

	pipelineStore := postgres.NewPipelineStore(pool)
	backoffStore := postgres.NewBackoffStore(pool)
	gatekeeper := dedup.NewGatekeeper(pool)
	reconciler := dedup.NewReconciler(pool, logger.Named("dedup"))
	recorder := telemetry.NewRecorder(pool, clock, logger.Named("telemetry"))
	emitter := telemetry.NewEmitter(recorder, 0, logger.Named("telemetry"))

	datasets := make(map[string]string, len(cfg.Sources))
	callsignDomains := make(map[string]map[string]string, len(cfg.Sources))
	for name, src := range cfg.Sources {
		datasets[name] = src.Dataset
		callsignDomains[name] = src.CallsignDomains
	}
	patternCache := classify.NewCache(
		postgres.NewPatternStore(pool, datasets),
		clock,
		cfg.Pipeline.PatternTTL,
		logger.Named("patterns"),
	)
	classifier := classify.NewClassifier(patternCache, callsignDomains, logger.Named("classify"))
	boiler := classify.NewBoilerplateDetector(patternCache, cfg.Pipeline.MinSegment)

	blocks := detector.NewHeuristic(0)
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.Fetch.RequestTimeout,
	})
	var headless ingest.Fetcher = headlessfetcher.NewNoop()
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.Headless.NavTimeout,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = hf
		}
	}

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	publisher, err := newPublisher(ctx, cfg.PubSub)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}

	var entries []pipeline.Entry
	for name, src := range cfg.Sources {
		if err := config.ValidateSource(name, src); err != nil {
			var srcErr *config.SourceConfigError
			if errors.As(err, &srcErr) {
				logger.Error("source skipped", zap.String("source", name), zap.String("reason", srcErr.Reason))
				continue
			}
			logger.Fatal("source validation failed", zap.Error(err))
		}
		pacer, err := backoff.New(ctx, backoff.Config{
			Source:      name,
			MinInterval: src.MinInterval,
			MaxInterval: src.MaxInterval,
			Base:        src.BackoffBase,
			Max:         src.BackoffMax,
			RecoveryRun: src.RecoveryRun,
		}, backoffStore, clock, logger.Named("backoff").With(zap.String("source", name)))
		if err != nil {
			logger.Error("source skipped", zap.String("source", name), zap.Error(err))
			continue
		}
		orch, err := pipeline.New(pipeline.Config{
			Source:          name,
			IndexURLs:       src.IndexURLs,
			Dataset:         src.Dataset,
			BatchSize:       cfg.Pipeline.BatchSize,
			RequestTimeout:  cfg.Fetch.RequestTimeout,
			HeadlessAllowed: cfg.Headless.Enabled && src.HeadlessAllowed,
			BlobPrefix:      cfg.Storage.Prefix,
			ContentType:     cfg.Storage.ContentType,
			Topic:           cfg.PubSub.TopicName,
		}, pipeline.Deps{
			Store:      pipelineStore,
			Gatekeeper: gatekeeper,
			Pacer:      pacer,
			Classifier: classifier,
			Boiler:     boiler,
			Probe:      probe,
			Headless:   headless,
			Blocks:     blocks,
			Blobs:      blobs,
			Publisher:  publisher,
			Hasher:     hasher,
			Clock:      clock,
			IDs:        idGen,
			Emitter:    emitter,
			Logger:     logging.ForSource(logger, name),
		})
		if err != nil {
			logger.Error("source skipped", zap.String("source", name), zap.Error(err))
			continue
		}
		entries = append(entries, pipeline.Entry{
			Source:       name,
			Orchestrator: orch,
			BatchSleep:   src.BatchSleep,
		})
	}
	if len(entries) == 0 {
		logger.Warn("no runnable sources configured")
	}
	runner := pipeline.NewRunner(entries, logger.Named("pipeline"))

	apiServer := api.NewServer(pool, reconciler, pipelineStore, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		logger.Info("pipeline started", zap.Int("sources", len(entries)))
		runner.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	// Let the source loops finish emitting before the drain starts.
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline still running at shutdown deadline")
	}
	if err := emitter.Close(shutdownCtx); err != nil {
		logger.Error("telemetry drain error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (ingest.BlobStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return memorystorage.NewBlobStore(), nil
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newPublisher(ctx context.Context, cfg config.PubSubConfig) (ingest.Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return pubsubpublisher.New(client), nil
}
