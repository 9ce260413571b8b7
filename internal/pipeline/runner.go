package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry pairs one source's orchestrator with its pacing between cycles.
type Entry struct {
	Source       string
	Orchestrator *Orchestrator
	BatchSleep   time.Duration
}

// Runner drives every configured source concurrently. Each source runs its
// own cycle loop; one source's failures never stall another.
type Runner struct {
	entries []Entry
	logger  *zap.Logger
}

// NewRunner constructs a Runner over the given entries.
func NewRunner(entries []Entry, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{entries: entries, logger: logger}
}

// Run blocks until ctx is canceled, looping every source through
// cycle-then-sleep.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, entry := range r.entries {
		wg.Add(1)
		go func(entry Entry) {
			defer wg.Done()
			r.runSource(ctx, entry)
		}(entry)
	}
	wg.Wait()
}

func (r *Runner) runSource(ctx context.Context, entry Entry) {
	logger := r.logger.With(zap.String("source", entry.Source))
	logger.Info("source loop started", zap.Duration("batch_sleep", entry.BatchSleep))
	for {
		start := time.Now()
		if err := entry.Orchestrator.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				logger.Info("source loop stopped")
				return
			}
			logger.Error("cycle failed", zap.Error(err))
		} else {
			logger.Debug("cycle complete", zap.Duration("elapsed", time.Since(start)))
		}
		if err := sleepCtx(ctx, entry.BatchSleep); err != nil {
			logger.Info("source loop stopped")
			return
		}
	}
}
