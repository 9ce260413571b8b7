// Package backoff implements per-source crawl pacing and suspension windows.
package backoff

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/localnewslab/newsingest/internal/ingest"
)

// State mirrors one source_backoff_state row.
type State struct {
	Source                string
	MinInterval           time.Duration
	MaxInterval           time.Duration
	ConsecutiveSoftBlocks int
	BackoffUntil          time.Time
}

// Store persists State across worker processes. Implementations must keep
// BackoffUntil monotonically non-decreasing under concurrent upserts.
type Store interface {
	Get(ctx context.Context, source string) (State, bool, error)
	Upsert(ctx context.Context, st State) error
	Clear(ctx context.Context, source string) error
}

// Config carries the pacing bounds for one source.
type Config struct {
	Source      string
	MinInterval time.Duration
	MaxInterval time.Duration
	Base        time.Duration
	Max         time.Duration
	// RecoveryRun is how many consecutive ok signals decay the soft-block
	// counter by one step.
	RecoveryRun int
}

// Controller governs inter-request delay for a single source. Escalation is
// exponential; recovery is a single linear step per sustained-success run, so
// a source that just stopped blocking is not immediately hammered again.
type Controller struct {
	cfg    Config
	store  Store
	clock  ingest.Clock
	policy DecayPolicy
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	successRun int
}

// New builds a Controller, loading any persisted state for the source.
// A nil store keeps all state in-process.
func New(ctx context.Context, cfg Config, store Store, clock ingest.Clock, logger *zap.Logger) (*Controller, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("source is required")
	}
	if cfg.Base <= 0 || cfg.Max < cfg.Base {
		return nil, fmt.Errorf("backoff bounds must satisfy 0 < base <= max")
	}
	if cfg.RecoveryRun <= 0 {
		cfg.RecoveryRun = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		cfg:    cfg,
		store:  store,
		clock:  clock,
		policy: SingleStepDecay{Run: cfg.RecoveryRun},
		logger: logger,
		state: State{
			Source:      cfg.Source,
			MinInterval: cfg.MinInterval,
			MaxInterval: cfg.MaxInterval,
		},
	}
	if store != nil {
		st, ok, err := store.Get(ctx, cfg.Source)
		if err != nil {
			return nil, fmt.Errorf("load backoff state: %w", err)
		}
		if ok {
			c.state.ConsecutiveSoftBlocks = st.ConsecutiveSoftBlocks
			c.state.BackoffUntil = st.BackoffUntil
		}
	}
	return c, nil
}

// SetDecayPolicy replaces the recovery policy. The default is SingleStepDecay.
func (c *Controller) SetDecayPolicy(p DecayPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p != nil {
		c.policy = p
	}
}

// RecordResponse feeds one fetch outcome into the state machine.
// Hard errors are a different failure class and leave pacing untouched.
func (c *Controller) RecordResponse(ctx context.Context, signal ingest.Signal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch signal {
	case ingest.SignalSoftBlock:
		c.successRun = 0
		c.state.ConsecutiveSoftBlocks++
		window := escalation(c.cfg.Base, c.cfg.Max, c.state.ConsecutiveSoftBlocks)
		until := c.clock.Now().Add(window)
		// Never move an existing suspension earlier.
		if until.After(c.state.BackoffUntil) {
			c.state.BackoffUntil = until
		}
		c.logger.Warn("soft block recorded",
			zap.Int("consecutive", c.state.ConsecutiveSoftBlocks),
			zap.Duration("window", window),
			zap.Time("backoff_until", c.state.BackoffUntil),
		)
		return c.persist(ctx)
	case ingest.SignalOK:
		c.successRun++
		next, clear := c.policy.OnSuccess(c.state.ConsecutiveSoftBlocks, c.successRun)
		if next != c.state.ConsecutiveSoftBlocks || clear {
			c.state.ConsecutiveSoftBlocks = next
			c.successRun = 0
			if clear {
				c.state.BackoffUntil = time.Time{}
				if c.store != nil {
					if err := c.store.Clear(ctx, c.cfg.Source); err != nil {
						return fmt.Errorf("clear backoff state: %w", err)
					}
				}
				return nil
			}
			return c.persist(ctx)
		}
		return nil
	case ingest.SignalHardError:
		return nil
	default:
		return fmt.Errorf("unknown signal %q", signal)
	}
}

// NextDelay returns how long the caller must wait before the next fetch
// and whether that wait is the remainder of an active suspension rather
// than an ordinary interval draw. Batch callers should stop fetching when
// a suspension is reported instead of sleeping it out; windows run to
// hours, far longer than any transaction should stay open.
func (c *Controller) NextDelay(ctx context.Context) (time.Duration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil {
		// Another worker of the same source may have escalated since our
		// last write; pick up the later suspension.
		st, ok, err := c.store.Get(ctx, c.cfg.Source)
		if err != nil {
			return 0, false, fmt.Errorf("refresh backoff state: %w", err)
		}
		if ok {
			if st.BackoffUntil.After(c.state.BackoffUntil) {
				c.state.BackoffUntil = st.BackoffUntil
			}
			if st.ConsecutiveSoftBlocks > c.state.ConsecutiveSoftBlocks {
				c.state.ConsecutiveSoftBlocks = st.ConsecutiveSoftBlocks
			}
		}
	}

	now := c.clock.Now()
	if now.Before(c.state.BackoffUntil) {
		return c.state.BackoffUntil.Sub(now), true, nil
	}
	return uniformDraw(c.cfg.MinInterval, c.cfg.MaxInterval), false, nil
}

// Snapshot returns a copy of the current state for inspection.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) persist(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Upsert(ctx, c.state); err != nil {
		return fmt.Errorf("persist backoff state: %w", err)
	}
	return nil
}

// escalation computes min(base * 2^(n-1), max) with overflow protection.
func escalation(base, max time.Duration, consecutive int) time.Duration {
	if consecutive < 1 {
		consecutive = 1
	}
	window := base
	for i := 1; i < consecutive; i++ {
		window *= 2
		if window >= max || window < 0 {
			return max
		}
	}
	if window > max {
		return max
	}
	return window
}

func uniformDraw(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := big.NewInt(int64(max - min))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return min + (max-min)/2
	}
	return min + time.Duration(n.Int64())
}
