// Package classify decides content origin and strips boilerplate chrome.
package classify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/localnewslab/newsingest/internal/ingest"
)

// PatternStore loads active classification rules for a source and kind.
type PatternStore interface {
	Load(ctx context.Context, source string, kind ingest.PatternKind) ([]string, error)
}

// DefaultPatternTTL bounds how stale cached rules may get.
const DefaultPatternTTL = 5 * time.Minute

type cacheKey struct {
	source string
	kind   ingest.PatternKind
}

type cacheEntry struct {
	patterns  []string
	fetchedAt time.Time
}

// Cache is a read-through, TTL-bounded cache over a PatternStore. On a store
// failure it serves the last good value if one exists, otherwise an empty
// set: classification fails open rather than blocking the pipeline.
type Cache struct {
	store  PatternStore
	clock  ingest.Clock
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// NewCache builds a Cache. A zero ttl uses DefaultPatternTTL.
func NewCache(store PatternStore, clock ingest.Clock, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultPatternTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:   store,
		clock:   clock,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Get returns the active patterns for (source, kind), refreshing from the
// store when the cached value has aged past the TTL.
func (c *Cache) Get(ctx context.Context, source string, kind ingest.PatternKind) []string {
	key := cacheKey{source: source, kind: kind}
	now := c.clock.Now()

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && now.Sub(entry.fetchedAt) < c.ttl {
		patterns := entry.patterns
		c.mu.Unlock()
		return patterns
	}
	c.mu.Unlock()

	patterns, err := c.store.Load(ctx, source, kind)
	if err != nil {
		c.logger.Warn("pattern refresh failed; serving cached value",
			zap.String("source", source),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if ok {
			return entry.patterns
		}
		return nil
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{patterns: patterns, fetchedAt: now}
	c.mu.Unlock()
	return patterns
}
