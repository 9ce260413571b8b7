package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Event is the shape of pipeline telemetry payloads.
type Event struct {
	Cycle  string    `json:"cycle,omitempty"`
	Stage  string    `json:"stage"`
	Source string    `json:"source,omitempty"`
	URL    string    `json:"url,omitempty"`
	RowID  int64     `json:"row_id,omitempty"`
	Note   string    `json:"note,omitempty"`
	TS     time.Time `json:"ts"`
}

// Emitter buffers events and writes them through a Recorder on a background
// goroutine, so workers never block on the telemetry write path. A full
// buffer drops the event with a rate-limited warning.
// Shutdown is signaled on a separate channel; the events channel is never
// closed, so a producer racing Close can at worst have its event dropped.
type Emitter struct {
	recorder *Recorder
	events   chan Event
	stop     chan struct{}
	done     chan struct{}
	logger   *zap.Logger

	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Int64
	lastWarn  atomic.Int64
}

const (
	defaultEmitterBuffer = 1024
	dropWarnInterval     = 5 * time.Second
)

// NewEmitter starts the background writer. A non-positive buffer uses the
// default.
func NewEmitter(recorder *Recorder, buffer int, logger *zap.Logger) *Emitter {
	if buffer <= 0 {
		buffer = defaultEmitterBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Emitter{
		recorder: recorder,
		events:   make(chan Event, buffer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go e.run()
	return e
}

// Emit enqueues an event. It never blocks the caller.
func (e *Emitter) Emit(evt Event) {
	if e == nil || e.closed.Load() {
		return
	}
	select {
	case e.events <- evt:
	default:
		e.dropped.Add(1)
		e.warnDrops()
	}
}

// Close stops accepting events and drains the buffer, bounded by ctx.
// Safe to call concurrently with Emit and safe to call more than once.
func (e *Emitter) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.stop)
	})
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many events were lost to a full buffer.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

func (e *Emitter) run() {
	defer close(e.done)
	for {
		select {
		case evt := <-e.events:
			e.recorder.Record(context.Background(), evt)
		case <-e.stop:
			e.drain()
			return
		}
	}
}

func (e *Emitter) drain() {
	for {
		select {
		case evt := <-e.events:
			e.recorder.Record(context.Background(), evt)
		default:
			return
		}
	}
}

func (e *Emitter) warnDrops() {
	now := time.Now().UnixNano()
	last := e.lastWarn.Load()
	if now-last < int64(dropWarnInterval) {
		return
	}
	if e.lastWarn.CompareAndSwap(last, now) {
		e.logger.Warn("telemetry buffer full; dropping events",
			zap.Int64("dropped_total", e.dropped.Load()),
		)
	}
}
