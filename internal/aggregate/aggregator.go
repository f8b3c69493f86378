package aggregate

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmdash/eventstream/internal/model"
)

// BatchHandler receives a flushed batch.
type BatchHandler func(model.Batch)

// Config controls batching behavior.
type Config struct {
	// BatchInterval is the debounce window before a partial batch flushes.
	BatchInterval time.Duration

	// MaxBatchSize flushes immediately once this many events are pending.
	MaxBatchSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchInterval: 100 * time.Millisecond,
		MaxBatchSize:  50,
	}
}

// Stats contains aggregator counters.
type Stats struct {
	Accepted int64
	Rejected int64
	Batches  int64
	Pending  int
}

type handlerEntry struct {
	id int
	fn BatchHandler
}

// Aggregator validates, normalizes, and batches incoming frames. Safe for
// concurrent use.
type Aggregator struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	pending  []model.Event
	timer    *time.Timer
	batchSeq int64
	handlers []handlerEntry
	nextID   int
	accepted int64
	rejected int64
	batches  int64
	stopped  bool
}

// New creates an aggregator. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = DefaultConfig().BatchInterval
	}
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	return &Aggregator{
		cfg:     cfg,
		logger:  logger,
		pending: make([]model.Event, 0, cfg.MaxBatchSize),
	}
}

// OnBatch registers a batch handler and returns a closure removing it.
func (a *Aggregator) OnBatch(h BatchHandler) func() {
	a.mu.Lock()
	a.nextID++
	id := a.nextID
	a.handlers = append(a.handlers, handlerEntry{id: id, fn: h})
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, e := range a.handlers {
			if e.id == id {
				a.handlers = append(a.handlers[:i:i], a.handlers[i+1:]...)
				break
			}
		}
	}
}

// Ingest validates and normalizes a frame, appending the event to the
// pending batch. Returns false when the frame is rejected. A full batch
// flushes synchronously; otherwise the first pending event arms the
// debounce timer.
func (a *Aggregator) Ingest(f model.Frame) bool {
	if !Validate(f.Type) {
		a.mu.Lock()
		a.rejected++
		a.mu.Unlock()
		a.logger.Warn("rejected event with unknown type", "type", f.Type)
		return false
	}

	ev := Normalize(f)

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return false
	}
	a.accepted++
	a.pending = append(a.pending, ev)

	if len(a.pending) >= a.cfg.MaxBatchSize {
		batch := a.takeBatchLocked()
		a.mu.Unlock()
		a.emit(batch)
		return true
	}

	if a.timer == nil {
		a.timer = time.AfterFunc(a.cfg.BatchInterval, a.Flush)
	}
	a.mu.Unlock()
	return true
}

// Flush packages any pending events into a batch and delivers it to every
// registered handler. A no-op when nothing is pending.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.clearTimerLocked()
		a.mu.Unlock()
		return
	}
	batch := a.takeBatchLocked()
	a.mu.Unlock()
	a.emit(batch)
}

// Stop flushes pending events and prevents further ingestion.
func (a *Aggregator) Stop() {
	a.Flush()
	a.mu.Lock()
	a.stopped = true
	a.clearTimerLocked()
	a.mu.Unlock()
}

// Stats returns current counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Accepted: a.accepted,
		Rejected: a.rejected,
		Batches:  a.batches,
		Pending:  len(a.pending),
	}
}

// takeBatchLocked packages and clears the pending list. Caller holds a.mu.
func (a *Aggregator) takeBatchLocked() model.Batch {
	a.clearTimerLocked()
	a.batchSeq++
	a.batches++

	events := a.pending
	a.pending = make([]model.Event, 0, a.cfg.MaxBatchSize)

	return model.Batch{
		ID:        fmt.Sprintf("batch-%d-%d", a.batchSeq, time.Now().UnixMilli()),
		Events:    events,
		StartTime: events[0].ReceivedAt,
		EndTime:   events[len(events)-1].ReceivedAt,
		Count:     len(events),
	}
}

func (a *Aggregator) clearTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// emit delivers a batch to every handler, recovering per-handler panics so
// one failing consumer cannot starve the rest.
func (a *Aggregator) emit(batch model.Batch) {
	a.mu.Lock()
	entries := make([]handlerEntry, len(a.handlers))
	copy(entries, a.handlers)
	a.mu.Unlock()

	for _, e := range entries {
		a.invoke(e.fn, batch)
	}
}

func (a *Aggregator) invoke(h BatchHandler, batch model.Batch) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Warn("batch handler panicked",
				"batch_id", batch.ID,
				"events", batch.Count,
				"panic", rec,
			)
		}
	}()
	h(batch)
}
