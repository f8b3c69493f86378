package aggregate

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/swarmdash/eventstream/internal/model"
)

// collector gathers flushed batches for assertions.
type collector struct {
	mu      sync.Mutex
	batches []model.Batch
}

func (c *collector) handle(b model.Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) batch(i int) model.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[i]
}

func TestAggregator_SizeTriggeredFlush(t *testing.T) {
	var col collector
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 3}, nil)
	a.OnBatch(col.handle)

	for i := 0; i < 4; i++ {
		if !a.Ingest(model.Frame{Type: "log"}) {
			t.Fatalf("Ingest %d rejected", i)
		}
	}

	// First batch flushed at size 3; fourth event stays pending.
	if col.count() != 1 {
		t.Fatalf("batches = %d, want 1", col.count())
	}
	if got := col.batch(0).Count; got != 3 {
		t.Errorf("batch size = %d, want 3", got)
	}
	if got := a.Stats().Pending; got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}

	// Explicit flush drains the remainder.
	a.Flush()
	if col.count() != 2 {
		t.Fatalf("batches = %d after Flush, want 2", col.count())
	}
	if got := col.batch(1).Count; got != 1 {
		t.Errorf("second batch size = %d, want 1", got)
	}
}

func TestAggregator_TimerFlush(t *testing.T) {
	var col collector
	a := New(Config{BatchInterval: 20 * time.Millisecond, MaxBatchSize: 50}, nil)
	a.OnBatch(col.handle)

	a.Ingest(model.Frame{Type: "log"})
	a.Ingest(model.Frame{Type: "log"})

	if col.count() != 0 {
		t.Fatalf("batch flushed before interval elapsed")
	}

	deadline := time.Now().Add(time.Second)
	for col.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if col.count() != 1 {
		t.Fatalf("batches = %d after interval, want 1", col.count())
	}
	if got := col.batch(0).Count; got != 2 {
		t.Errorf("batch size = %d, want 2", got)
	}
}

func TestAggregator_TimerNotResetByArrivals(t *testing.T) {
	var col collector
	a := New(Config{BatchInterval: 40 * time.Millisecond, MaxBatchSize: 50}, nil)
	a.OnBatch(col.handle)

	// Keep feeding events more often than the interval; a debounce timer
	// that reset on every arrival would never fire.
	start := time.Now()
	for time.Since(start) < 120*time.Millisecond {
		a.Ingest(model.Frame{Type: "log"})
		time.Sleep(10 * time.Millisecond)
	}

	if col.count() == 0 {
		t.Fatal("no batch flushed despite continuous arrivals")
	}
}

func TestAggregator_RejectsUnknownTypes(t *testing.T) {
	var col collector
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 2}, nil)
	a.OnBatch(col.handle)

	if a.Ingest(model.Frame{Type: "garbage"}) {
		t.Error("unknown type was accepted")
	}

	s := a.Stats()
	if s.Rejected != 1 || s.Accepted != 0 || s.Pending != 0 {
		t.Errorf("stats = %+v, want 1 rejected, 0 accepted", s)
	}
}

func TestAggregator_BatchMetadata(t *testing.T) {
	var col collector
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 2}, nil)
	a.OnBatch(col.handle)

	a.Ingest(model.Frame{Type: "log"})
	a.Ingest(model.Frame{Type: "log"})

	b := col.batch(0)
	if b.ID == "" || !strings.HasPrefix(b.ID, "batch-") {
		t.Errorf("batch id = %q", b.ID)
	}
	if b.Count != 2 || len(b.Events) != 2 {
		t.Errorf("batch count = %d (%d events), want 2", b.Count, len(b.Events))
	}
	if b.StartTime != b.Events[0].ReceivedAt {
		t.Errorf("StartTime = %d, want %d", b.StartTime, b.Events[0].ReceivedAt)
	}
	if b.EndTime != b.Events[1].ReceivedAt {
		t.Errorf("EndTime = %d, want %d", b.EndTime, b.Events[1].ReceivedAt)
	}
}

func TestAggregator_BatchIDsIncrease(t *testing.T) {
	var col collector
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 1}, nil)
	a.OnBatch(col.handle)

	a.Ingest(model.Frame{Type: "log"})
	a.Ingest(model.Frame{Type: "log"})

	if col.count() != 2 {
		t.Fatalf("batches = %d, want 2", col.count())
	}
	id0, id1 := col.batch(0).ID, col.batch(1).ID
	if !strings.HasPrefix(id0, "batch-1-") || !strings.HasPrefix(id1, "batch-2-") {
		t.Errorf("batch ids = %q, %q, want increasing sequence", id0, id1)
	}
}

func TestAggregator_HandlerPanicIsolation(t *testing.T) {
	var col collector
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 1}, nil)
	a.OnBatch(func(model.Batch) { panic("boom") })
	a.OnBatch(col.handle)

	a.Ingest(model.Frame{Type: "log"})

	if col.count() != 1 {
		t.Errorf("second handler received %d batches, want 1", col.count())
	}
}

func TestAggregator_OnBatchOff(t *testing.T) {
	var col collector
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 1}, nil)
	off := a.OnBatch(col.handle)
	off()

	a.Ingest(model.Frame{Type: "log"})

	if col.count() != 0 {
		t.Errorf("removed handler received %d batches", col.count())
	}
}

func TestAggregator_StopFlushesAndHalts(t *testing.T) {
	var col collector
	a := New(Config{BatchInterval: time.Hour, MaxBatchSize: 50}, nil)
	a.OnBatch(col.handle)

	a.Ingest(model.Frame{Type: "log"})
	a.Stop()

	if col.count() != 1 {
		t.Fatalf("batches = %d after Stop, want 1", col.count())
	}

	if a.Ingest(model.Frame{Type: "log"}) {
		t.Error("Ingest accepted after Stop")
	}
}

func TestAggregator_FlushEmptyIsNoop(t *testing.T) {
	var col collector
	a := New(DefaultConfig(), nil)
	a.OnBatch(col.handle)

	a.Flush()

	if col.count() != 0 {
		t.Errorf("batches = %d from empty flush, want 0", col.count())
	}
}
