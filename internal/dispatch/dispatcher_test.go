package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yasinyaman/sentrel/internal/batch"
	"github.com/yasinyaman/sentrel/internal/sink"
)

// fakeSink scripts per-call outcomes for BulkWrite.
type fakeSink struct {
	mu       sync.Mutex
	calls    int
	failures int // whole-write failures before succeeding
	partial  int // when > 0, this many docs are rejected per write
}

func (s *fakeSink) BulkWrite(ctx context.Context, docs []sink.Document) (*sink.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.calls <= s.failures {
		return nil, errors.New("sink unavailable")
	}

	result := &sink.BulkResult{}
	for i, d := range docs {
		if i < s.partial {
			result.Failed++
			result.Statuses = append(result.Statuses, sink.ItemStatus{ID: d.ID, Error: "mapper_parsing_exception"})
			continue
		}
		result.Indexed++
		result.Statuses = append(result.Statuses, sink.ItemStatus{ID: d.ID, OK: true})
	}
	return result, nil
}

func (s *fakeSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeDLQ records dead-lettered batches.
type fakeDLQ struct {
	mu      sync.Mutex
	batches []*batch.Batch
}

func (d *fakeDLQ) Write(ctx context.Context, b *batch.Batch, lastErr error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, b)
	return nil
}

func (d *fakeDLQ) Close() error { return nil }

func (d *fakeDLQ) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

func testConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      8,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		AttemptTimeout: time.Second,
		ShutdownGrace:  5 * time.Second,
	}
}

func testBatch(n int) *batch.Batch {
	b := &batch.Batch{Destination: "idx-1"}
	for i := 0; i < n; i++ {
		b.Entries = append(b.Entries, batch.Entry{EventID: "e", Raw: []byte("{}")})
	}
	return b
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestDeliverySuccess(t *testing.T) {
	s := &fakeSink{}
	dl := &fakeDLQ{}
	d := New(testConfig(), s, dl, nil)
	d.sleep = noSleep
	d.Start()

	if err := d.Enqueue(context.Background(), testBatch(5)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if s.callCount() != 1 {
		t.Errorf("expected 1 write, got %d", s.callCount())
	}
	if dl.count() != 0 {
		t.Errorf("nothing should be dead-lettered")
	}
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	s := &fakeSink{failures: 2}
	dl := &fakeDLQ{}
	d := New(testConfig(), s, dl, nil)
	d.sleep = noSleep
	d.Start()

	d.Enqueue(context.Background(), testBatch(3))
	d.Close()

	if s.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", s.callCount())
	}
	if dl.count() != 0 {
		t.Errorf("batch recovered, must not be dead-lettered")
	}
}

func TestDeliveryExhaustionDeadLetters(t *testing.T) {
	s := &fakeSink{failures: 100}
	dl := &fakeDLQ{}
	d := New(testConfig(), s, dl, nil)
	d.sleep = noSleep
	d.Start()

	d.Enqueue(context.Background(), testBatch(4))
	d.Close()

	if s.callCount() != 3 {
		t.Errorf("expected exactly MaxAttempts=3 attempts, got %d", s.callCount())
	}
	if dl.count() != 1 {
		t.Fatalf("expected exactly 1 dead letter, got %d", dl.count())
	}
	if got := dl.batches[0].Attempts; got != 3 {
		t.Errorf("dead letter attempts = %d", got)
	}
	if len(dl.batches[0].Entries) != 4 {
		t.Errorf("dead letter must carry all events")
	}
}

func TestPartialFailureIsFinal(t *testing.T) {
	// 2 of 10 documents rejected: no retry, no dead letter.
	s := &fakeSink{partial: 2}
	dl := &fakeDLQ{}
	d := New(testConfig(), s, dl, nil)
	d.sleep = noSleep
	d.Start()

	d.Enqueue(context.Background(), testBatch(10))
	d.Close()

	if s.callCount() != 1 {
		t.Errorf("partial failure must not retry, got %d writes", s.callCount())
	}
	if dl.count() != 0 {
		t.Errorf("partial failure must not dead-letter")
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	d := New(testConfig(), &fakeSink{}, &fakeDLQ{}, nil)
	d.Start()
	d.Close()

	if err := d.Enqueue(context.Background(), testBatch(1)); err == nil {
		t.Errorf("enqueue after close must fail")
	}
}

func TestEnqueueBlocksOnFullQueue(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1

	release := make(chan struct{})
	s := &blockingSink{release: release, started: make(chan struct{}, 1)}
	d := New(cfg, s, &fakeDLQ{}, nil)
	d.sleep = noSleep
	d.Start()

	ctx := context.Background()
	// First batch occupies the worker, second fills the queue.
	d.Enqueue(ctx, testBatch(1))
	<-s.started
	d.Enqueue(ctx, testBatch(1))

	// Third enqueue must block until ctx expires.
	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := d.Enqueue(timeoutCtx, testBatch(1)); err == nil {
		t.Errorf("enqueue should have blocked and returned ctx error")
	}

	close(release)
	d.Close()
}

func TestEnqueueCloseRace(t *testing.T) {
	// Concurrent enqueues racing Close must never send on the closed
	// queue; every call either delivers or reports the dispatcher closed.
	for i := 0; i < 20; i++ {
		cfg := testConfig()
		cfg.Workers = 1
		cfg.QueueSize = 1

		d := New(cfg, &fakeSink{}, &fakeDLQ{}, nil)
		d.sleep = noSleep
		d.Start()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 25; j++ {
					d.Enqueue(ctx, testBatch(1))
				}
			}()
		}

		d.Close()
		cancel()
		wg.Wait()
	}
}

// blockingSink blocks every write until released.
type blockingSink struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSink) BulkWrite(ctx context.Context, docs []sink.Document) (*sink.BulkResult, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-s.release
	return &sink.BulkResult{Indexed: len(docs)}, nil
}
