// Package dispatch delivers sealed batches to the sink with bounded
// concurrency, retries with exponential backoff, and dead-lettering.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yasinyaman/sentrel/internal/batch"
	"github.com/yasinyaman/sentrel/internal/dlq"
	"github.com/yasinyaman/sentrel/internal/logging"
	"github.com/yasinyaman/sentrel/internal/metrics"
	"github.com/yasinyaman/sentrel/internal/sink"
)

// Config controls the worker pool and retry behavior.
type Config struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	ShutdownGrace  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      64,
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		AttemptTimeout: 15 * time.Second,
		ShutdownGrace:  30 * time.Second,
	}
}

// Dispatcher owns a bounded queue of sealed batches and a fixed pool of
// workers draining it. Enqueue blocks when the queue is full so pressure
// propagates back to the accumulator instead of growing memory.
type Dispatcher struct {
	cfg    Config
	sink   sink.Sink
	dlq    dlq.Writer
	logger *logging.Logger

	queue chan *batch.Batch
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup

	// sleep is replaceable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a dispatcher. Call Start to launch the workers.
func New(cfg Config, s sink.Sink, dl dlq.Writer, logger *logging.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if dl == nil {
		dl = dlq.NopWriter{}
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Dispatcher{
		cfg:    cfg,
		sink:   s,
		dlq:    dl,
		logger: logger,
		queue:  make(chan *batch.Batch, cfg.QueueSize),
		sleep:  sleepCtx,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Enqueue hands a sealed batch to the worker pool. It blocks while the
// queue is full and returns the context error if ctx ends first.
func (d *Dispatcher) Enqueue(ctx context.Context, b *batch.Batch) error {
	// Registering as a sender under the lock keeps the send ordered
	// before Close's close(d.queue); a send racing the close would panic.
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher closed")
	}
	d.senders.Add(1)
	d.mu.Unlock()
	defer d.senders.Done()

	select {
	case d.queue <- b:
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting batches and drains the queue. Batches still queued
// after the grace period are dead-lettered rather than dropped.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	// In-flight Enqueue calls either finish their send (workers keep
	// draining) or bail on their context. Only then is closing safe.
	d.senders.Wait()
	close(d.queue)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(d.cfg.ShutdownGrace):
		d.logger.Warn("dispatch drain exceeded shutdown grace")
		return fmt.Errorf("dispatch drain timed out after %s", d.cfg.ShutdownGrace)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for b := range d.queue {
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		metrics.DispatchInFlight.Inc()
		d.deliver(b)
		metrics.DispatchInFlight.Dec()
	}
}

// deliver attempts the batch until it succeeds, fails partially, or runs
// out of attempts. Partial rejections are final: retrying the whole batch
// would duplicate the documents that were accepted.
func (d *Dispatcher) deliver(b *batch.Batch) {
	ctx := context.Background()
	backoff := d.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		b.Attempts = attempt

		result, err := d.writeOnce(ctx, b)
		if err == nil {
			d.finish(b, result)
			return
		}
		lastErr = err

		d.logger.Warn("batch delivery failed",
			logging.Destination(b.Destination),
			logging.Attempt(attempt),
			logging.Count(len(b.Entries)),
			logging.Error(err),
		)

		if attempt == d.cfg.MaxAttempts {
			break
		}

		metrics.DispatchRetries.Inc()
		if err := d.sleep(ctx, backoff); err != nil {
			break
		}
		backoff *= 2
		if backoff > d.cfg.MaxBackoff {
			backoff = d.cfg.MaxBackoff
		}
	}

	metrics.DispatchTotal.WithLabelValues("dead_letter").Inc()
	d.logger.Error("batch exhausted delivery attempts",
		logging.Destination(b.Destination),
		logging.Count(len(b.Entries)),
		logging.Error(lastErr),
	)
	if err := d.dlq.Write(ctx, b, lastErr); err != nil {
		d.logger.Error("dead letter write failed",
			logging.Destination(b.Destination),
			logging.Error(err),
		)
	}
}

func (d *Dispatcher) writeOnce(ctx context.Context, b *batch.Batch) (*sink.BulkResult, error) {
	attemptCtx := ctx
	if d.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()
	}

	docs := make([]sink.Document, 0, len(b.Entries))
	for _, e := range b.Entries {
		docs = append(docs, sink.Document{
			ID:    e.EventID,
			Index: b.Destination,
			Body:  e.Raw,
		})
	}

	return d.sink.BulkWrite(attemptCtx, docs)
}

func (d *Dispatcher) finish(b *batch.Batch, result *sink.BulkResult) {
	metrics.DocumentsIndexed.Add(float64(result.Indexed))
	if result.Failed > 0 {
		metrics.DocumentsRejected.Add(float64(result.Failed))
		metrics.DispatchTotal.WithLabelValues("partial").Inc()
		d.logger.Warn("batch partially indexed",
			logging.Destination(b.Destination),
			logging.Count(result.Indexed),
			logging.Reason(firstError(result)),
		)
		return
	}

	metrics.DispatchTotal.WithLabelValues("success").Inc()
	d.logger.Debug("batch indexed",
		logging.Destination(b.Destination),
		logging.Count(result.Indexed),
		logging.Attempt(b.Attempts),
	)
}

func firstError(result *sink.BulkResult) string {
	for _, s := range result.Statuses {
		if !s.OK {
			return s.Error
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
