// Package batch accumulates enriched events into per-destination batches
// and seals them on count, byte-size or age thresholds. Sealed batches are
// handed off to the dispatcher; the accumulator never waits for delivery.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/yasinyaman/sentrel/internal/event"
	"github.com/yasinyaman/sentrel/internal/logging"
	"github.com/yasinyaman/sentrel/internal/metrics"
)

// Trigger records why a batch was sealed.
type Trigger string

const (
	TriggerCount    Trigger = "count"
	TriggerBytes    Trigger = "bytes"
	TriggerAge      Trigger = "age"
	TriggerShutdown Trigger = "shutdown"
)

// Entry is one enriched event ready for indexing. Raw is the marshaled
// document, computed once so byte accounting and bulk writes share it.
type Entry struct {
	EventID  string
	Document event.Document
	Raw      []byte
}

// Batch is an ordered group of entries bound for one destination index.
// Open batches belong to the accumulator; after sealing, ownership moves to
// the dispatcher, which is the sole mutator of Attempts.
type Batch struct {
	Destination string
	Entries     []Entry
	CreatedAt   time.Time
	Bytes       int
	Trigger     Trigger
	Attempts    int
}

// Config holds the flush thresholds. Whichever threshold is crossed first
// seals the batch.
type Config struct {
	MaxEvents     int
	MaxBytes      int
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// Handoff receives a sealed batch. It may block; blocking propagates
// backpressure to the append path and the sweep.
type Handoff func(ctx context.Context, b *Batch)

// openSlot holds the open batch for one destination. Each slot has its own
// lock so unrelated destinations never contend.
type openSlot struct {
	mu sync.Mutex
	b  *Batch
}

// Accumulator maintains one open batch per destination key.
type Accumulator struct {
	cfg     Config
	handoff Handoff
	now     func() time.Time
	logger  *logging.Logger

	mu    sync.RWMutex // guards the slots map, not the batches
	slots map[string]*openSlot

	started   bool
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New creates an accumulator. now defaults to time.Now.
func New(cfg Config, handoff Handoff, logger *logging.Logger, now func() time.Time) *Accumulator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Accumulator{
		cfg:       cfg,
		handoff:   handoff,
		now:       now,
		logger:    logger,
		slots:     make(map[string]*openSlot),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// Start launches the periodic age sweep.
func (a *Accumulator) Start() {
	a.started = true
	go a.sweepLoop()
}

// Append adds an entry to the destination's open batch, creating one if
// needed. If the append crosses a count or byte threshold the batch is
// sealed inline and handed off outside the slot lock.
func (a *Accumulator) Append(ctx context.Context, destination string, entry Entry) {
	slot := a.slot(destination)

	slot.mu.Lock()
	if slot.b == nil {
		slot.b = &Batch{Destination: destination, CreatedAt: a.now()}
		metrics.OpenBatches.Inc()
	}
	slot.b.Entries = append(slot.b.Entries, entry)
	slot.b.Bytes += len(entry.Raw)

	var sealed *Batch
	switch {
	case a.cfg.MaxEvents > 0 && len(slot.b.Entries) >= a.cfg.MaxEvents:
		sealed = a.detachLocked(slot, TriggerCount)
	case a.cfg.MaxBytes > 0 && slot.b.Bytes >= a.cfg.MaxBytes:
		sealed = a.detachLocked(slot, TriggerBytes)
	}
	slot.mu.Unlock()

	if sealed != nil {
		a.dispatch(ctx, sealed)
	}
}

// Flush seals and hands off every open batch regardless of fill level.
// Called on shutdown so no event is silently lost.
func (a *Accumulator) Flush(ctx context.Context) {
	for _, destination := range a.destinations() {
		slot := a.slot(destination)

		slot.mu.Lock()
		sealed := a.detachLocked(slot, TriggerShutdown)
		slot.mu.Unlock()

		if sealed != nil {
			a.dispatch(ctx, sealed)
		}
	}
}

// Close stops the sweep and flushes all open batches.
func (a *Accumulator) Close(ctx context.Context) {
	if a.started {
		close(a.stopSweep)
		<-a.sweepDone
	}
	a.Flush(ctx)
}

// detachLocked seals the slot's open batch via pointer swap. The caller
// holds the slot lock; the swap is the only work done under it.
func (a *Accumulator) detachLocked(slot *openSlot, trigger Trigger) *Batch {
	if slot.b == nil || len(slot.b.Entries) == 0 {
		return nil
	}
	sealed := slot.b
	sealed.Trigger = trigger
	slot.b = nil
	metrics.OpenBatches.Dec()
	return sealed
}

func (a *Accumulator) dispatch(ctx context.Context, b *Batch) {
	metrics.BatchFlushTotal.WithLabelValues(string(b.Trigger)).Inc()
	metrics.BatchFlushEvents.Observe(float64(len(b.Entries)))
	metrics.BatchFlushBytes.Add(float64(b.Bytes))

	a.logger.Debug("batch sealed",
		logging.Destination(b.Destination),
		logging.Count(len(b.Entries)),
		logging.Bytes(b.Bytes),
		logging.Reason(string(b.Trigger)),
	)

	a.handoff(ctx, b)
}

func (a *Accumulator) slot(destination string) *openSlot {
	a.mu.RLock()
	slot, ok := a.slots[destination]
	a.mu.RUnlock()
	if ok {
		return slot
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if slot, ok := a.slots[destination]; ok {
		return slot
	}
	slot = &openSlot{}
	a.slots[destination] = slot
	return slot
}

func (a *Accumulator) destinations() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.slots))
	for dest := range a.slots {
		out = append(out, dest)
	}
	return out
}

func (a *Accumulator) sweepLoop() {
	defer close(a.sweepDone)

	interval := a.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.sweep()
		case <-a.stopSweep:
			return
		}
	}
}

// sweep seals batches older than MaxAge. The slot lock is held only for
// the seal-and-detach swap; handoff happens outside it.
func (a *Accumulator) sweep() {
	cutoff := a.now().Add(-a.cfg.MaxAge)

	for _, destination := range a.destinations() {
		slot := a.slot(destination)

		slot.mu.Lock()
		var sealed *Batch
		if slot.b != nil && len(slot.b.Entries) > 0 && !slot.b.CreatedAt.After(cutoff) {
			sealed = a.detachLocked(slot, TriggerAge)
		}
		slot.mu.Unlock()

		if sealed != nil {
			a.dispatch(context.Background(), sealed)
		}
	}
}
