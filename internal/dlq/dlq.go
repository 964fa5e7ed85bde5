// Package dlq persists batches that exhausted their delivery attempts so
// their events can be inspected and replayed later.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/yasinyaman/sentrel/internal/batch"
	"github.com/yasinyaman/sentrel/internal/logging"
	"github.com/yasinyaman/sentrel/internal/metrics"
)

// Record captures a dead-lettered batch for later analysis and replay.
type Record struct {
	Timestamp   time.Time         `json:"timestamp"`
	Destination string            `json:"destination"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"last_error"`
	EventIDs    []string          `json:"event_ids"`
	Events      []json.RawMessage `json:"events"`
}

// Writer records exhausted batches. Implementations must be safe for
// concurrent use by dispatch workers.
type Writer interface {
	Write(ctx context.Context, b *batch.Batch, lastErr error) error
	Close() error
}

// NewRecord builds a dead-letter record from a batch and its final error.
func NewRecord(b *batch.Batch, lastErr error) Record {
	rec := Record{
		Timestamp:   time.Now().UTC(),
		Destination: b.Destination,
		Attempts:    b.Attempts,
		EventIDs:    make([]string, 0, len(b.Entries)),
		Events:      make([]json.RawMessage, 0, len(b.Entries)),
	}
	if lastErr != nil {
		rec.LastError = lastErr.Error()
	}
	for _, e := range b.Entries {
		rec.EventIDs = append(rec.EventIDs, e.EventID)
		rec.Events = append(rec.Events, json.RawMessage(e.Raw))
	}
	return rec
}

// NopWriter discards dead letters. Used when the DLQ is disabled.
type NopWriter struct{}

func (NopWriter) Write(ctx context.Context, b *batch.Batch, lastErr error) error { return nil }
func (NopWriter) Close() error                                                   { return nil }

// FileWriter writes dead-lettered batches to disk, one JSON file per batch.
type FileWriter struct {
	basePath string
	logger   *logging.Logger

	mu      sync.Mutex
	written uint64
}

// NewFileWriter creates a DLQ that writes to the specified directory.
func NewFileWriter(basePath string, logger *logging.Logger) (*FileWriter, error) {
	if basePath == "" {
		basePath = "/var/lib/sentrel/dlq"
	}
	if logger == nil {
		logger = logging.Default()
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}

	return &FileWriter{basePath: basePath, logger: logger}, nil
}

// Write records a dead-lettered batch as a timestamped JSON file.
func (w *FileWriter) Write(ctx context.Context, b *batch.Batch, lastErr error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := NewRecord(b, lastErr)

	filename := fmt.Sprintf("deadletter_%d_%d.json", time.Now().Unix(), w.written)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	path := filepath.Join(w.basePath, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}

	w.written++
	metrics.DeadLetterTotal.Add(float64(len(b.Entries)))
	w.logger.Warn("wrote dead letter",
		logging.Destination(b.Destination),
		logging.Count(len(b.Entries)),
		logging.Reason(rec.LastError),
	)
	return nil
}

// List returns up to limit dead-lettered records from disk.
func (w *FileWriter) List(ctx context.Context, limit int) ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := os.ReadDir(w.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}

	var records []Record
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if limit > 0 && len(records) >= limit {
			break
		}
		data, err := os.ReadFile(filepath.Join(w.basePath, f.Name()))
		if err != nil {
			w.logger.Warn("skip unreadable dlq file", logging.Error(err))
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			w.logger.Warn("skip malformed dlq file", logging.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (w *FileWriter) Close() error { return nil }
