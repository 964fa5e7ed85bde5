// Package sink defines the write contract to the external search index and
// its OpenSearch implementation.
package sink

import (
	"context"
	"fmt"
	"time"
)

// Document is one indexable document with its explicit identifier and
// destination index.
type Document struct {
	ID    string
	Index string
	Body  []byte
}

// ItemStatus is the per-document outcome of a bulk write.
type ItemStatus struct {
	ID    string
	OK    bool
	Error string
}

// BulkResult reports a completed bulk write. Item-level failures here are
// final: the sink accepted the request and rejected individual documents.
type BulkResult struct {
	Indexed  int
	Failed   int
	Statuses []ItemStatus
}

// Sink is the bulk-write adapter to the external index store. A returned
// error means the write failed as a whole (unreachable, timeout) and may be
// retried; a nil error with Failed > 0 means partial rejection, which is
// never retried.
type Sink interface {
	BulkWrite(ctx context.Context, docs []Document) (*BulkResult, error)
}

// IndexName derives the time-partitioned index for an event timestamp.
// Format: {prefix}-YYYY.MM.DD.
func IndexName(prefix string, ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s-%s", prefix, ts.UTC().Format("2006.01.02"))
}
