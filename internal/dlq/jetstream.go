package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/yasinyaman/sentrel/internal/batch"
	"github.com/yasinyaman/sentrel/internal/logging"
	"github.com/yasinyaman/sentrel/internal/messaging/nats"
	"github.com/yasinyaman/sentrel/internal/metrics"
)

// DeadLetterStream captures dead-lettered batches. WorkQueue retention
// means each record is consumed exactly once by a replay worker.
var DeadLetterStream = nats.StreamConfig{
	Name:      "SENTREL_DLQ",
	Subjects:  []string{"sentrel.dlq.>"},
	MaxAge:    7 * 24 * time.Hour,
	MaxBytes:  1024 * 1024 * 1024,
	MaxMsgs:   1000000,
	Retention: jetstream.WorkQueuePolicy,
	Storage:   jetstream.FileStorage,
}

// JetStreamWriter persists dead-lettered batches in NATS JetStream.
// Safe for use across multiple collector instances.
type JetStreamWriter struct {
	client  *nats.JetStreamClient
	stream  jetstream.Stream
	logger  *logging.Logger
	written uint64
}

// NewJetStreamWriter creates a DLQ backed by NATS JetStream.
func NewJetStreamWriter(ctx context.Context, client *nats.JetStreamClient, logger *logging.Logger) (*JetStreamWriter, error) {
	if client == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	stream, err := client.CreateOrUpdateStream(ctx, DeadLetterStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	return &JetStreamWriter{
		client: client,
		stream: stream,
		logger: logger,
	}, nil
}

// Write publishes a dead-letter record to the stream. The subject carries
// the destination index so replay can be filtered per index.
func (w *JetStreamWriter) Write(ctx context.Context, b *batch.Batch, lastErr error) error {
	rec := NewRecord(b, lastErr)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	subject := fmt.Sprintf("sentrel.dlq.%s", b.Destination)
	if _, err := w.client.PublishSync(ctx, subject, data); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}

	atomic.AddUint64(&w.written, 1)
	metrics.DeadLetterTotal.Add(float64(len(b.Entries)))
	w.logger.Warn("published dead letter",
		logging.Destination(b.Destination),
		logging.Count(len(b.Entries)),
		logging.Reason(rec.LastError),
	)
	return nil
}

// List fetches up to limit dead-letter records without consuming them.
func (w *JetStreamWriter) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	consumer, err := w.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: "sentrel.dlq.>",
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxDeliver:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var records []Record
	for msg := range msgs.Messages() {
		var rec Record
		if err := json.Unmarshal(msg.Data(), &rec); err != nil {
			w.logger.Warn("skip malformed dlq message", logging.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (w *JetStreamWriter) Close() error {
	return w.client.Close()
}
