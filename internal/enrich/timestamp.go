package enrich

import (
	"time"

	"github.com/yasinyaman/sentrel/internal/event"
)

// TimestampStage guarantees every document carries a canonical @timestamp.
// Events without one get ingestion time; present timestamps are normalized
// to RFC 3339 UTC.
type TimestampStage struct{}

func (s *TimestampStage) Name() string { return "timestamp" }

func (s *TimestampStage) Apply(doc event.Document, md Metadata) (event.Document, error) {
	raw := doc.StringField("@timestamp")
	if raw == "" {
		doc["@timestamp"] = ingestionTime(md).UTC().Format(time.RFC3339Nano)
		return doc, nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, raw)
	}
	if err != nil {
		// Unparseable timestamps are replaced, not propagated.
		doc["@timestamp"] = ingestionTime(md).UTC().Format(time.RFC3339Nano)
		return doc, nil
	}

	doc["@timestamp"] = parsed.UTC().Format(time.RFC3339Nano)
	return doc, nil
}

func ingestionTime(md Metadata) time.Time {
	if md.ReceivedAt.IsZero() {
		return time.Now()
	}
	return md.ReceivedAt
}
