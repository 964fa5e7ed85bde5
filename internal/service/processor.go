// Package service orchestrates the ingestion pipeline: decode, admission,
// transform, enrichment, and handoff to the batch accumulator.
package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yasinyaman/sentrel/internal/admission"
	"github.com/yasinyaman/sentrel/internal/batch"
	"github.com/yasinyaman/sentrel/internal/enrich"
	"github.com/yasinyaman/sentrel/internal/envelope"
	"github.com/yasinyaman/sentrel/internal/event"
	"github.com/yasinyaman/sentrel/internal/logging"
	"github.com/yasinyaman/sentrel/internal/metrics"
	"github.com/yasinyaman/sentrel/internal/sink"
	"github.com/yasinyaman/sentrel/internal/transform"
)

// Processor runs the ingestion pipeline for one collector instance.
type Processor struct {
	admission   *admission.Controller
	transformer *transform.Transformer
	chain       *enrich.Chain
	accumulator *batch.Accumulator
	indexPrefix string
	logger      *logging.Logger
	now         func() time.Time
}

// NewProcessor wires the pipeline stages together.
func NewProcessor(
	ac *admission.Controller,
	tr *transform.Transformer,
	chain *enrich.Chain,
	acc *batch.Accumulator,
	indexPrefix string,
	logger *logging.Logger,
) *Processor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		admission:   ac,
		transformer: tr,
		chain:       chain,
		accumulator: acc,
		indexPrefix: indexPrefix,
		logger:      logger,
		now:         time.Now,
	}
}

// ProcessEnvelope decodes body as an envelope (or a legacy store payload),
// admits it, and runs every event item through the pipeline. It returns the
// IDs of the accepted events. A decode failure or an admission rejection
// rejects the whole request; a single bad item only skips that item.
func (p *Processor) ProcessEnvelope(ctx context.Context, projectID int64, publicKey string, body []byte, md enrich.Metadata) ([]string, error) {
	env, err := envelope.DecodeAny(body)
	if err != nil {
		metrics.RequestsRejected.WithLabelValues(string(admission.ReasonMalformed)).Inc()
		return nil, err
	}

	items := env.Events()
	// Admission charges one token per request regardless of item count.
	if err := p.admission.Admit(ctx, projectID, publicKey, 1); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		raw, err := event.Parse(item.Payload)
		if err != nil {
			p.logger.WarnContext(ctx, "skipping undecodable item",
				logging.ProjectID(projectID),
				logging.Error(err),
			)
			continue
		}
		id := p.ingest(ctx, projectID, raw, md, len(item.Payload))
		ids = append(ids, id)
	}

	// The response ID is the envelope's event ID when the header carries
	// one, else the first accepted event.
	if env.Header.EventID != "" {
		return append([]string{env.Header.EventID}, ids...), nil
	}
	return ids, nil
}

// ProcessSecurity admits and ingests a browser security report (CSP,
// expect-ct, expect-staple, hpkp) as a synthesized event.
func (p *Processor) ProcessSecurity(ctx context.Context, projectID int64, publicKey string, body []byte, md enrich.Metadata) (string, error) {
	var report map[string]json.RawMessage
	if err := json.Unmarshal(body, &report); err != nil {
		metrics.RequestsRejected.WithLabelValues(string(admission.ReasonMalformed)).Inc()
		return "", envelope.ErrMalformed
	}

	if err := p.admission.Admit(ctx, projectID, publicKey, 1); err != nil {
		return "", err
	}

	raw := securityEvent(report)
	id := p.ingest(ctx, projectID, raw, md, len(body))
	return id, nil
}

// ingest runs one parsed event through transform, enrichment, and the
// accumulator, returning its (possibly generated) event ID.
func (p *Processor) ingest(ctx context.Context, projectID int64, raw *event.RawEvent, md enrich.Metadata, payloadSize int) string {
	if raw.EventID == "" {
		raw.EventID = NewEventID()
	}

	doc := p.transformer.Transform(raw, projectID)
	doc = p.chain.Enrich(doc, md)

	encoded, err := json.Marshal(doc)
	if err != nil {
		// Document values all come from decoded JSON; this should not
		// happen, but a single event must never take down the request.
		p.logger.ErrorContext(ctx, "document marshal failed",
			logging.ProjectID(projectID),
			logging.EventID(raw.EventID),
			logging.Error(err),
		)
		return raw.EventID
	}

	metrics.EventsAdmitted.Inc()
	metrics.EventBytesTotal.Add(float64(payloadSize))

	destination := sink.IndexName(p.indexPrefix, p.now().UTC())
	p.accumulator.Append(ctx, destination, batch.Entry{
		EventID:  raw.EventID,
		Document: doc,
		Raw:      encoded,
	})
	return raw.EventID
}

// NewEventID returns a 32 character hex event identifier.
func NewEventID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// securityEvent synthesizes an error event from a browser security report
// so it flows through the same pipeline as SDK events.
func securityEvent(report map[string]json.RawMessage) *event.RawEvent {
	raw := &event.RawEvent{
		Level:    "warning",
		Logger:   "security",
		Platform: "javascript",
	}

	kind := "security-report"
	for _, k := range []string{"csp-report", "expect-ct-report", "expect-staple-report", "hpkp-report"} {
		if body, ok := report[k]; ok {
			kind = strings.TrimSuffix(k, "-report")
			var payload map[string]any
			if json.Unmarshal(body, &payload) == nil {
				if raw.Extra == nil {
					raw.Extra = make(map[string]any)
				}
				raw.Extra[kind] = payload
				if uri, ok := payload["document-uri"].(string); ok {
					raw.Request = &event.Request{URL: uri}
				}
				if directive, ok := payload["violated-directive"].(string); ok {
					raw.Message = kind + " violation: " + directive
				}
			}
			break
		}
	}
	if raw.Message == "" {
		raw.Message = kind + " violation"
	}
	raw.Tags = map[string]any{"report_type": kind}
	return raw
}
