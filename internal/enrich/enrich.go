// Package enrich augments transformed documents with derived context: geo
// location, browser/OS/device, hashed PII, normalized tags and timestamps.
// Stages are independent; one stage failing never drops the event.
package enrich

import (
	"fmt"
	"time"

	"github.com/yasinyaman/sentrel/internal/event"
	"github.com/yasinyaman/sentrel/internal/logging"
	"github.com/yasinyaman/sentrel/internal/metrics"
)

// Metadata carries request-scoped inputs that stages may consult.
type Metadata struct {
	RemoteIP   string
	UserAgent  string
	ReceivedAt time.Time
}

// Stage is one enrichment transform. Apply returns the enriched document;
// on error the pipeline keeps the stage's input and moves on.
type Stage interface {
	Name() string
	Apply(doc event.Document, md Metadata) (event.Document, error)
}

// Chain applies an ordered list of stages. Panics inside a stage are
// recovered at the stage boundary and counted like errors.
type Chain struct {
	stages []Stage
	logger *logging.Logger
}

// NewChain builds an enrichment chain.
func NewChain(logger *logging.Logger, stages ...Stage) *Chain {
	if logger == nil {
		logger = logging.Default()
	}
	return &Chain{stages: stages, logger: logger}
}

// DefaultStages returns the standard stage order. A nil geo resolver
// disables geo lookups without removing the stage.
func DefaultStages(geo GeoResolver, tagKeyMaxLen int) []Stage {
	return []Stage{
		&GeoIPStage{Resolver: geo},
		&UserAgentStage{},
		&PIIStage{},
		&TagStage{KeyMaxLen: tagKeyMaxLen},
		&TimestampStage{},
	}
}

// Enrich runs the document through every stage in order.
func (c *Chain) Enrich(doc event.Document, md Metadata) event.Document {
	for _, stage := range c.stages {
		doc = c.runStage(stage, doc, md)
	}
	return doc
}

func (c *Chain) runStage(stage Stage, doc event.Document, md Metadata) (out event.Document) {
	// Stages mutate the document in place. Snapshot it first so a stage
	// that mutates and then fails cannot leave a half-applied document.
	snapshot := doc.Clone()

	defer func() {
		if r := recover(); r != nil {
			metrics.EnrichmentStageFailures.WithLabelValues(stage.Name()).Inc()
			c.logger.Warn("enrichment stage panicked",
				logging.Stage(stage.Name()),
				logging.Error(fmt.Errorf("%v", r)),
			)
			out = snapshot
		}
	}()

	enriched, err := stage.Apply(doc, md)
	if err != nil {
		metrics.EnrichmentStageFailures.WithLabelValues(stage.Name()).Inc()
		c.logger.Warn("enrichment stage failed",
			logging.Stage(stage.Name()),
			logging.Error(err),
		)
		return snapshot
	}
	return enriched
}
