package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admission metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrel_ingest_requests_total",
			Help: "Total number of ingestion requests received",
		},
		[]string{"endpoint", "status"},
	)

	RequestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrel_ingest_requests_rejected_total",
			Help: "Total number of requests rejected at admission",
		},
		[]string{"reason"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrel_ingest_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"project"},
	)

	EventsAdmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_ingest_events_admitted_total",
			Help: "Total number of events admitted into the pipeline",
		},
	)

	EventBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_ingest_event_bytes_total",
			Help: "Total bytes of event payload data received",
		},
	)

	// Enrichment metrics
	EnrichmentStageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrel_enrich_stage_failures_total",
			Help: "Total number of enrichment stage failures (recovered)",
		},
		[]string{"stage"},
	)

	// Batch metrics
	BatchFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrel_batch_flush_total",
			Help: "Total number of batches sealed, by flush trigger",
		},
		[]string{"trigger"},
	)

	BatchFlushEvents = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentrel_batch_flush_events",
			Help:    "Number of events per sealed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	BatchFlushBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_batch_flush_bytes_total",
			Help: "Total bytes in sealed batches",
		},
	)

	OpenBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentrel_batch_open",
			Help: "Current number of open batches",
		},
	)

	// Dispatch metrics
	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentrel_dispatch_queue_depth",
			Help: "Current depth of the pending dispatch queue",
		},
	)

	DispatchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentrel_dispatch_in_flight",
			Help: "Number of batches currently being written to the sink",
		},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentrel_dispatch_total",
			Help: "Total number of batch dispatch outcomes",
		},
		[]string{"result"},
	)

	DispatchRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_dispatch_retries_total",
			Help: "Total number of batch dispatch retry attempts",
		},
	)

	DocumentsIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_sink_documents_indexed_total",
			Help: "Total number of documents acknowledged by the sink",
		},
	)

	DocumentsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_sink_documents_rejected_total",
			Help: "Total number of documents rejected by the sink (not retried)",
		},
	)

	DeadLetterTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentrel_dispatch_dead_letter_total",
			Help: "Total number of events moved to the dead-letter path",
		},
	)

	SinkWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentrel_sink_write_duration_seconds",
			Help:    "Duration of sink bulk write operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
