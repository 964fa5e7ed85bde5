package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"
	"github.com/sony/gobreaker"

	"github.com/yasinyaman/sentrel/internal/logging"
	"github.com/yasinyaman/sentrel/internal/metrics"
)

// Config holds OpenSearch connection and index management configuration.
type Config struct {
	URL             string
	Username        string
	Password        string
	TLSSkipVerify   bool
	IndexPrefix     string
	ShardCount      int
	ReplicaCount    int
	RefreshInterval string
	RetentionDays   int
}

// DefaultConfig returns sensible defaults for OpenSearch configuration.
func DefaultConfig() Config {
	return Config{
		URL:             "http://localhost:9200",
		Username:        "admin",
		Password:        "admin",
		IndexPrefix:     "sentry-events",
		ShardCount:      1,
		ReplicaCount:    0,
		RefreshInterval: "5s",
		RetentionDays:   30,
	}
}

// OpenSearchSink writes document batches to OpenSearch via the bulk API.
// A circuit breaker fails writes fast while the cluster is down instead of
// tying dispatch workers up in timeouts.
type OpenSearchSink struct {
	client  *opensearch.Client
	config  Config
	breaker *gobreaker.CircuitBreaker
	logger  *logging.Logger
}

// NewOpenSearchSink creates the sink client.
func NewOpenSearchSink(cfg Config, logger *logging.Logger) (*OpenSearchSink, error) {
	if logger == nil {
		logger = logging.Default()
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "opensearch-bulk",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &OpenSearchSink{
		client:  client,
		config:  cfg,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// BulkWrite indexes docs, reporting per-document status. Transport-level
// failure of the whole request is returned as an error; item rejections are
// final and reported in the result.
func (s *OpenSearchSink) BulkWrite(ctx context.Context, docs []Document) (*BulkResult, error) {
	start := time.Now()
	defer func() {
		metrics.SinkWriteDuration.Observe(time.Since(start).Seconds())
	}()

	out, err := s.breaker.Execute(func() (any, error) {
		return s.bulkWrite(ctx, docs)
	})
	if err != nil {
		return nil, err
	}
	return out.(*BulkResult), nil
}

func (s *OpenSearchSink) bulkWrite(ctx context.Context, docs []Document) (*BulkResult, error) {
	result := &BulkResult{}

	var mu sync.Mutex
	transportFailures := 0

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:     s.client,
		NumWorkers: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create bulk indexer: %w", err)
	}

	for _, doc := range docs {
		doc := doc
		err := bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action:     "index",
			Index:      doc.Index,
			DocumentID: doc.ID,
			Body:       bytes.NewReader(doc.Body),
			OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
				mu.Lock()
				result.Indexed++
				result.Statuses = append(result.Statuses, ItemStatus{ID: doc.ID, OK: true})
				mu.Unlock()
			},
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				mu.Lock()
				result.Failed++
				status := ItemStatus{ID: doc.ID}
				if err != nil {
					status.Error = err.Error()
					transportFailures++
				} else {
					status.Error = fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason)
				}
				result.Statuses = append(result.Statuses, status)
				mu.Unlock()
			},
		})
		if err != nil {
			return nil, fmt.Errorf("add to bulk indexer: %w", err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return nil, fmt.Errorf("bulk indexer close: %w", err)
	}

	// Every item failing at the transport level means the request never
	// reached the cluster: treat as full failure so the batch is retried.
	if len(docs) > 0 && transportFailures == len(docs) {
		return nil, fmt.Errorf("bulk write failed: %s", result.Statuses[0].Error)
	}

	return result, nil
}

// Initialize sets up the index template and retention policy. Failures here
// are logged by the caller; indexing proceeds with dynamic mappings.
func (s *OpenSearchSink) Initialize(ctx context.Context) error {
	info, err := s.client.Info()
	if err != nil {
		return fmt.Errorf("connect to opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	if err := s.createIndexTemplate(ctx); err != nil {
		return fmt.Errorf("create index template: %w", err)
	}
	if err := s.createISMPolicy(ctx); err != nil {
		return fmt.Errorf("create ISM policy: %w", err)
	}

	s.logger.Info("opensearch initialized",
		logging.Destination(s.config.IndexPrefix),
	)
	return nil
}

func (s *OpenSearchSink) createIndexTemplate(ctx context.Context) error {
	template := map[string]any{
		"index_patterns": []string{s.config.IndexPrefix + "-*"},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   s.config.ShardCount,
				"number_of_replicas": s.config.ReplicaCount,
				"refresh_interval":   s.config.RefreshInterval,
				"codec":              "best_compression",
			},
			"mappings": eventMappings(),
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	res, err := s.client.Indices.PutIndexTemplate(
		s.config.IndexPrefix+"-template",
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("put index template: %s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

// eventMappings defines the typed fields of the event schema; everything
// else maps dynamically as text with a keyword subfield.
func eventMappings() map[string]any {
	keyword := map[string]any{"type": "keyword"}

	return map[string]any{
		"dynamic": true,
		"dynamic_templates": []map[string]any{
			{
				"strings_as_keywords": map[string]any{
					"match_mapping_type": "string",
					"mapping": map[string]any{
						"type": "text",
						"fields": map[string]any{
							"keyword": map[string]any{
								"type":         "keyword",
								"ignore_above": 256,
							},
						},
					},
				},
			},
		},
		"properties": map[string]any{
			"@timestamp":  map[string]any{"type": "date"},
			"received_at": map[string]any{"type": "date"},
			"event_id":    keyword,
			"project_id":  map[string]any{"type": "long"},
			"level":       keyword,
			"platform":    keyword,
			"environment": keyword,
			"release":     keyword,
			"transaction": keyword,
			"server_name": keyword,
			"logger":      keyword,
			"message": map[string]any{
				"type": "text",
				"fields": map[string]any{
					"keyword": map[string]any{
						"type":         "keyword",
						"ignore_above": 256,
					},
				},
			},
			"exception_type": keyword,
			"exception_value": map[string]any{
				"type": "text",
				"fields": map[string]any{
					"keyword": map[string]any{
						"type":         "keyword",
						"ignore_above": 256,
					},
				},
			},
			"stacktrace": map[string]any{"type": "text"},
			"user": map[string]any{
				"properties": map[string]any{
					"id":         keyword,
					"email_hash": keyword,
					"username":   keyword,
					"ip":         map[string]any{"type": "ip"},
				},
			},
			"geo": map[string]any{
				"properties": map[string]any{
					"country_code": keyword,
					"country_name": keyword,
					"city":         keyword,
					"location":     map[string]any{"type": "geo_point"},
				},
			},
			"browser": map[string]any{
				"properties": map[string]any{"name": keyword, "version": keyword},
			},
			"os": map[string]any{
				"properties": map[string]any{"name": keyword, "version": keyword},
			},
			"device": map[string]any{
				"properties": map[string]any{
					"family": keyword,
					"model":  keyword,
					"brand":  keyword,
					"type":   keyword,
				},
			},
			"runtime": map[string]any{
				"properties": map[string]any{"name": keyword, "version": keyword},
			},
			"request": map[string]any{
				"properties": map[string]any{"url": keyword, "method": keyword},
			},
			"tags": map[string]any{"type": "object", "dynamic": true},
			"extra": map[string]any{"type": "object", "dynamic": true},
			"sdk": map[string]any{
				"properties": map[string]any{"name": keyword, "version": keyword},
			},
			"fingerprint": keyword,
		},
	}
}

func (s *OpenSearchSink) createISMPolicy(ctx context.Context) error {
	policy := map[string]any{
		"policy": map[string]any{
			"description":   "sentrel event index lifecycle policy",
			"default_state": "hot",
			"states": []map[string]any{
				{
					"name":    "hot",
					"actions": []map[string]any{},
					"transitions": []map[string]any{
						{
							"state_name": "delete",
							"conditions": map[string]any{
								"min_index_age": fmt.Sprintf("%dd", s.config.RetentionDays),
							},
						},
					},
				},
				{
					"name": "delete",
					"actions": []map[string]any{
						{"delete": map[string]any{}},
					},
				},
			},
			"ism_template": []map[string]any{
				{
					"index_patterns": []string{s.config.IndexPrefix + "-*"},
					"priority":       100,
				},
			},
		},
	}

	body, err := json.Marshal(policy)
	if err != nil {
		return err
	}

	policyName := s.config.IndexPrefix + "-policy"
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPut,
		"/_plugins/_ism/policies/"+policyName,
		bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Transport.Perform(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	// 409 means the policy already exists with this name; fine.
	if res.StatusCode >= 400 && res.StatusCode != http.StatusConflict {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("put ISM policy: %d - %s", res.StatusCode, string(bodyBytes))
	}
	return nil
}
