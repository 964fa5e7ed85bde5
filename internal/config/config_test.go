package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 30s", cfg.Server.ReadTimeout)
	}
	if !cfg.Auth.Required {
		t.Error("Auth.Required should be true by default")
	}
	if cfg.Ingestion.MaxRequestSize != 5*1024*1024 {
		t.Errorf("Ingestion.MaxRequestSize = %d, want 5MiB", cfg.Ingestion.MaxRequestSize)
	}
	if !cfg.Ingestion.RateLimitEnabled {
		t.Error("Ingestion.RateLimitEnabled should be true by default")
	}
	if cfg.Ingestion.RateLimitBackend != "local" {
		t.Errorf("Ingestion.RateLimitBackend = %q, want %q", cfg.Ingestion.RateLimitBackend, "local")
	}
	if cfg.Ingestion.RateLimitWindow != time.Minute {
		t.Errorf("Ingestion.RateLimitWindow = %v, want 1m", cfg.Ingestion.RateLimitWindow)
	}
	if cfg.Batch.MaxEvents != 100 {
		t.Errorf("Batch.MaxEvents = %d, want 100", cfg.Batch.MaxEvents)
	}
	if cfg.Batch.MaxAge != 5*time.Second {
		t.Errorf("Batch.MaxAge = %v, want 5s", cfg.Batch.MaxAge)
	}
	if cfg.Dispatch.MaxAttempts != 5 {
		t.Errorf("Dispatch.MaxAttempts = %d, want 5", cfg.Dispatch.MaxAttempts)
	}
	if cfg.Dispatch.InitialBackoff != 500*time.Millisecond {
		t.Errorf("Dispatch.InitialBackoff = %v, want 500ms", cfg.Dispatch.InitialBackoff)
	}
	if cfg.OpenSearch.URL != "http://localhost:9200" {
		t.Errorf("OpenSearch.URL = %q, want %q", cfg.OpenSearch.URL, "http://localhost:9200")
	}
	if cfg.OpenSearch.IndexPrefix != "sentry-events" {
		t.Errorf("OpenSearch.IndexPrefix = %q, want %q", cfg.OpenSearch.IndexPrefix, "sentry-events")
	}
	if cfg.OpenSearch.RetentionDays != 30 {
		t.Errorf("OpenSearch.RetentionDays = %d, want 30", cfg.OpenSearch.RetentionDays)
	}
	if cfg.DLQ.Backend != "file" {
		t.Errorf("DLQ.Backend = %q, want %q", cfg.DLQ.Backend, "file")
	}
	if cfg.Redis.Enabled {
		t.Error("Redis.Enabled should be false by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Enrichment.TagKeyMaxLen != 32 {
		t.Errorf("Enrichment.TagKeyMaxLen = %d, want 32", cfg.Enrichment.TagKeyMaxLen)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9999
auth:
  required: false
  projects:
    - project_id: 42
      public_key: abc123
opensearch:
  index_prefix: errors
batch:
  max_events: 7
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Auth.Required {
		t.Error("Auth.Required should be overridden to false")
	}
	if len(cfg.Auth.Projects) != 1 {
		t.Fatalf("Auth.Projects length = %d, want 1", len(cfg.Auth.Projects))
	}
	if cfg.Auth.Projects[0].ProjectID != 42 || cfg.Auth.Projects[0].PublicKey != "abc123" {
		t.Errorf("Auth.Projects[0] = %+v, want project 42 / abc123", cfg.Auth.Projects[0])
	}
	if cfg.OpenSearch.IndexPrefix != "errors" {
		t.Errorf("OpenSearch.IndexPrefix = %q, want %q", cfg.OpenSearch.IndexPrefix, "errors")
	}
	if cfg.Batch.MaxEvents != 7 {
		t.Errorf("Batch.MaxEvents = %d, want 7", cfg.Batch.MaxEvents)
	}
	// Untouched sections keep their defaults.
	if cfg.Dispatch.Workers != 4 {
		t.Errorf("Dispatch.Workers = %d, want default 4", cfg.Dispatch.Workers)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SENTREL_SERVER_PORT", "8123")
	t.Setenv("SENTREL_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("Server.Port = %d, want env override 8123", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want env override %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() with non-existent file path should return error")
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("invalid: yaml: : :"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() with invalid YAML should return error")
	}
}
