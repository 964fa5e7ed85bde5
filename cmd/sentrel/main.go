package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yasinyaman/sentrel/internal/admission"
	"github.com/yasinyaman/sentrel/internal/auth"
	"github.com/yasinyaman/sentrel/internal/batch"
	"github.com/yasinyaman/sentrel/internal/config"
	"github.com/yasinyaman/sentrel/internal/dispatch"
	"github.com/yasinyaman/sentrel/internal/dlq"
	"github.com/yasinyaman/sentrel/internal/enrich"
	"github.com/yasinyaman/sentrel/internal/handlers"
	"github.com/yasinyaman/sentrel/internal/logging"
	natsclient "github.com/yasinyaman/sentrel/internal/messaging/nats"
	"github.com/yasinyaman/sentrel/internal/ratelimit"
	"github.com/yasinyaman/sentrel/internal/server"
	"github.com/yasinyaman/sentrel/internal/service"
	"github.com/yasinyaman/sentrel/internal/sink"
	"github.com/yasinyaman/sentrel/internal/transform"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("sentrel"))
	logging.SetDefault(logger)

	slog.Info("Starting event collector",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("opensearch_url", cfg.OpenSearch.URL),
	)

	// Credential registry
	creds := make([]auth.Credential, 0, len(cfg.Auth.Projects))
	for _, p := range cfg.Auth.Projects {
		creds = append(creds, auth.Credential{ProjectID: p.ProjectID, PublicKey: p.PublicKey})
	}
	registry := auth.NewRegistry(creds)
	if cfg.Auth.Required && registry.Len() == 0 {
		log.Fatal("auth.required is set but no project keys are configured")
	}

	// Rate limiter
	var limiter ratelimit.Limiter
	switch {
	case !cfg.Ingestion.RateLimitEnabled:
		limiter = &ratelimit.NoOpLimiter{}
		slog.Info("Rate limiting disabled in configuration")
	case cfg.Ingestion.RateLimitBackend == "redis" && cfg.Redis.Enabled:
		redisLimiter, err := ratelimit.NewRedisLimiter(
			cfg.Redis.URL,
			cfg.Ingestion.RateLimitRequests,
			cfg.Ingestion.RateLimitWindow,
		)
		if err != nil {
			slog.Warn("Redis rate limiter unavailable, falling back to local",
				slog.String("error", err.Error()))
			limiter = ratelimit.NewLocalLimiter(
				cfg.Ingestion.RateLimitRequests,
				cfg.Ingestion.RateLimitWindow,
				time.Now,
			)
		} else {
			limiter = redisLimiter
			slog.Info("Redis rate limiting enabled",
				slog.Int("requests", cfg.Ingestion.RateLimitRequests),
				slog.String("window", cfg.Ingestion.RateLimitWindow.String()))
		}
	default:
		limiter = ratelimit.NewLocalLimiter(
			cfg.Ingestion.RateLimitRequests,
			cfg.Ingestion.RateLimitWindow,
			time.Now,
		)
		slog.Info("Local rate limiting enabled",
			slog.Int("requests", cfg.Ingestion.RateLimitRequests),
			slog.String("window", cfg.Ingestion.RateLimitWindow.String()))
	}
	defer limiter.Close()

	// GeoIP resolver
	var geo enrich.GeoResolver
	if cfg.Enrichment.GeoIPEnabled && cfg.Enrichment.GeoIPDatabase != "" {
		geo, err = enrich.NewMaxMindResolver(cfg.Enrichment.GeoIPDatabase)
		if err != nil {
			slog.Warn("GeoIP database unavailable, geo enrichment disabled",
				slog.String("path", cfg.Enrichment.GeoIPDatabase),
				slog.String("error", err.Error()))
			geo = nil
		} else {
			slog.Info("GeoIP enrichment enabled",
				slog.String("database", cfg.Enrichment.GeoIPDatabase))
		}
	}

	// Dead letter queue
	var dlqWriter dlq.Writer = dlq.NopWriter{}
	if cfg.DLQ.Enabled {
		switch cfg.DLQ.Backend {
		case "jetstream":
			jsClient, err := natsclient.NewJetStreamClient(natsclient.Config{
				URL:           cfg.DLQ.NatsURL,
				Name:          "sentrel-dlq",
				MaxReconnects: -1,
				ReconnectWait: 2 * time.Second,
				Timeout:       5 * time.Second,
			})
			if err != nil {
				log.Fatalf("Failed to connect to NATS for DLQ: %v", err)
			}
			jsWriter, err := dlq.NewJetStreamWriter(context.Background(), jsClient, logger)
			if err != nil {
				log.Fatalf("Failed to initialize JetStream DLQ: %v", err)
			}
			dlqWriter = jsWriter
			slog.Info("Dead letter queue enabled",
				slog.String("backend", "jetstream"),
				slog.String("nats_url", cfg.DLQ.NatsURL))
		case "file", "":
			fileWriter, err := dlq.NewFileWriter(cfg.DLQ.BasePath, logger)
			if err != nil {
				log.Fatalf("Failed to initialize file DLQ: %v", err)
			}
			dlqWriter = fileWriter
			slog.Info("Dead letter queue enabled",
				slog.String("backend", "file"),
				slog.String("path", cfg.DLQ.BasePath))
		default:
			log.Fatalf("Unknown DLQ backend: %s (supported: file, jetstream)", cfg.DLQ.Backend)
		}
	} else {
		slog.Info("Dead letter queue disabled")
	}
	defer dlqWriter.Close()

	// OpenSearch sink
	osSink, err := sink.NewOpenSearchSink(sink.Config{
		URL:             cfg.OpenSearch.URL,
		Username:        cfg.OpenSearch.Username,
		Password:        cfg.OpenSearch.Password,
		TLSSkipVerify:   cfg.OpenSearch.TLSSkipVerify,
		IndexPrefix:     cfg.OpenSearch.IndexPrefix,
		ShardCount:      cfg.OpenSearch.ShardCount,
		ReplicaCount:    cfg.OpenSearch.ReplicaCount,
		RefreshInterval: cfg.OpenSearch.RefreshInterval,
		RetentionDays:   cfg.OpenSearch.RetentionDays,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to create OpenSearch client: %v", err)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := osSink.Initialize(initCtx); err != nil {
		slog.Warn("OpenSearch initialization failed, indexing may fail until the cluster is reachable",
			slog.String("error", err.Error()))
	}
	initCancel()

	// Dispatcher and batch accumulator
	dispatcher := dispatch.New(dispatch.Config{
		Workers:        cfg.Dispatch.Workers,
		QueueSize:      cfg.Dispatch.QueueSize,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		InitialBackoff: cfg.Dispatch.InitialBackoff,
		MaxBackoff:     cfg.Dispatch.MaxBackoff,
		AttemptTimeout: cfg.Dispatch.AttemptTimeout,
		ShutdownGrace:  cfg.Dispatch.ShutdownGrace,
	}, osSink, dlqWriter, logger)
	dispatcher.Start()

	accumulator := batch.New(batch.Config{
		MaxEvents:     cfg.Batch.MaxEvents,
		MaxBytes:      cfg.Batch.MaxBytes,
		MaxAge:        cfg.Batch.MaxAge,
		SweepInterval: cfg.Batch.SweepInterval,
	}, func(ctx context.Context, b *batch.Batch) {
		if err := dispatcher.Enqueue(ctx, b); err != nil {
			slog.Error("Failed to enqueue batch",
				slog.String("destination", b.Destination),
				slog.Int("events", len(b.Entries)),
				slog.String("error", err.Error()))
		}
	}, logger, time.Now)
	accumulator.Start()

	// Pipeline
	controller := admission.NewController(registry, limiter, cfg.Auth.Required)
	transformer := transform.New(time.Now)
	chain := enrich.NewChain(logger, enrich.DefaultStages(geo, cfg.Enrichment.TagKeyMaxLen)...)
	processor := service.NewProcessor(
		controller,
		transformer,
		chain,
		accumulator,
		cfg.OpenSearch.IndexPrefix,
		logger,
	)

	handler := handlers.NewIngestHandler(processor, cfg.Ingestion.MaxRequestSize, logger)
	router := server.NewRouter(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Collector listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down")

	// Stop admitting first, then force-seal open batches, then drain the
	// dispatch queue. The order matters: events accepted with a 200 must
	// reach the sink or the dead letter queue.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Dispatch.ShutdownGrace)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", slog.String("error", err.Error()))
	}

	accumulator.Close(shutdownCtx)

	if err := dispatcher.Close(); err != nil {
		slog.Error("Dispatch drain incomplete", slog.String("error", err.Error()))
	}

	slog.Info("Collector stopped")
}
