package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yasinyaman/sentrel/internal/handlers"
	"github.com/yasinyaman/sentrel/internal/middleware"
)

// NewRouter constructs a ServeMux with the SDK ingestion routes registered.
func NewRouter(h *handlers.IngestHandler) http.Handler {
	mux := http.NewServeMux()

	// SDK wire endpoints
	mux.HandleFunc("POST /api/{project_id}/envelope/", h.HandleEnvelope)
	mux.HandleFunc("POST /api/{project_id}/envelope", h.HandleEnvelope)
	mux.HandleFunc("POST /api/{project_id}/store/", h.HandleStore)
	mux.HandleFunc("POST /api/{project_id}/store", h.HandleStore)
	mux.HandleFunc("POST /api/{project_id}/security/", h.HandleSecurity)
	mux.HandleFunc("POST /api/{project_id}/security", h.HandleSecurity)
	mux.HandleFunc("POST /api/{project_id}/minidump/", h.HandleMinidump)
	mux.HandleFunc("POST /api/{project_id}/minidump", h.HandleMinidump)
	mux.HandleFunc("GET /api/{project_id}/", h.HandleProjectInfo)

	// Health endpoints
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
