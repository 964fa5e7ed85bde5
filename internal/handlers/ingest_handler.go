// Package handlers exposes the SDK-facing ingestion endpoints.
package handlers

import (
	"compress/gzip"
	"compress/zlib"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yasinyaman/sentrel/internal/admission"
	"github.com/yasinyaman/sentrel/internal/auth"
	"github.com/yasinyaman/sentrel/internal/enrich"
	"github.com/yasinyaman/sentrel/internal/envelope"
	"github.com/yasinyaman/sentrel/internal/logging"
	"github.com/yasinyaman/sentrel/internal/metrics"
	"github.com/yasinyaman/sentrel/internal/service"
)

// IngestHandler serves the SDK wire endpoints for a project.
type IngestHandler struct {
	processor      *service.Processor
	maxRequestSize int
	logger         *logging.Logger
}

// NewIngestHandler creates the handler.
func NewIngestHandler(processor *service.Processor, maxRequestSize int, logger *logging.Logger) *IngestHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &IngestHandler{
		processor:      processor,
		maxRequestSize: maxRequestSize,
		logger:         logger,
	}
}

// HandleEnvelope accepts an SDK envelope and responds with the event ID.
func (h *IngestHandler) HandleEnvelope(w http.ResponseWriter, r *http.Request) {
	h.handleIngest(w, r, "envelope")
}

// HandleStore accepts the legacy single-event store payload.
func (h *IngestHandler) HandleStore(w http.ResponseWriter, r *http.Request) {
	h.handleIngest(w, r, "store")
}

func (h *IngestHandler) handleIngest(w http.ResponseWriter, r *http.Request, endpoint string) {
	projectID, ok := h.projectID(w, r, endpoint)
	if !ok {
		return
	}

	body, err := h.readBody(w, r, endpoint)
	if err != nil {
		return
	}

	publicKey := auth.ExtractPublicKey(r.Header.Get("X-Sentry-Auth"), r.URL.Query())
	md := requestMetadata(r)

	ids, err := h.processor.ProcessEnvelope(r.Context(), projectID, publicKey, body, md)
	if err != nil {
		h.sendPipelineError(w, r, endpoint, err)
		return
	}

	metrics.RequestsTotal.WithLabelValues(endpoint, "200").Inc()
	id := ""
	if len(ids) > 0 {
		id = ids[0]
	}
	h.sendJSON(w, http.StatusOK, map[string]string{"id": id})
}

// HandleSecurity accepts browser security reports (CSP and friends).
func (h *IngestHandler) HandleSecurity(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r, "security")
	if !ok {
		return
	}

	body, err := h.readBody(w, r, "security")
	if err != nil {
		return
	}

	publicKey := auth.ExtractPublicKey(r.Header.Get("X-Sentry-Auth"), r.URL.Query())
	md := requestMetadata(r)

	id, err := h.processor.ProcessSecurity(r.Context(), projectID, publicKey, body, md)
	if err != nil {
		h.sendPipelineError(w, r, "security", err)
		return
	}

	metrics.RequestsTotal.WithLabelValues("security", "201").Inc()
	h.sendJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// HandleMinidump acknowledges minidump uploads without storing the dump.
// Crash payload processing needs a symbolication pipeline this collector
// does not carry; the SDK only requires a well-formed acknowledgment.
func (h *IngestHandler) HandleMinidump(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.projectID(w, r, "minidump"); !ok {
		return
	}
	io.Copy(io.Discard, io.LimitReader(r.Body, int64(h.maxRequestSize)))
	metrics.RequestsTotal.WithLabelValues("minidump", "200").Inc()
	h.sendJSON(w, http.StatusOK, map[string]string{"id": service.NewEventID()})
}

// HandleProjectInfo answers the SDK connectivity probe for a project.
func (h *IngestHandler) HandleProjectInfo(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r, "project")
	if !ok {
		return
	}
	h.sendJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"status":     "ok",
	})
}

// Health reports process liveness.
func (h *IngestHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready reports whether the pipeline is accepting events.
func (h *IngestHandler) Ready(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *IngestHandler) projectID(w http.ResponseWriter, r *http.Request, endpoint string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("project_id"), 10, 64)
	if err != nil || id <= 0 {
		metrics.RequestsTotal.WithLabelValues(endpoint, "400").Inc()
		h.sendJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid project id"})
		return 0, false
	}
	return id, true
}

// readBody reads the request body, honoring Content-Encoding and the
// request size limit. The limit applies to the decompressed size.
func (h *IngestHandler) readBody(w http.ResponseWriter, r *http.Request, endpoint string) ([]byte, error) {
	var reader io.Reader = r.Body
	defer r.Body.Close()

	// Fast path: a declared Content-Length over the limit never gets read.
	if err := admission.CheckSize(r.ContentLength, h.maxRequestSize); err != nil {
		metrics.RequestsTotal.WithLabelValues(endpoint, "413").Inc()
		h.sendJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
		return nil, err
	}

	switch strings.ToLower(r.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			metrics.RequestsTotal.WithLabelValues(endpoint, "400").Inc()
			h.sendJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid gzip body"})
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		zr, err := zlib.NewReader(r.Body)
		if err != nil {
			metrics.RequestsTotal.WithLabelValues(endpoint, "400").Inc()
			h.sendJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid deflate body"})
			return nil, err
		}
		defer zr.Close()
		reader = zr
	}

	body, err := io.ReadAll(io.LimitReader(reader, int64(h.maxRequestSize)+1))
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(endpoint, "400").Inc()
		h.sendJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return nil, err
	}
	// The limit applies to the decompressed size, which Content-Length
	// cannot see for encoded bodies.
	if err := admission.CheckSize(int64(len(body)), h.maxRequestSize); err != nil {
		metrics.RequestsTotal.WithLabelValues(endpoint, "413").Inc()
		h.sendJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
		return nil, err
	}
	return body, nil
}

func (h *IngestHandler) sendPipelineError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	var reject *admission.RejectError
	switch {
	case errors.As(err, &reject):
		status := reject.HTTPStatus()
		metrics.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
		if reject.Reason == admission.ReasonRateLimited {
			w.Header().Set("Retry-After", "1")
		}
		h.sendJSON(w, status, map[string]string{"error": string(reject.Reason)})
	case errors.Is(err, envelope.ErrMalformed):
		metrics.RequestsTotal.WithLabelValues(endpoint, "400").Inc()
		h.sendJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed envelope"})
	default:
		metrics.RequestsTotal.WithLabelValues(endpoint, "500").Inc()
		h.logger.ErrorContext(r.Context(), "ingest failed", logging.Error(err))
		h.sendJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *IngestHandler) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// requestMetadata captures the request attributes enrichment consumes.
func requestMetadata(r *http.Request) enrich.Metadata {
	return enrich.Metadata{
		RemoteIP:   clientIP(r),
		UserAgent:  r.Header.Get("User-Agent"),
		ReceivedAt: time.Now().UTC(),
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
