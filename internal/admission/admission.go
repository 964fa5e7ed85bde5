// Package admission gates decoded traffic: credential validation against the
// project registry, then the per-project rate limit. Both checks happen
// before any event enters the pipeline.
package admission

import (
	"context"
	"fmt"
	"net/http"

	"github.com/yasinyaman/sentrel/internal/auth"
	"github.com/yasinyaman/sentrel/internal/metrics"
	"github.com/yasinyaman/sentrel/internal/ratelimit"
)

// Reason classifies a request-path rejection.
type Reason string

const (
	ReasonUnauthorized    Reason = "unauthorized"
	ReasonRateLimited     Reason = "rate_limited"
	ReasonPayloadTooLarge Reason = "payload_too_large"
	ReasonMalformed       Reason = "malformed"
)

// RejectError is a synchronous request-path rejection, reported to the
// producer with enough detail to distinguish the cause.
type RejectError struct {
	Reason Reason
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// HTTPStatus maps the rejection to its response status code.
func (e *RejectError) HTTPStatus() int {
	switch e.Reason {
	case ReasonUnauthorized:
		return http.StatusUnauthorized
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

// Reject builds a RejectError.
func Reject(reason Reason, format string, args ...any) *RejectError {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Controller owns the credential registry and rate limiter. It carries no
// ambient state; tests construct isolated instances.
type Controller struct {
	registry     *auth.Registry
	limiter      ratelimit.Limiter
	authRequired bool
}

// NewController builds an admission controller. When authRequired is false,
// credential validation is skipped entirely (development mode).
func NewController(registry *auth.Registry, limiter ratelimit.Limiter, authRequired bool) *Controller {
	return &Controller{
		registry:     registry,
		limiter:      limiter,
		authRequired: authRequired,
	}
}

// Admit validates the credential and consumes rate-limit budget for the
// project. Cost defaults to 1 per request regardless of item count. A nil
// return means the request is admitted.
func (c *Controller) Admit(ctx context.Context, projectID int64, publicKey string, cost int) error {
	if cost <= 0 {
		cost = 1
	}

	if c.authRequired {
		if !c.registry.Validate(projectID, publicKey) {
			metrics.RequestsRejected.WithLabelValues(string(ReasonUnauthorized)).Inc()
			return Reject(ReasonUnauthorized, "invalid credential for project %d", projectID)
		}
	}

	key := fmt.Sprintf("%d", projectID)
	allowed, err := c.limiter.Allow(ctx, key, cost)
	if err != nil {
		// A broken limiter backend must not take ingestion down with it.
		return nil
	}
	if !allowed {
		metrics.RequestsRejected.WithLabelValues(string(ReasonRateLimited)).Inc()
		metrics.RateLimitHits.WithLabelValues(key).Inc()
		return Reject(ReasonRateLimited, "project %d over rate limit", projectID)
	}

	return nil
}

// CheckSize rejects oversized bodies before any decoding happens. A zero
// limit disables the check.
func CheckSize(size int64, limit int) error {
	if limit > 0 && size > int64(limit) {
		metrics.RequestsRejected.WithLabelValues(string(ReasonPayloadTooLarge)).Inc()
		return Reject(ReasonPayloadTooLarge, "request body %d bytes exceeds limit %d", size, limit)
	}
	return nil
}
