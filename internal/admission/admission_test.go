package admission

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/yasinyaman/sentrel/internal/auth"
	"github.com/yasinyaman/sentrel/internal/ratelimit"
)

// failingLimiter simulates a broken limiter backend.
type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string, cost int) (bool, error) {
	return false, errors.New("backend down")
}
func (failingLimiter) Close() error { return nil }

func testRegistry() *auth.Registry {
	return auth.NewRegistry([]auth.Credential{
		{ProjectID: 1, PublicKey: "goodkey"},
	})
}

func TestAdmitValidCredential(t *testing.T) {
	c := NewController(testRegistry(), &ratelimit.NoOpLimiter{}, true)

	if err := c.Admit(context.Background(), 1, "goodkey", 1); err != nil {
		t.Errorf("valid credential rejected: %v", err)
	}
}

func TestAdmitInvalidCredential(t *testing.T) {
	c := NewController(testRegistry(), &ratelimit.NoOpLimiter{}, true)

	tests := []struct {
		name      string
		projectID int64
		key       string
	}{
		{"wrong key", 1, "badkey"},
		{"unknown project", 99, "goodkey"},
		{"empty key", 1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Admit(context.Background(), tt.projectID, tt.key, 1)
			var reject *RejectError
			if !errors.As(err, &reject) {
				t.Fatalf("expected RejectError, got %v", err)
			}
			if reject.Reason != ReasonUnauthorized {
				t.Errorf("reason = %q", reject.Reason)
			}
			if reject.HTTPStatus() != http.StatusUnauthorized {
				t.Errorf("status = %d", reject.HTTPStatus())
			}
		})
	}
}

func TestAdmitAuthDisabled(t *testing.T) {
	c := NewController(auth.NewRegistry(nil), &ratelimit.NoOpLimiter{}, false)

	if err := c.Admit(context.Background(), 42, "", 1); err != nil {
		t.Errorf("auth disabled should admit anything: %v", err)
	}
}

func TestAdmitRateLimited(t *testing.T) {
	limiter := ratelimit.NewLocalLimiter(2, time.Minute, nil)
	c := NewController(testRegistry(), limiter, true)
	ctx := context.Background()

	if err := c.Admit(ctx, 1, "goodkey", 1); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if err := c.Admit(ctx, 1, "goodkey", 1); err != nil {
		t.Fatalf("second request rejected: %v", err)
	}

	err := c.Admit(ctx, 1, "goodkey", 1)
	var reject *RejectError
	if !errors.As(err, &reject) {
		t.Fatalf("expected RejectError, got %v", err)
	}
	if reject.Reason != ReasonRateLimited {
		t.Errorf("reason = %q", reject.Reason)
	}
	if reject.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("status = %d", reject.HTTPStatus())
	}
}

func TestAdmitLimiterFailureAdmits(t *testing.T) {
	c := NewController(testRegistry(), failingLimiter{}, true)

	// A broken limiter backend must not block ingestion.
	if err := c.Admit(context.Background(), 1, "goodkey", 1); err != nil {
		t.Errorf("limiter failure should admit, got %v", err)
	}
}

func TestCheckSize(t *testing.T) {
	if err := CheckSize(100, 1000); err != nil {
		t.Errorf("under limit should pass: %v", err)
	}
	if err := CheckSize(1000, 1000); err != nil {
		t.Errorf("at limit should pass: %v", err)
	}

	err := CheckSize(1001, 1000)
	var reject *RejectError
	if !errors.As(err, &reject) {
		t.Fatalf("expected RejectError, got %v", err)
	}
	if reject.Reason != ReasonPayloadTooLarge {
		t.Errorf("reason = %q", reject.Reason)
	}
	if reject.HTTPStatus() != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d", reject.HTTPStatus())
	}

	// Zero limit disables the check.
	if err := CheckSize(1<<30, 0); err != nil {
		t.Errorf("zero limit should disable check: %v", err)
	}
}
