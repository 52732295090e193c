package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

// WebhookCallback is invoked after a webhook event has been applied to the
// profile store. Returning an error causes the webhook to respond with a
// server error so the provider redelivers; the plan write is not rolled back.
type WebhookCallback func(ctx context.Context, event WebhookEvent) error

// Config defines the standard configuration all providers should accept.
// All collaborators are injected explicitly; nothing is read from the
// environment inside request logic.
type Config struct {
	// Store is the profile store that plan transitions are written to.
	Store profiles.Store

	// SigningSecret verifies incoming webhook requests (hex HMAC-SHA256
	// over the raw body). If empty, the webhook responds with a server
	// configuration error for every request.
	SigningSecret string

	// APIKey is used for outbound API calls to the billing provider
	// (e.g. SyncUser).
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	// Allows custom timeouts, proxies, or instrumentation.
	HTTPClient *http.Client

	// AllowUnsigned skips signature verification when the signature header
	// is absent, matching deployments from before signing was enforced.
	// Defaults to false: unsigned requests are rejected. A
	// present-but-invalid signature is always rejected regardless.
	AllowUnsigned bool

	// MaxBodyBytes caps the webhook request body. Zero means the default
	// of 256KB.
	MaxBodyBytes int64

	// RateLimit and RateLimitWindow configure the per-IP webhook rate
	// limiter. Zero values mean 100 requests per minute.
	RateLimit       int
	RateLimitWindow time.Duration

	// Logger is an optional structured logger. If nil, logging is a no-op.
	Logger profiles.Logger

	// Metrics is an optional metrics collector for tracking billing
	// provider operations. If nil, metrics will be silently ignored.
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for
	// Prometheus metrics.
	Metrics Metrics

	// WebhookCallback is an optional hook invoked after each applied
	// webhook event (e.g. to send a confirmation email or bust caches).
	WebhookCallback WebhookCallback
}
