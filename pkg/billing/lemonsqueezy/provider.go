// Package lemonsqueezy implements the billing.Provider interface for
// Lemon Squeezy. The webhook handler verifies signed event notifications
// and reconciles them into the profile store; SyncUser repairs drift by
// querying the Lemon Squeezy API directly.
package lemonsqueezy

import (
	"net/http"
	"strings"
	"time"

	"github.com/studyhall-ai/lemonsync/pkg/billing"
	"github.com/studyhall-ai/lemonsync/pkg/billing/internal"
	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

const (
	providerName             = "lemonsqueezy"
	lemonSqueezyAPIBaseURL   = "https://api.lemonsqueezy.com/v1"
	defaultHTTPTimeout       = 10 * time.Second
	defaultMaxBodyBytes      = 256 * 1024
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Provider implements the billing.Provider interface for Lemon Squeezy
type Provider struct {
	store         profiles.Store
	config        billing.Config
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	signingSecret []byte
	apiKey        string
	apiBaseURL    string
	allowUnsigned bool
	maxBodyBytes  int64
	logger        profiles.Logger
	metrics       billing.Metrics
	callback      billing.WebhookCallback
}

// NewProvider creates a new Lemon Squeezy billing provider
func NewProvider(config billing.Config) (*Provider, error) {
	if config.Store == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	apiKey := strings.TrimSpace(config.APIKey)
	// Allow the API key to be provided as a Bearer token and strip the prefix.
	if strings.HasPrefix(strings.ToLower(apiKey), "bearer ") {
		apiKey = strings.TrimSpace(apiKey[len("bearer "):])
	}

	maxBodyBytes := config.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = defaultRateLimitRequests
	}
	rateLimitWindow := config.RateLimitWindow
	if rateLimitWindow <= 0 {
		rateLimitWindow = defaultRateLimitWindow
	}
	limiter := internal.NewRateLimiter(rateLimit, rateLimitWindow)

	logger := config.Logger
	if logger == nil {
		logger = &profiles.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		store:         config.Store,
		config:        config,
		httpClient:    httpClient,
		rateLimiter:   limiter,
		signingSecret: []byte(strings.TrimSpace(config.SigningSecret)),
		apiKey:        apiKey,
		apiBaseURL:    lemonSqueezyAPIBaseURL,
		allowUnsigned: config.AllowUnsigned,
		maxBodyBytes:  maxBodyBytes,
		logger:        logger,
		metrics:       metrics,
		callback:      config.WebhookCallback,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Lemon Squeezy webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	// Wrap with rate limiting
	return p.rateLimiter.Middleware(handler)
}
