package billing

import (
	"context"
	"net/http"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

// Provider is the generic interface that any billing backend must implement.
// This keeps the application decoupled from the concrete payment platform.
type Provider interface {
	// Name returns the provider name (e.g., "lemonsqueezy")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles validation, parsing, and profile updates internally.
	WebhookHandler() http.Handler

	// SyncUser forces a synchronization of the user's plan from the provider's
	// API into the profile store. This is used for drift repair when webhook
	// deliveries were missed, or for nightly reconciliation jobs.
	// Returns the detected plan and any error.
	SyncUser(ctx context.Context, email string) (profiles.Plan, error)
}
