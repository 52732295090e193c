package billing

import (
	"time"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

// WebhookEvent contains information about a successfully applied webhook
// event. It is passed to the WebhookCallback after the plan has been
// written to the profile store.
type WebhookEvent struct {
	// ProfileID is the internal profile identifier
	ProfileID string

	// Email is the customer email the event was resolved against
	Email string

	// PreviousPlan is the plan before the webhook update
	PreviousPlan profiles.Plan

	// NewPlan is the plan after the webhook update
	NewPlan profiles.Plan

	// Provider is the billing provider name ("lemonsqueezy")
	Provider string

	// EventType is the provider-specific event name, e.g.
	// "subscription_created" or "subscription_cancelled"
	EventType string

	// ReceivedAt is when this delivery was received
	ReceivedAt time.Time
}
