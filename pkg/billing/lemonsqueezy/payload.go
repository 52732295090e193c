package lemonsqueezy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// webhookPayload represents the slice of the Lemon Squeezy webhook payload
// this system acts on. The full payload carries many more attributes; they
// are deliberately not modeled so future additions by the provider cannot
// break parsing.
type webhookPayload struct {
	Meta struct {
		EventName string `json:"event_name"`
	} `json:"meta"`

	Data struct {
		Attributes struct {
			UserEmail     string `json:"user_email"`
			CustomerEmail string `json:"customer_email"`
		} `json:"attributes"`
	} `json:"data"`
}

// parseWebhookPayload parses the raw webhook body. The body must be the
// exact bytes the signature was verified against.
func parseWebhookPayload(body []byte) (*webhookPayload, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	return &payload, nil
}

// eventName returns the provider event name, or "UNKNOWN" when absent.
func (p *webhookPayload) eventName() string {
	name := strings.TrimSpace(p.Meta.EventName)
	if name == "" {
		return "UNKNOWN"
	}
	return name
}

// customerEmail resolves the customer email, preferring user_email and
// falling back to customer_email. Returns "" when neither is present.
func (p *webhookPayload) customerEmail() string {
	if email := strings.TrimSpace(p.Data.Attributes.UserEmail); email != "" {
		return email
	}
	return strings.TrimSpace(p.Data.Attributes.CustomerEmail)
}
