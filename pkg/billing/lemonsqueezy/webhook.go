package lemonsqueezy

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/studyhall-ai/lemonsync/pkg/billing"
	"github.com/studyhall-ai/lemonsync/pkg/billing/internal"
	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

// corsAllowHeaders lists the headers the Lemon Squeezy dashboard test
// deliveries and browser-originated pings may send.
const corsAllowHeaders = "authorization, x-client-info, apikey, content-type, x-signature"

// webhookResponse is the JSON body returned to the billing provider.
type webhookResponse struct {
	Success bool   `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// handleWebhook processes incoming Lemon Squeezy webhook events.
//
// The pipeline is: method gate, configuration check, raw body read,
// signature verification, payload parse, event classification, profile
// lookup, plan overwrite. Error conditions are mutually exclusive and
// checked in that order; only the first applicable one responds. The plan
// write is an unconditional overwrite, so provider redelivery of the same
// event is safe. Two concurrent conflicting deliveries for one email race
// last-write-wins at the store; billing events are rare and ordered enough
// that this is accepted rather than papered over with compare-and-swap.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setCORSHeaders(w)
	setSecurityHeaders(w)

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("webhook panic", profiles.Field{Key: "panic", Value: rec})
			p.metrics.RecordWebhookError(providerName, "panic")
			p.writeResponse(w, http.StatusInternalServerError, webhookResponse{Error: "Internal server error"})
		}
	}()

	// CORS preflight
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method != http.MethodPost {
		p.metrics.RecordWebhookError(providerName, "method_not_allowed")
		p.writeResponse(w, http.StatusMethodNotAllowed, webhookResponse{Error: "Method not allowed"})
		return
	}

	// A missing signing secret is a deployment fault, not a per-request
	// fault: fail closed before touching the payload or the store.
	if len(p.signingSecret) == 0 {
		p.logger.Error("signing secret not configured")
		p.metrics.RecordWebhookError(providerName, "config_error")
		p.writeResponse(w, http.StatusInternalServerError, webhookResponse{Error: "Server configuration error"})
		return
	}

	select {
	case <-r.Context().Done():
		p.writeResponse(w, http.StatusRequestTimeout, webhookResponse{Error: "Request timeout"})
		return
	default:
	}

	// Read the raw body exactly once; the signature covers these bytes.
	body, err := internal.ReadBodyStrict(w, r, p.maxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
			p.writeResponse(w, http.StatusRequestEntityTooLarge, webhookResponse{Error: "Payload too large"})
		} else {
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			p.writeResponse(w, http.StatusBadRequest, webhookResponse{Error: "Invalid payload"})
		}
		return
	}

	sig := strings.TrimSpace(r.Header.Get("X-Signature"))
	if sig == "" {
		if !p.allowUnsigned {
			p.logger.Warn("unsigned webhook rejected", p.clientField(r))
			p.metrics.RecordWebhookError(providerName, "auth_failed")
			p.writeResponse(w, http.StatusUnauthorized, webhookResponse{Error: "Missing signature"})
			return
		}
	} else if !p.verifySignature(sig, body) {
		p.logger.Warn("invalid webhook signature", p.clientField(r))
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		p.writeResponse(w, http.StatusUnauthorized, webhookResponse{Error: "Invalid signature"})
		return
	}

	payload, err := parseWebhookPayload(body)
	if err != nil {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		p.writeResponse(w, http.StatusBadRequest, webhookResponse{Error: "Invalid payload"})
		return
	}

	eventName := payload.eventName()
	email := payload.customerEmail()

	p.logger.Debug("webhook received",
		profiles.Field{Key: "event", Value: eventName},
		profiles.Field{Key: "email", Value: email},
	)

	if email == "" {
		p.logger.Warn("no email in webhook payload", profiles.Field{Key: "event", Value: eventName})
		p.metrics.RecordWebhookError(providerName, "missing_email")
		p.writeResponse(w, http.StatusBadRequest, webhookResponse{Error: "No email in payload"})
		return
	}

	targetPlan, handled := planForEvent(eventName)
	if !handled {
		// Lemon Squeezy sends many event types this system does not act
		// on. Acknowledge so the provider stops redelivering.
		p.metrics.RecordWebhookEvent(providerName, eventName, "ignored")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventName, time.Since(startTime))
		p.writeResponse(w, http.StatusOK, webhookResponse{Success: true, Message: "Event type not handled"})
		return
	}

	code, resp := p.applyPlanTransition(r, eventName, email, targetPlan)
	if resp.Error != "" {
		p.metrics.RecordWebhookEvent(providerName, eventName, "error")
	} else {
		p.metrics.RecordWebhookEvent(providerName, eventName, "success")
	}
	p.metrics.RecordWebhookProcessingDuration(providerName, eventName, time.Since(startTime))
	p.writeResponse(w, code, resp)
}

// applyPlanTransition resolves the profile and overwrites its plan.
// Returns the HTTP status and body for the terminal state reached.
func (p *Provider) applyPlanTransition(
	r *http.Request, eventName, email string, targetPlan profiles.Plan,
) (int, webhookResponse) {
	ctx := r.Context()

	profile, err := p.store.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, profiles.ErrProfileNotFound):
		// Legitimate when billing and app accounts diverge; the provider
		// should not keep retrying, but 404 makes the divergence visible.
		p.logger.Warn("no profile for webhook email", profiles.Field{Key: "email", Value: email})
		p.metrics.RecordWebhookError(providerName, "user_not_found")
		return http.StatusNotFound, webhookResponse{Error: "User not found"}
	case errors.Is(err, profiles.ErrDuplicateEmail):
		// Email is supposed to be unique at the schema level. Refusing to
		// pick an arbitrary row keeps a data-integrity fault loud.
		p.logger.Error("duplicate profiles for webhook email",
			profiles.Field{Key: "email", Value: email},
		)
		p.metrics.RecordWebhookError(providerName, "store_error")
		return http.StatusInternalServerError, webhookResponse{Error: "Database error"}
	case err != nil:
		p.logger.Error("profile lookup failed",
			profiles.Field{Key: "email", Value: email},
			profiles.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordWebhookError(providerName, "store_error")
		return http.StatusInternalServerError, webhookResponse{Error: "Database error"}
	}

	if err := p.store.UpdatePlan(ctx, profile.ID, targetPlan); err != nil {
		p.logger.Error("plan update failed",
			profiles.Field{Key: "profile_id", Value: profile.ID},
			profiles.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordWebhookError(providerName, "store_error")
		return http.StatusInternalServerError, webhookResponse{Error: "Failed to update user"}
	}

	if profile.Plan != targetPlan {
		p.metrics.RecordPlanChange(providerName, string(profile.Plan), string(targetPlan))
	}

	if p.callback != nil {
		event := billing.WebhookEvent{
			ProfileID:    profile.ID,
			Email:        email,
			PreviousPlan: profile.Plan,
			NewPlan:      targetPlan,
			Provider:     providerName,
			EventType:    eventName,
			ReceivedAt:   time.Now().UTC(),
		}
		if err := p.callback(ctx, event); err != nil {
			p.logger.Error("webhook callback failed", profiles.Field{Key: "error", Value: err.Error()})
			p.metrics.RecordWebhookError(providerName, "processing_error")
			return http.StatusInternalServerError, webhookResponse{Error: "Internal server error"}
		}
	}

	p.logger.Info("plan reconciled",
		profiles.Field{Key: "email", Value: email},
		profiles.Field{Key: "event", Value: eventName},
		profiles.Field{Key: "plan", Value: string(targetPlan)},
	)

	return http.StatusOK, webhookResponse{Success: true}
}

// verifySignature checks a hex-encoded HMAC-SHA256 of the raw body.
// Comparison happens on the decoded MACs via hmac.Equal, which is
// constant-time.
func (p *Provider) verifySignature(header string, body []byte) bool {
	expected, err := hex.DecodeString(header)
	if err != nil || len(expected) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, p.signingSecret)
	if _, err := mac.Write(body); err != nil {
		return false
	}
	return hmac.Equal(expected, mac.Sum(nil))
}

func (p *Provider) writeResponse(w http.ResponseWriter, code int, resp webhookResponse) {
	if err := internal.WriteJSON(w, code, resp); err != nil {
		p.logger.Error("failed to write webhook response", profiles.Field{Key: "error", Value: err.Error()})
	}
}

func (p *Provider) clientField(r *http.Request) profiles.Field {
	return profiles.Field{Key: "client_ip", Value: internal.GetClientIP(r)}
}

// Helper functions

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
