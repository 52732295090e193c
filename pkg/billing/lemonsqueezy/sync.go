package lemonsqueezy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

const (
	subscriptionsEndpoint = "/subscriptions"

	// syncConcurrency bounds parallel API calls in SyncUsers.
	syncConcurrency = 8
)

// subscriptionsResponse represents the slice of the Lemon Squeezy
// subscriptions list response this system reads (JSON:API shaped).
type subscriptionsResponse struct {
	Data []struct {
		Attributes struct {
			Status    string `json:"status"`
			UserEmail string `json:"user_email"`
		} `json:"attributes"`
	} `json:"data"`
}

// SyncUser queries the Lemon Squeezy API for the user's subscriptions and
// writes the resulting plan through the profile store. Used for drift
// repair when webhook deliveries were missed ("restore purchases") and
// for nightly reconciliation.
func (p *Provider) SyncUser(ctx context.Context, email string) (profiles.Plan, error) {
	startTime := time.Now()

	plan, err := p.syncUser(ctx, email)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		return plan, err
	}

	p.metrics.RecordUserSync(providerName, "success")
	p.metrics.RecordUserSyncDuration(providerName, time.Since(startTime))
	return plan, nil
}

func (p *Provider) syncUser(ctx context.Context, email string) (profiles.Plan, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return profiles.PlanFree, fmt.Errorf("lemonsqueezy API key not configured")
	}
	if strings.TrimSpace(email) == "" {
		return profiles.PlanFree, fmt.Errorf("email is required")
	}

	payload, err := p.fetchSubscriptions(ctx, email)
	if err != nil {
		return profiles.PlanFree, err
	}

	plan := planFromSubscriptions(payload)

	profile, err := p.store.FindByEmail(ctx, email)
	if err != nil {
		return plan, fmt.Errorf("failed to resolve profile: %w", err)
	}

	if err := p.store.UpdatePlan(ctx, profile.ID, plan); err != nil {
		return plan, fmt.Errorf("failed to update plan: %w", err)
	}

	if profile.Plan != plan {
		p.metrics.RecordPlanChange(providerName, string(profile.Plan), string(plan))
		p.logger.Info("plan drift repaired",
			profiles.Field{Key: "email", Value: email},
			profiles.Field{Key: "from", Value: string(profile.Plan)},
			profiles.Field{Key: "to", Value: string(plan)},
		)
	}

	return plan, nil
}

// fetchSubscriptions calls GET /v1/subscriptions filtered by user email.
func (p *Provider) fetchSubscriptions(ctx context.Context, email string) (*subscriptionsResponse, error) {
	apiURL := fmt.Sprintf("%s%s?filter[user_email]=%s",
		p.apiBaseURL, subscriptionsEndpoint, url.QueryEscape(email))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/vnd.api+json")

	startTime := time.Now()
	res, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions: %w", err)
	}
	defer res.Body.Close()

	p.metrics.RecordAPICall(providerName, subscriptionsEndpoint, strconv.Itoa(res.StatusCode))
	p.metrics.RecordAPICallDuration(providerName, subscriptionsEndpoint, time.Since(startTime))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("lemonsqueezy API error: status %d, body: %s", res.StatusCode, string(body))
	}

	var payload subscriptionsResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &payload, nil
}

// planFromSubscriptions maps the subscription list to a plan: any
// subscription currently in a paying state grants pro. A customer with no
// subscriptions (e.g. single orders only, or none at all) stays free;
// one-off order purchases are granted through the webhook path instead
// because the subscriptions endpoint does not list them.
func planFromSubscriptions(payload *subscriptionsResponse) profiles.Plan {
	for _, sub := range payload.Data {
		switch strings.TrimSpace(sub.Attributes.Status) {
		case "active", "on_trial":
			return profiles.PlanPro
		}
	}
	return profiles.PlanFree
}

// SyncUsers reconciles a batch of emails concurrently, bounded to avoid
// hammering the API. The first error cancels the remaining lookups.
func (p *Provider) SyncUsers(ctx context.Context, emails []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)

	for _, email := range emails {
		email := email
		g.Go(func() error {
			if _, err := p.SyncUser(ctx, email); err != nil {
				return fmt.Errorf("sync %s: %w", email, err)
			}
			return nil
		})
	}

	return g.Wait()
}
