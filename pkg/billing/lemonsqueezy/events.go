package lemonsqueezy

import "github.com/studyhall-ai/lemonsync/pkg/profiles"

// Event names Lemon Squeezy delivers that affect the subscription plan.
// Everything else (order_refunded, subscription_paused, license key events,
// future event types) is acknowledged without a plan mutation so the
// provider does not retry indefinitely.
var upgradeEvents = map[string]struct{}{
	"order_created":                {},
	"subscription_created":         {},
	"subscription_payment_success": {},
	"subscription_plan_changed":    {},
}

var downgradeEvents = map[string]struct{}{
	"subscription_cancelled":      {},
	"subscription_payment_failed": {},
}

// planForEvent classifies an event name into a target plan.
// The second return value is false for event types this system ignores.
func planForEvent(eventName string) (profiles.Plan, bool) {
	if _, ok := upgradeEvents[eventName]; ok {
		return profiles.PlanPro, true
	}
	if _, ok := downgradeEvents[eventName]; ok {
		return profiles.PlanFree, true
	}
	return "", false
}
