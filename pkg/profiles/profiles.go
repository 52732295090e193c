// Package profiles defines the user-profile domain consumed by the billing
// layer: the Profile record, the subscription Plan and the Store interface
// implemented by the storage backends.
package profiles

import (
	"context"
	"errors"
	"fmt"
)

// Plan is the subscription tier of a user. It gates feature access
// elsewhere in the application; the billing layer only ever transitions
// it between PlanFree and PlanPro.
type Plan string

const (
	// PlanFree is the default tier for new and downgraded users.
	PlanFree Plan = "free"

	// PlanPro is the paid tier.
	PlanPro Plan = "pro"
)

// ParsePlan validates a raw plan string from storage or config.
func ParsePlan(s string) (Plan, error) {
	switch Plan(s) {
	case PlanFree, PlanPro:
		return Plan(s), nil
	default:
		return "", fmt.Errorf("unknown plan %q", s)
	}
}

// Profile is a user profile as held by the external profile store.
// Email is the lookup key used by webhook reconciliation; Plan is the
// only field the billing layer may mutate.
type Profile struct {
	ID    string
	Email string
	Plan  Plan
}

var (
	// ErrProfileNotFound is returned when no profile matches the email.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrDuplicateEmail is returned when more than one profile matches an
	// email. Email is supposed to be unique at the store schema level, so
	// multiplicity is a data-integrity fault rather than something to
	// resolve by picking an arbitrary row.
	ErrDuplicateEmail = errors.New("multiple profiles share email")
)

// Store defines the profile persistence interface required by the billing
// layer. Implementations must run with a credential privileged enough to
// update arbitrary users' plans (distinct from the end-user credential
// used by the rest of the app).
type Store interface {
	// FindByEmail retrieves the profile with exactly this email
	// (case-sensitive match). Returns ErrProfileNotFound when no row
	// matches and ErrDuplicateEmail when more than one does.
	FindByEmail(ctx context.Context, email string) (*Profile, error)

	// UpdatePlan overwrites the plan of the profile with the given ID.
	// The write is an unconditional overwrite: applying the same
	// transition twice yields the same final state.
	UpdatePlan(ctx context.Context, id string, plan Plan) error
}
