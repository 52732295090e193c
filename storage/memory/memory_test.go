package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

func TestFindByEmail(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.Seed(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p, err := store.FindByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if p.ID != "u1" || p.Plan != profiles.PlanFree {
		t.Errorf("unexpected profile: %+v", p)
	}

	if _, err := store.FindByEmail(ctx, "ghost@x.com"); !errors.Is(err, profiles.ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestFindByEmail_CaseSensitive(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.Seed(&profiles.Profile{ID: "u1", Email: "A@x.com", Plan: profiles.PlanFree})

	if _, err := store.FindByEmail(ctx, "a@x.com"); !errors.Is(err, profiles.ErrProfileNotFound) {
		t.Errorf("lookup must be case-sensitive, got %v", err)
	}
}

func TestFindByEmail_Duplicate(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.Seed(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})
	_ = store.Seed(&profiles.Profile{ID: "u2", Email: "a@x.com", Plan: profiles.PlanPro})

	if _, err := store.FindByEmail(ctx, "a@x.com"); !errors.Is(err, profiles.ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestUpdatePlan(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.Seed(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})

	if err := store.UpdatePlan(ctx, "u1", profiles.PlanPro); err != nil {
		t.Fatalf("UpdatePlan failed: %v", err)
	}
	p, err := store.FindByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if p.Plan != profiles.PlanPro {
		t.Errorf("expected pro, got %s", p.Plan)
	}

	if err := store.UpdatePlan(ctx, "missing", profiles.PlanPro); !errors.Is(err, profiles.ErrProfileNotFound) {
		t.Errorf("expected ErrProfileNotFound, got %v", err)
	}
	if err := store.UpdatePlan(ctx, "u1", profiles.Plan("platinum")); err == nil {
		t.Error("expected error for unknown plan")
	}
}

func TestUpdatePlan_ReturnedCopyIsDetached(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.Seed(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})

	p, _ := store.FindByEmail(ctx, "a@x.com")
	p.Plan = profiles.PlanPro

	again, _ := store.FindByEmail(ctx, "a@x.com")
	if again.Plan != profiles.PlanFree {
		t.Error("mutating a returned profile must not affect the store")
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.Seed(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.FindByEmail(ctx, "a@x.com")
		}()
		go func() {
			defer wg.Done()
			_ = store.UpdatePlan(ctx, "u1", profiles.PlanPro)
		}()
	}
	wg.Wait()

	p, err := store.FindByEmail(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if p.Plan != profiles.PlanPro {
		t.Errorf("expected pro after concurrent updates, got %s", p.Plan)
	}
}
