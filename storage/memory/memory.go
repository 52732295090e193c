// Package memory provides an in-memory implementation of the profiles.Store
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

// Store implements profiles.Store using an in-memory map
type Store struct {
	mu   sync.RWMutex
	byID map[string]*profiles.Profile
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		byID: make(map[string]*profiles.Profile),
	}
}

// Seed inserts or replaces a profile. Intended for test and example setup.
func (s *Store) Seed(p *profiles.Profile) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid profile")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.byID[p.ID] = &cp
	return nil
}

// FindByEmail implements profiles.Store
func (s *Store) FindByEmail(ctx context.Context, email string) (*profiles.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *profiles.Profile
	for _, p := range s.byID {
		if p.Email != email {
			continue
		}
		if found != nil {
			return nil, profiles.ErrDuplicateEmail
		}
		found = p
	}
	if found == nil {
		return nil, profiles.ErrProfileNotFound
	}

	// Return a copy to prevent external mutations
	cp := *found
	return &cp, nil
}

// UpdatePlan implements profiles.Store
func (s *Store) UpdatePlan(ctx context.Context, id string, plan profiles.Plan) error {
	if _, err := profiles.ParsePlan(string(plan)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return profiles.ErrProfileNotFound
	}
	p.Plan = plan
	return nil
}
