// Package firestore provides a Firestore implementation of the profiles.Store
// interface using Google Cloud Firestore.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

// Store implements profiles.Store using Google Cloud Firestore
type Store struct {
	client     *firestore.Client
	collection string
}

// Config holds Firestore storage configuration
type Config struct {
	// Collection is the Firestore collection for user profiles
	// Default: "profiles"
	Collection string
}

// New creates a new Firestore store
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.Collection == "" {
		config.Collection = "profiles"
	}

	return &Store{
		client:     client,
		collection: config.Collection,
	}, nil
}

// FindByEmail implements profiles.Store
func (s *Store) FindByEmail(ctx context.Context, email string) (*profiles.Profile, error) {
	query := s.client.Collection(s.collection).Where("email", "==", email).Limit(2)
	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}

	switch len(snaps) {
	case 0:
		return nil, profiles.ErrProfileNotFound
	case 1:
		// fall through
	default:
		return nil, profiles.ErrDuplicateEmail
	}

	data := snaps[0].Data()
	plan, err := profiles.ParsePlan(getString(data, "plan"))
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", snaps[0].Ref.ID, err)
	}

	return &profiles.Profile{
		ID:    snaps[0].Ref.ID,
		Email: getString(data, "email"),
		Plan:  plan,
	}, nil
}

// UpdatePlan implements profiles.Store
func (s *Store) UpdatePlan(ctx context.Context, id string, plan profiles.Plan) error {
	if _, err := profiles.ParsePlan(string(plan)); err != nil {
		return err
	}

	doc := s.client.Collection(s.collection).Doc(id)
	_, err := doc.Update(ctx, []firestore.Update{
		{Path: "plan", Value: string(plan)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return profiles.ErrProfileNotFound
		}
		return fmt.Errorf("failed to update plan: %w", err)
	}

	return nil
}

// Insert adds a profile document. Intended for provisioning and tests.
func (s *Store) Insert(ctx context.Context, p *profiles.Profile) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid profile")
	}
	if _, err := profiles.ParsePlan(string(p.Plan)); err != nil {
		return err
	}

	doc := s.client.Collection(s.collection).Doc(p.ID)
	_, err := doc.Set(ctx, map[string]interface{}{
		"email":     p.Email,
		"plan":      string(p.Plan),
		"updatedAt": firestore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	return nil
}

// getString safely extracts a string from Firestore document data
func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
