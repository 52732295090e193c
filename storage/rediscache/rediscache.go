// Package rediscache provides a read-through Redis cache decorating another
// profiles.Store. Lookups hit Redis first and fall back to the backend on a
// miss; plan updates write through to the backend and invalidate the cached
// entry so webhook-driven changes are visible immediately.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

// Config holds Redis cache configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "lemonsync:")
	KeyPrefix string

	// ProfileTTL is the TTL for cached profiles (default: 5 minutes)
	ProfileTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "lemonsync:",
		ProfileTTL: 5 * time.Minute,
	}
}

// Store implements profiles.Store by caching a backend store in Redis
type Store struct {
	client  redis.UniversalClient
	backend profiles.Store
	config  Config
}

// New creates a new Redis cache in front of backend
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, backend profiles.Store, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend store is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "lemonsync:"
	}
	if config.ProfileTTL == 0 {
		config.ProfileTTL = 5 * time.Minute
	}

	return &Store{
		client:  client,
		backend: backend,
		config:  config,
	}, nil
}

func (s *Store) emailKey(email string) string {
	return s.config.KeyPrefix + "profile:email:" + email
}

func (s *Store) idKey(id string) string {
	return s.config.KeyPrefix + "profile:id:" + id
}

// FindByEmail implements profiles.Store
func (s *Store) FindByEmail(ctx context.Context, email string) (*profiles.Profile, error) {
	data, err := s.client.Get(ctx, s.emailKey(email)).Bytes()
	if err == nil {
		var p profiles.Profile
		if err := json.Unmarshal(data, &p); err == nil {
			return &p, nil
		}
		// Corrupt entry. Drop it and fall through to the backend.
		s.client.Del(ctx, s.emailKey(email))
	} else if err != redis.Nil {
		// Cache unavailable is not fatal. Serve from the backend.
		return s.backend.FindByEmail(ctx, email)
	}

	p, err := s.backend.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		pipe := s.client.Pipeline()
		pipe.Set(ctx, s.emailKey(email), data, s.config.ProfileTTL)
		// Reverse mapping lets UpdatePlan invalidate by profile ID.
		pipe.Set(ctx, s.idKey(p.ID), email, s.config.ProfileTTL)
		_, _ = pipe.Exec(ctx)
	}

	return p, nil
}

// UpdatePlan implements profiles.Store
func (s *Store) UpdatePlan(ctx context.Context, id string, plan profiles.Plan) error {
	if err := s.backend.UpdatePlan(ctx, id, plan); err != nil {
		return err
	}

	keys := []string{s.idKey(id)}
	if email, err := s.client.Get(ctx, s.idKey(id)).Result(); err == nil {
		keys = append(keys, s.emailKey(email))
	}
	s.client.Del(ctx, keys...)

	return nil
}
