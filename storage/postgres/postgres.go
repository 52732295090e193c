// Package postgres provides a PostgreSQL implementation of the profiles.Store
// interface using a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

// Store implements profiles.Store using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the profiles table if it does not exist.
// The unique index on email makes duplicate emails impossible to insert,
// but FindByEmail still guards against tables migrated without it.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS profiles (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			plan       TEXT NOT NULL DEFAULT 'free',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS profiles_email_idx ON profiles (email)`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// FindByEmail implements profiles.Store
func (s *Store) FindByEmail(ctx context.Context, email string) (*profiles.Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, email, plan FROM profiles WHERE email = $1 LIMIT 2`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	defer rows.Close()

	var found []*profiles.Profile
	for rows.Next() {
		var p profiles.Profile
		var plan string
		if err := rows.Scan(&p.ID, &p.Email, &plan); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p.Plan, err = profiles.ParsePlan(plan)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", p.ID, err)
		}
		found = append(found, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}

	switch len(found) {
	case 0:
		return nil, profiles.ErrProfileNotFound
	case 1:
		return found[0], nil
	default:
		return nil, profiles.ErrDuplicateEmail
	}
}

// UpdatePlan implements profiles.Store
func (s *Store) UpdatePlan(ctx context.Context, id string, plan profiles.Plan) error {
	if _, err := profiles.ParsePlan(string(plan)); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles SET plan = $1, updated_at = NOW() WHERE id = $2`,
		string(plan), id)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return profiles.ErrProfileNotFound
	}
	return nil
}

// Insert adds a profile row. Intended for provisioning and tests.
func (s *Store) Insert(ctx context.Context, p *profiles.Profile) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("invalid profile")
	}
	if _, err := profiles.ParsePlan(string(p.Plan)); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, email, plan, updated_at) VALUES ($1, $2, $3, NOW())`,
		p.ID, p.Email, string(p.Plan))
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}
