// Package supabase provides a profiles.Store backed by the Supabase REST
// (PostgREST) endpoint. The store authenticates with the service-role key,
// which bypasses row-level security: webhook reconciliation acts on behalf
// of arbitrary users identified only by email, so it must not use the
// end-user anon credential.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

const (
	defaultTable       = "profiles"
	defaultHTTPTimeout = 10 * time.Second
)

// Config holds Supabase store configuration
type Config struct {
	// BaseURL is the project URL, e.g. https://xyzcompany.supabase.co
	BaseURL string

	// ServiceRoleKey is the privileged service credential. Never ship the
	// anon key here.
	ServiceRoleKey string

	// Table is the profiles table name. Default: "profiles"
	Table string

	// HTTPClient is an optional HTTP client. If nil, a default client
	// with 10s timeout is used.
	HTTPClient *http.Client
}

// Store implements profiles.Store against the Supabase REST endpoint
type Store struct {
	baseURL    string
	serviceKey string
	table      string
	httpClient *http.Client
}

// New creates a new Supabase store
func New(config Config) (*Store, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	serviceKey := strings.TrimSpace(config.ServiceRoleKey)
	if serviceKey == "" {
		return nil, fmt.Errorf("service role key is required")
	}

	table := config.Table
	if table == "" {
		table = defaultTable
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &Store{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		table:      table,
		httpClient: httpClient,
	}, nil
}

type profileRow struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Plan  string `json:"plan"`
}

// FindByEmail implements profiles.Store
func (s *Store) FindByEmail(ctx context.Context, email string) (*profiles.Profile, error) {
	query := url.Values{}
	query.Set("select", "id,email,plan")
	query.Set("email", "eq."+email)
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", s.baseURL, s.table, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.setAuthHeaders(req)
	req.Header.Set("Accept", "application/json")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("profiles query failed: status %d, body: %s", res.StatusCode, string(body))
	}

	var rows []profileRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	switch len(rows) {
	case 0:
		return nil, profiles.ErrProfileNotFound
	case 1:
		// fall through
	default:
		return nil, profiles.ErrDuplicateEmail
	}

	plan, err := profiles.ParsePlan(rows[0].Plan)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", rows[0].ID, err)
	}

	return &profiles.Profile{
		ID:    rows[0].ID,
		Email: rows[0].Email,
		Plan:  plan,
	}, nil
}

// UpdatePlan implements profiles.Store
func (s *Store) UpdatePlan(ctx context.Context, id string, plan profiles.Plan) error {
	if _, err := profiles.ParsePlan(string(plan)); err != nil {
		return err
	}

	query := url.Values{}
	query.Set("id", "eq."+id)
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", s.baseURL, s.table, query.Encode())

	payload, err := json.Marshal(map[string]string{"plan": string(plan)})
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	s.setAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	// return=representation lets us detect updates that matched no row.
	req.Header.Set("Prefer", "return=representation")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("profile update failed: status %d, body: %s", res.StatusCode, string(body))
	}

	var rows []profileRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(rows) == 0 {
		return profiles.ErrProfileNotFound
	}

	return nil
}

func (s *Store) setAuthHeaders(req *http.Request) {
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
}
