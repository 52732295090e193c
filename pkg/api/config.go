package api

import (
	"fmt"
	"net/http"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

// Config holds configuration for the plan inspection API handler
type Config struct {
	// Store is the profile store instance (required)
	Store profiles.Store

	// AdminToken guards the endpoint. Requests must carry it as a
	// bearer token in the Authorization header (required)
	AdminToken string

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional structured logger
	// If nil, logging is disabled
	Logger profiles.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.AdminToken == "" {
		return fmt.Errorf("admin token is required")
	}
	return nil
}

// NewHandler creates a new plan inspection handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &profiles.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}
