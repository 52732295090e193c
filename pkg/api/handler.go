// Package api provides an HTTP endpoint for inspecting a user's current plan.
// It is intended for internal dashboards and support tooling, guarded by a
// static admin token.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

const maxEmailLen = 320

// Handler provides HTTP endpoints for plan inspection
type Handler struct {
	config Config
}

// GetPlan returns the plan standing for the profile matching the email
// query parameter.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodGet {
		h.handleError(w, r, fmt.Errorf("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		h.handleError(w, r, fmt.Errorf("unauthorized"), http.StatusUnauthorized)
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" || len(email) > maxEmailLen {
		h.handleError(w, r, fmt.Errorf("invalid email parameter"), http.StatusBadRequest)
		return
	}

	profile, err := h.config.Store.FindByEmail(ctx, email)
	if err != nil {
		switch {
		case errors.Is(err, profiles.ErrProfileNotFound):
			h.handleError(w, r, fmt.Errorf("profile not found"), http.StatusNotFound)
		case errors.Is(err, profiles.ErrDuplicateEmail):
			h.config.Logger.Error("duplicate profiles for email",
				profiles.Field{Key: "email", Value: email})
			h.handleError(w, r, fmt.Errorf("data integrity error"), http.StatusInternalServerError)
		default:
			h.config.Logger.Error("profile lookup failed",
				profiles.Field{Key: "error", Value: err.Error()})
			h.handleError(w, r, fmt.Errorf("internal error"), http.StatusInternalServerError)
		}
		return
	}

	response := PlanResponse{
		ProfileID: profile.ID,
		Email:     profile.Email,
		Plan:      string(profile.Plan),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// Response already sent
		return
	}
}

// authorized checks the bearer token in constant time
func (h *Handler) authorized(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.config.AdminToken)) == 1
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errorResponse := map[string]string{
		"error": err.Error(),
	}
	if encodeErr := json.NewEncoder(w).Encode(errorResponse); encodeErr != nil {
		_ = encodeErr
	}
}
