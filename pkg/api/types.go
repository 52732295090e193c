package api

// PlanResponse represents the current plan standing for a profile
type PlanResponse struct {
	ProfileID string `json:"profile_id"`
	Email     string `json:"email"`
	Plan      string `json:"plan"` // "free" or "pro"
}
