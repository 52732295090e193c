package lemonsqueezy

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/studyhall-ai/lemonsync/pkg/billing"
	"github.com/studyhall-ai/lemonsync/pkg/profiles"
)

const testSecret = "test-signing-secret"

// fakeStore is an in-memory profiles.Store with error injection and call
// counting, so tests can assert that failure paths never touch the store.
type fakeStore struct {
	mu          sync.Mutex
	byEmail     map[string]*profiles.Profile
	findErr     error
	updateErr   error
	findCalls   int
	updateCalls int
}

func newFakeStore(existing ...*profiles.Profile) *fakeStore {
	s := &fakeStore{byEmail: make(map[string]*profiles.Profile)}
	for _, p := range existing {
		cp := *p
		s.byEmail[p.Email] = &cp
	}
	return s
}

func (s *fakeStore) FindByEmail(_ context.Context, email string) (*profiles.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	p, ok := s.byEmail[email]
	if !ok {
		return nil, profiles.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) UpdatePlan(_ context.Context, id string, plan profiles.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if s.updateErr != nil {
		return s.updateErr
	}
	for _, p := range s.byEmail {
		if p.ID == id {
			p.Plan = plan
			return nil
		}
	}
	return profiles.ErrProfileNotFound
}

func (s *fakeStore) planOf(t *testing.T, email string) profiles.Plan {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byEmail[email]
	if !ok {
		t.Fatalf("no profile for %s", email)
	}
	return p.Plan
}

func newTestProvider(t *testing.T, store profiles.Store, mutate ...func(*billing.Config)) *Provider {
	t.Helper()
	config := billing.Config{
		Store:         store,
		SigningSecret: testSecret,
	}
	for _, m := range mutate {
		m(&config)
	}
	provider, err := NewProvider(config)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	return provider
}

func webhookBody(t *testing.T, event string, attrs map[string]interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"meta": map[string]interface{}{"event_name": event},
		"data": map[string]interface{}{"attributes": attrs},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func deliver(t *testing.T, provider *Provider, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/lemonsqueezy", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	rec := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

func TestWebhook_UpgradeEvent(t *testing.T) {
	store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})
	provider := newTestProvider(t, store)

	body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
	rec := deliver(t, provider, body, signBody(testSecret, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp["success"] != true {
		t.Errorf("expected success=true, got %v", resp)
	}
	if got := store.planOf(t, "a@x.com"); got != profiles.PlanPro {
		t.Errorf("expected plan pro, got %s", got)
	}
}

func TestWebhook_DowngradeEvent(t *testing.T) {
	store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanPro})
	provider := newTestProvider(t, store)

	body := webhookBody(t, "subscription_cancelled", map[string]interface{}{"user_email": "a@x.com"})
	rec := deliver(t, provider, body, signBody(testSecret, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := store.planOf(t, "a@x.com"); got != profiles.PlanFree {
		t.Errorf("expected plan free, got %s", got)
	}
}

func TestWebhook_Idempotent(t *testing.T) {
	store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})
	provider := newTestProvider(t, store)

	body := webhookBody(t, "subscription_payment_success", map[string]interface{}{"user_email": "a@x.com"})
	sig := signBody(testSecret, body)

	// Redelivery of the same event must succeed and leave the same state.
	for i := 0; i < 2; i++ {
		rec := deliver(t, provider, body, sig)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	if got := store.planOf(t, "a@x.com"); got != profiles.PlanPro {
		t.Errorf("expected plan pro after redelivery, got %s", got)
	}
}

func TestWebhook_Classification(t *testing.T) {
	cases := []struct {
		event   string
		want    profiles.Plan
		handled bool
	}{
		{"order_created", profiles.PlanPro, true},
		{"subscription_created", profiles.PlanPro, true},
		{"subscription_payment_success", profiles.PlanPro, true},
		{"subscription_plan_changed", profiles.PlanPro, true},
		{"subscription_cancelled", profiles.PlanFree, true},
		{"subscription_payment_failed", profiles.PlanFree, true},
		{"order_refunded", "", false},
		{"subscription_paused", "", false},
		{"license_key_created", "", false},
		{"some_future_event", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.event, func(t *testing.T) {
			initial := profiles.PlanFree
			if tc.want == profiles.PlanFree {
				initial = profiles.PlanPro
			}
			store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: initial})
			provider := newTestProvider(t, store)

			body := webhookBody(t, tc.event, map[string]interface{}{"user_email": "a@x.com"})
			rec := deliver(t, provider, body, signBody(testSecret, body))

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}

			if !tc.handled {
				resp := decodeResponse(t, rec)
				if resp["message"] != "Event type not handled" {
					t.Errorf("expected no-op message, got %v", resp)
				}
				if store.findCalls != 0 || store.updateCalls != 0 {
					t.Errorf("unhandled event must not touch the store (find=%d update=%d)",
						store.findCalls, store.updateCalls)
				}
				return
			}

			if got := store.planOf(t, "a@x.com"); got != tc.want {
				t.Errorf("event %s: expected plan %s, got %s", tc.event, tc.want, got)
			}
		})
	}
}

func TestWebhook_EmailFallback(t *testing.T) {
	store := newFakeStore(&profiles.Profile{ID: "u1", Email: "fallback@x.com", Plan: profiles.PlanFree})
	provider := newTestProvider(t, store)

	body := webhookBody(t, "order_created", map[string]interface{}{"customer_email": "fallback@x.com"})
	rec := deliver(t, provider, body, signBody(testSecret, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if got := store.planOf(t, "fallback@x.com"); got != profiles.PlanPro {
		t.Errorf("expected plan pro via customer_email fallback, got %s", got)
	}
}

func TestWebhook_NoEmail(t *testing.T) {
	store := newFakeStore()
	provider := newTestProvider(t, store)

	// Valid signature and recognized event, but no email anywhere.
	body := webhookBody(t, "subscription_created", map[string]interface{}{"order_number": 42})
	rec := deliver(t, provider, body, signBody(testSecret, body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp["error"] != "No email in payload" {
		t.Errorf("unexpected error body: %v", resp)
	}
	if store.findCalls != 0 {
		t.Error("store must not be queried without an email")
	}
}

func TestWebhook_MissingSecret(t *testing.T) {
	store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})
	provider := newTestProvider(t, store, func(c *billing.Config) {
		c.SigningSecret = ""
	})

	body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
	rec := deliver(t, provider, body, signBody(testSecret, body))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp["error"] != "Server configuration error" {
		t.Errorf("unexpected error body: %v", resp)
	}
	if store.findCalls != 0 || store.updateCalls != 0 {
		t.Error("missing secret must fail before any store access")
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})
	provider := newTestProvider(t, store)

	body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
	staleSig := signBody(testSecret, body)

	// Tamper with the body after signing.
	tampered := bytes.Replace(body, []byte("a@x.com"), []byte("b@x.com"), 1)
	rec := deliver(t, provider, tampered, staleSig)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp["error"] != "Invalid signature" {
		t.Errorf("unexpected error body: %v", resp)
	}
	if store.findCalls != 0 {
		t.Error("invalid signature must not reach the store")
	}
}

func TestWebhook_SignatureBitFlip(t *testing.T) {
	store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})
	provider := newTestProvider(t, store)

	body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
	sig := signBody(testSecret, body)

	// Flip one hex digit of the signature.
	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}

	rec := deliver(t, provider, body, string(flipped))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for mutated signature, got %d", rec.Code)
	}

	// Garbage (non-hex) signature is also a hard rejection.
	rec = deliver(t, provider, body, "not-hex!!")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-hex signature, got %d", rec.Code)
	}
}

func TestWebhook_MissingSignatureRejectedByDefault(t *testing.T) {
	store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})
	provider := newTestProvider(t, store)

	body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
	rec := deliver(t, provider, body, "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp["error"] != "Missing signature" {
		t.Errorf("unexpected error body: %v", resp)
	}
	if got := store.planOf(t, "a@x.com"); got != profiles.PlanFree {
		t.Errorf("plan must be unchanged, got %s", got)
	}
}

func TestWebhook_AllowUnsigned(t *testing.T) {
	store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})
	provider := newTestProvider(t, store, func(c *billing.Config) {
		c.AllowUnsigned = true
	})

	body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
	rec := deliver(t, provider, body, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 in compatibility mode, got %d", rec.Code)
	}
	if got := store.planOf(t, "a@x.com"); got != profiles.PlanPro {
		t.Errorf("expected plan pro, got %s", got)
	}

	// A present-but-invalid signature is still rejected even in this mode.
	rec = deliver(t, provider, body, "deadbeef")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", rec.Code)
	}
}

func TestWebhook_UserNotFound(t *testing.T) {
	store := newFakeStore()
	provider := newTestProvider(t, store)

	body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "ghost@x.com"})
	rec := deliver(t, provider, body, signBody(testSecret, body))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp["error"] != "User not found" {
		t.Errorf("unexpected error body: %v", resp)
	}
}

func TestWebhook_DuplicateEmail(t *testing.T) {
	store := newFakeStore()
	store.findErr = profiles.ErrDuplicateEmail
	provider := newTestProvider(t, store)

	body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
	rec := deliver(t, provider, body, signBody(testSecret, body))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for duplicate email, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp["error"] != "Database error" {
		t.Errorf("unexpected error body: %v", resp)
	}
	if store.updateCalls != 0 {
		t.Error("duplicate email must not lead to an update")
	}
}

func TestWebhook_StoreErrors(t *testing.T) {
	t.Run("lookup failure", func(t *testing.T) {
		store := newFakeStore()
		store.findErr = errors.New("connection refused")
		provider := newTestProvider(t, store)

		body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
		rec := deliver(t, provider, body, signBody(testSecret, body))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if resp := decodeResponse(t, rec); resp["error"] != "Database error" {
			t.Errorf("unexpected error body: %v", resp)
		}
	})

	t.Run("update failure", func(t *testing.T) {
		store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})
		store.updateErr = errors.New("connection refused")
		provider := newTestProvider(t, store)

		body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
		rec := deliver(t, provider, body, signBody(testSecret, body))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rec.Code)
		}
		if resp := decodeResponse(t, rec); resp["error"] != "Failed to update user" {
			t.Errorf("unexpected error body: %v", resp)
		}
	})
}

func TestWebhook_InvalidJSON(t *testing.T) {
	store := newFakeStore()
	provider := newTestProvider(t, store)

	body := []byte("this is not json")
	rec := deliver(t, provider, body, signBody(testSecret, body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp["error"] != "Invalid payload" {
		t.Errorf("unexpected error body: %v", resp)
	}
}

func TestWebhook_OptionsPreflight(t *testing.T) {
	provider := newTestProvider(t, newFakeStore())

	req := httptest.NewRequest(http.MethodOptions, "/webhooks/lemonsqueezy", nil)
	rec := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("preflight response must have an empty body, got %q", rec.Body.String())
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("missing CORS origin header, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != corsAllowHeaders {
		t.Errorf("unexpected CORS headers value: %q", got)
	}
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	provider := newTestProvider(t, newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/webhooks/lemonsqueezy", nil)
	rec := httptest.NewRecorder()
	provider.WebhookHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestWebhook_CORSHeadersOnErrors(t *testing.T) {
	provider := newTestProvider(t, newFakeStore())

	body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
	rec := deliver(t, provider, body, "deadbeef")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("error responses must carry CORS headers, got %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("expected application/json, got %q", got)
	}
}

func TestWebhook_Callback(t *testing.T) {
	store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})

	var mu sync.Mutex
	var captured billing.WebhookEvent
	invoked := false

	provider := newTestProvider(t, store, func(c *billing.Config) {
		c.WebhookCallback = func(_ context.Context, event billing.WebhookEvent) error {
			mu.Lock()
			defer mu.Unlock()
			invoked = true
			captured = event
			return nil
		}
	})

	body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
	rec := deliver(t, provider, body, signBody(testSecret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	mu.Lock()
	defer mu.Unlock()
	if !invoked {
		t.Fatal("callback was not invoked")
	}
	if captured.Email != "a@x.com" {
		t.Errorf("expected email a@x.com, got %s", captured.Email)
	}
	if captured.PreviousPlan != profiles.PlanFree || captured.NewPlan != profiles.PlanPro {
		t.Errorf("unexpected plan transition: %s -> %s", captured.PreviousPlan, captured.NewPlan)
	}
	if captured.Provider != providerName || captured.EventType != "subscription_created" {
		t.Errorf("unexpected event identity: %+v", captured)
	}
}

func TestWebhook_CallbackError(t *testing.T) {
	store := newFakeStore(&profiles.Profile{ID: "u1", Email: "a@x.com", Plan: profiles.PlanFree})
	provider := newTestProvider(t, store, func(c *billing.Config) {
		c.WebhookCallback = func(_ context.Context, _ billing.WebhookEvent) error {
			return fmt.Errorf("notify failed")
		}
	})

	body := webhookBody(t, "subscription_created", map[string]interface{}{"user_email": "a@x.com"})
	rec := deliver(t, provider, body, signBody(testSecret, body))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp["error"] != "Internal server error" {
		t.Errorf("unexpected error body: %v", resp)
	}
	// The plan write is not rolled back; redelivery converges on the same state.
	if got := store.planOf(t, "a@x.com"); got != profiles.PlanPro {
		t.Errorf("expected plan pro despite callback failure, got %s", got)
	}
}

func TestNewProvider_RequiresStore(t *testing.T) {
	_, err := NewProvider(billing.Config{})
	if !errors.Is(err, billing.ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
}
