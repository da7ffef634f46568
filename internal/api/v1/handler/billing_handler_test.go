package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"tiergate/internal/config"
	"tiergate/internal/middleware"
	"tiergate/internal/model"
	"tiergate/internal/repository"
	"tiergate/internal/service"
	"tiergate/internal/token"
)

type memoryUsers struct {
	users map[string]*model.User
}

func (m *memoryUsers) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (m *memoryUsers) GetUserByStripeCustomerID(_ context.Context, cid string) (*model.User, error) {
	return nil, nil
}

func (m *memoryUsers) UpdateTier(_ context.Context, userID string, tier model.Tier, status model.SubscriptionStatus) error {
	if u, ok := m.users[userID]; ok {
		u.Tier = tier
		u.SubscriptionStatus = status
	}
	return nil
}

func (m *memoryUsers) UpdateStripeCustomerID(_ context.Context, userID, cid string) error {
	if u, ok := m.users[userID]; ok {
		u.StripeCustomerID = &cid
	}
	return nil
}

type memoryUsage struct {
	count int
}

func (m *memoryUsage) GetUsage(_ context.Context, userID string, start, end time.Time) (model.UserUsage, error) {
	return model.UserUsage{UserID: userID, RequestCount: m.count, PeriodStart: start, PeriodEnd: end}, nil
}

func (m *memoryUsage) CheckAndRecordRequest(_ context.Context, userID string, start, end time.Time, maxRequests int) error {
	if maxRequests > 0 && m.count >= maxRequests {
		return repository.ErrRequestLimitExceeded
	}
	m.count++
	return nil
}

type fixture struct {
	mux    *http.ServeMux
	tokens *token.Issuer
	users  *memoryUsers
	usage  *memoryUsage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		StripeSecretKey:     "sk_test_xyz",
		StripeWebhookSecret: "whsec_test_secret",
		CheckoutSuccessURL:  "http://localhost:8080/success",
		CheckoutCancelURL:   "http://localhost:8080/payments",
	}
	users := &memoryUsers{users: map[string]*model.User{
		"u1": {UserID: "u1", Name: "Test User", Email: "user@example.com", Tier: model.TierFree, SubscriptionStatus: model.StatusNone},
	}}
	usage := &memoryUsage{count: 3}
	tokens := token.NewIssuer("test-secret")
	billingSvc := service.NewBillingService(cfg, users, tokens, zerolog.Nop())

	h := NewBillingHandler(billingSvc, users, usage, validator.New(validator.WithRequiredStructEnabled()), zerolog.Nop())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux, middleware.AuthMiddleware(tokens, users, zerolog.Nop()))
	return &fixture{mux: mux, tokens: tokens, users: users, usage: usage}
}

func (f *fixture) bearerFor(t *testing.T, userID string) string {
	t.Helper()
	u := f.users.users[userID]
	if u == nil {
		u = &model.User{UserID: userID, Email: userID + "@example.com"}
	}
	signed, err := f.tokens.IssueSession(u, 15*time.Minute)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return "Bearer " + signed
}

func (f *fixture) do(method, path, auth, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestListTiersIsPublic(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/billing/tiers", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusOK)
	}
	body := decodeEnvelope(t, rec)
	if body["success"] != true {
		t.Fatalf("expected success envelope, got %v", body)
	}
	tiers, ok := body["tiers"].([]any)
	if !ok || len(tiers) != 2 {
		t.Fatalf("expected 2 tiers, got %v", body["tiers"])
	}
}

func TestCheckoutRequiresAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/billing/checkout", "", `{"priceId":"price_123","planName":"premium"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusUnauthorized)
	}
	body := decodeEnvelope(t, rec)
	if body["success"] != false {
		t.Fatalf("expected failure envelope, got %v", body)
	}
}

func TestCheckoutMissingFields(t *testing.T) {
	f := newFixture(t)
	auth := f.bearerFor(t, "u1")

	for _, payload := range []string{`{}`, `{"priceId":"price_123"}`, `{"planName":"premium"}`} {
		rec := f.do(http.MethodPost, "/billing/checkout", auth, payload)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("payload %s: status=%d, want=%d", payload, rec.Code, http.StatusBadRequest)
		}
		body := decodeEnvelope(t, rec)
		if msg, _ := body["message"].(string); !strings.Contains(msg, "priceId") {
			t.Fatalf("message should enumerate missing fields, got %q", msg)
		}
	}
}

func TestCheckStatusReturnsFreshUser(t *testing.T) {
	f := newFixture(t)
	auth := f.bearerFor(t, "u1")

	// Simulate the webhook reconciler upgrading the user between calls.
	if err := f.users.UpdateTier(context.Background(), "u1", model.TierPremium, model.StatusActive); err != nil {
		t.Fatalf("update tier: %v", err)
	}

	rec := f.do(http.MethodGet, "/billing/status", auth, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%q", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user in envelope, got %v", body)
	}
	if user["tier"] != "premium" {
		t.Fatalf("expected fresh premium tier, got %v", user["tier"])
	}
}

func TestCheckStatusVanishedUser(t *testing.T) {
	f := newFixture(t)
	auth := f.bearerFor(t, "ghost")

	rec := f.do(http.MethodGet, "/billing/status", auth, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusNotFound)
	}
}

func TestSubscriptionStatusWithoutCustomer(t *testing.T) {
	f := newFixture(t)
	auth := f.bearerFor(t, "u1")

	rec := f.do(http.MethodGet, "/billing/subscription", auth, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%q", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	sub, ok := body["subscription"].(map[string]any)
	if !ok {
		t.Fatalf("expected subscription in envelope, got %v", body)
	}
	if sub["status"] != "none" || sub["tier"] != "free" {
		t.Fatalf("expected none/free, got %v", sub)
	}
}

func TestCancelMissingSubscriptionID(t *testing.T) {
	f := newFixture(t)
	auth := f.bearerFor(t, "u1")

	rec := f.do(http.MethodPost, "/billing/cancel", auth, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestPortalMissingReturnURL(t *testing.T) {
	f := newFixture(t)
	auth := f.bearerFor(t, "u1")

	rec := f.do(http.MethodPost, "/billing/portal", auth, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestPortalWithoutCustomerReference(t *testing.T) {
	f := newFixture(t)
	auth := f.bearerFor(t, "u1")

	rec := f.do(http.MethodPost, "/billing/portal", auth, `{"returnUrl":"http://localhost:8080/account"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestTierInfoReportsRateLimits(t *testing.T) {
	f := newFixture(t)
	auth := f.bearerFor(t, "u1")

	rec := f.do(http.MethodGet, "/billing/usage", auth, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%q", rec.Code, rec.Body.String())
	}
	body := decodeEnvelope(t, rec)
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user in envelope, got %v", body)
	}
	limits, ok := user["rateLimits"].(map[string]any)
	if !ok {
		t.Fatalf("expected rateLimits, got %v", user)
	}
	if limits["allowed"] != true {
		t.Fatalf("3 of 20 requests used, expected allowed, got %v", limits)
	}
	if limits["remaining"] != float64(17) {
		t.Fatalf("expected 17 remaining, got %v", limits["remaining"])
	}
	cfgMap, ok := user["tierConfig"].(map[string]any)
	if !ok || cfgMap["tier"] != "free" {
		t.Fatalf("expected free tier config, got %v", user["tierConfig"])
	}
}

func TestRecordUsageAdmitsAndCounts(t *testing.T) {
	f := newFixture(t)
	auth := f.bearerFor(t, "u1")

	rec := f.do(http.MethodPost, "/billing/usage", auth, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%q", rec.Code, rec.Body.String())
	}
	if f.usage.count != 4 {
		t.Fatalf("expected request to be recorded, count=%d", f.usage.count)
	}
	body := decodeEnvelope(t, rec)
	limits, ok := body["rateLimits"].(map[string]any)
	if !ok {
		t.Fatalf("expected rateLimits in envelope, got %v", body)
	}
	if limits["allowed"] != true || limits["remaining"] != float64(16) {
		t.Fatalf("4 of 20 requests used, expected 16 remaining, got %v", limits)
	}
}

func TestRecordUsageRejectsAtLimit(t *testing.T) {
	f := newFixture(t)
	auth := f.bearerFor(t, "u1")
	f.usage.count = 20

	rec := f.do(http.MethodPost, "/billing/usage", auth, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusTooManyRequests)
	}
	if f.usage.count != 20 {
		t.Fatalf("rejected request must not be recorded, count=%d", f.usage.count)
	}
	body := decodeEnvelope(t, rec)
	if body["success"] != false {
		t.Fatalf("expected failure envelope, got %v", body)
	}
}
