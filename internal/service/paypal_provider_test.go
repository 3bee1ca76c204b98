package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"fileshare/internal/apperr"
	"fileshare/internal/model"
	"fileshare/internal/pricing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paypalAPI is a minimal stand-in for the PayPal REST API.
type paypalAPI struct {
	mu           sync.Mutex
	tokenCalls   int
	verifyStatus string
	requests     map[string]map[string]any
}

func newPayPalTestServer(t *testing.T) (*paypalAPI, *PayPalProvider) {
	t.Helper()
	api := &paypalAPI{verifyStatus: "SUCCESS", requests: map[string]map[string]any{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		api.mu.Lock()
		api.tokenCalls++
		api.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	record := func(name string, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer tok" {
			return false
		}
		body, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		api.mu.Lock()
		api.requests[name] = m
		api.mu.Unlock()
		return true
	}
	mux.HandleFunc("POST /v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		if !record("verify", r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"verification_status": api.verifyStatus})
	})
	mux.HandleFunc("POST /v1/billing/plans", func(w http.ResponseWriter, r *http.Request) {
		record("plan", r)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "P-1"})
	})
	mux.HandleFunc("POST /v1/billing/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		record("subscription", r)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "I-SUB1",
			"links": []map[string]string{{"rel": "approve", "href": "https://paypal.test/approve/I-SUB1"}},
		})
	})
	mux.HandleFunc("POST /v1/billing/subscriptions/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		record("cancel:"+r.PathValue("id"), r)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v1/billing/subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "I-SUB1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "I-SUB1", "status": "ACTIVE", "custom_id": "user-1|TORNADO 1TB-3WS-YEARLY"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := NewPayPalProvider(PayPalConfig{
		APIBase:      srv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "WH-1",
		ProductID:    "PROD-1",
	}, srv.Client(), zerolog.Nop())
	return api, p
}

func paypalEvent(eventType string, resource map[string]any) []byte {
	raw, _ := json.Marshal(map[string]any{
		"id":          "WH-EVT-" + eventType,
		"event_type":  eventType,
		"create_time": "2026-03-10T12:00:00Z",
		"resource":    resource,
	})
	return raw
}

func TestPayPalSubscriptionActivated(t *testing.T) {
	api, p := newPayPalTestServer(t)
	payload := paypalEvent("BILLING.SUBSCRIPTION.ACTIVATED", map[string]any{
		"id":        "I-SUB1",
		"status":    "ACTIVE",
		"custom_id": "user-1|TORNADO 2TB-5WS-MONTHLY",
	})
	h := http.Header{}
	h.Set("Paypal-Transmission-Id", "tx-1")

	ev, err := p.ParseWebhook(context.Background(), payload, h)
	require.NoError(t, err)

	assert.Equal(t, model.EventSubscriptionStatus, ev.Kind)
	assert.Equal(t, "I-SUB1", ev.ResourceID)
	assert.Equal(t, "user-1", ev.UserID)
	assert.Equal(t, model.StatusActive, ev.Status)
	assert.Equal(t, model.TierMonthly, ev.Tier)
	require.NotNil(t, ev.Quota)
	assert.Equal(t, pricing.QuotaFor(pricing.Options{Tier: model.TierMonthly, ExtraStorageTB: 2, ExtraWorkspaces: 5}), *ev.Quota)

	verify := api.requests["verify"]
	assert.Equal(t, "WH-1", verify["webhook_id"])
	assert.Equal(t, "tx-1", verify["transmission_id"])
}

func TestPayPalWebhookVerificationFailure(t *testing.T) {
	api, p := newPayPalTestServer(t)
	api.verifyStatus = "FAILURE"

	_, err := p.ParseWebhook(context.Background(), paypalEvent("BILLING.SUBSCRIPTION.CANCELLED", map[string]any{"id": "I-SUB1"}), http.Header{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestPayPalEventMapping(t *testing.T) {
	_, p := newPayPalTestServer(t)
	ctx := context.Background()

	ev, err := p.ParseWebhook(ctx, paypalEvent("BILLING.SUBSCRIPTION.PAYMENT.FAILED", map[string]any{"id": "I-SUB1", "custom_id": "user-1|TORNADO 0TB-0WS-MONTHLY"}), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPastDue, ev.Status)
	assert.Equal(t, paypalPaymentsLogin, ev.InvoiceLink)
	assert.Nil(t, ev.Quota)

	ev, err = p.ParseWebhook(ctx, paypalEvent("BILLING.SUBSCRIPTION.CANCELLED", map[string]any{"id": "I-SUB1"}), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, ev.Status)

	ev, err = p.ParseWebhook(ctx, paypalEvent("BILLING.SUBSCRIPTION.CREATED", map[string]any{"id": "I-SUB1"}), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, model.EventIgnored, ev.Kind)

	ev, err = p.ParseWebhook(ctx, paypalEvent("PAYMENT.SALE.COMPLETED", map[string]any{
		"id":                   "SALE-1",
		"billing_agreement_id": "I-SUB1",
		"custom":               "user-1|TORNADO 1TB-3WS-YEARLY",
		"create_time":          "2026-03-10T12:05:00Z",
		"amount":               map[string]string{"total": "568.76", "currency": "USD"},
	}), http.Header{})
	require.NoError(t, err)
	assert.Equal(t, model.EventInvoicePaid, ev.Kind)
	assert.Equal(t, "I-SUB1", ev.ResourceID)
	require.NotNil(t, ev.Invoice)
	assert.Equal(t, "SALE-1", ev.Invoice.ServiceID)
	assert.Equal(t, model.InvoiceYearly, ev.Invoice.Type)
	assert.Equal(t, "568.76", ev.Invoice.Amount.StringFixed(2))
}

func TestPayPalCreateSubscription(t *testing.T) {
	api, p := newPayPalTestServer(t)
	opts := pricing.Options{Tier: model.TierYearly, ExtraStorageTB: 1, ExtraWorkspaces: 3}
	quote, err := pricing.Calculate(opts)
	require.NoError(t, err)

	checkout, err := p.CreateSubscription(context.Background(), CheckoutRequest{
		User:       &model.User{ID: "user-1", Identity: model.Identity{Email: "u@example.com"}},
		Options:    opts,
		Quote:      quote,
		SuccessURL: "https://app.test/ok",
		CancelURL:  "https://app.test/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "I-SUB1", checkout.SubscriptionID)
	assert.Equal(t, "https://paypal.test/approve/I-SUB1", checkout.URL)

	plan := api.requests["plan"]
	assert.Equal(t, "PROD-1", plan["product_id"])
	assert.Equal(t, "TORNADO 1TB-3WS-YEARLY", plan["name"])
	sub := api.requests["subscription"]
	assert.Equal(t, "P-1", sub["plan_id"])
	assert.Equal(t, "user-1|TORNADO 1TB-3WS-YEARLY", sub["custom_id"])
	assert.Equal(t, 1, api.tokenCalls, "token is cached across calls")
}

func TestPayPalCancelAndGet(t *testing.T) {
	api, p := newPayPalTestServer(t)
	ctx := context.Background()

	require.NoError(t, p.CancelSubscription(ctx, "I-SUB1"))
	assert.Contains(t, api.requests, "cancel:I-SUB1")

	sub, err := p.GetSubscription(ctx, "I-SUB1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, sub.Status)
	assert.Equal(t, model.TierYearly, sub.Tier)
	require.NotNil(t, sub.Quota)
	assert.Equal(t, 8, sub.Quota.MaxWorkspaces)

	_, err = p.GetSubscription(ctx, "I-MISSING")
	assert.Error(t, err)
}
