package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"fileshare/internal/apperr"
	"fileshare/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test"

func newTestStripeProvider() *StripeProvider {
	return &StripeProvider{
		webhookSecret: testWebhookSecret,
		invoiceURL: func(id string) (string, error) {
			return "https://invoice.stripe.test/" + id, nil
		},
		logger: zerolog.Nop(),
	}
}

func signedStripeHeaders(t *testing.T, payload string) http.Header {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	h := http.Header{}
	h.Set("Stripe-Signature", signed.Header)
	return h
}

func parseStripe(t *testing.T, payload string) *model.BillingEvent {
	t.Helper()
	ev, err := newTestStripeProvider().ParseWebhook(context.Background(), []byte(payload), signedStripeHeaders(t, payload))
	require.NoError(t, err)
	return ev
}

func TestStripeRejectsBadSignature(t *testing.T) {
	payload := `{"id":"evt_1","object":"event","type":"customer.subscription.updated","created":1700000000,"data":{"object":{}}}`
	h := http.Header{}
	h.Set("Stripe-Signature", "t=1,v1=deadbeef")

	_, err := newTestStripeProvider().ParseWebhook(context.Background(), []byte(payload), h)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestStripeSubscriptionActive(t *testing.T) {
	ev := parseStripe(t, `{
		"id": "evt_active",
		"object": "event",
		"type": "customer.subscription.updated",
		"created": 1700000000,
		"data": {"object": {
			"id": "sub_1",
			"object": "subscription",
			"status": "active",
			"customer": "cus_1",
			"metadata": {"userId": "user-1", "subscriptionType": "yearly", "maxWorkspaces": "10", "storageSizeInBytes": "3000000000000"},
			"items": {"data": [{"price": {"recurring": {"interval": "year"}}}]}
		}}
	}`)

	assert.Equal(t, model.EventSubscriptionStatus, ev.Kind)
	assert.Equal(t, "evt_active", ev.IdempotencyKey)
	assert.Equal(t, "sub_1", ev.ResourceID)
	assert.Equal(t, "user-1", ev.UserID)
	assert.Equal(t, model.StatusActive, ev.Status)
	assert.Equal(t, model.TierYearly, ev.Tier)
	require.NotNil(t, ev.Quota)
	assert.Equal(t, model.QuotaState{StorageQuotaBytes: 3_000_000_000_000, MaxWorkspaces: 10}, *ev.Quota)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), ev.OccurredAt)
}

func TestStripeSubscriptionPastDueCarriesInvoiceLink(t *testing.T) {
	ev := parseStripe(t, `{
		"id": "evt_pd",
		"object": "event",
		"type": "customer.subscription.updated",
		"created": 1700000000,
		"data": {"object": {
			"id": "sub_1",
			"status": "past_due",
			"customer": "cus_1",
			"latest_invoice": "in_7",
			"metadata": {},
			"items": {"data": [{"price": {"recurring": {"interval": "month"}}}]}
		}}
	}`)

	assert.Equal(t, model.StatusPastDue, ev.Status)
	assert.Equal(t, model.TierMonthly, ev.Tier)
	assert.Equal(t, "https://invoice.stripe.test/in_7", ev.InvoiceLink)
	assert.Nil(t, ev.Quota)
}

func TestStripeCardVerificationIntent(t *testing.T) {
	ev := parseStripe(t, `{
		"id": "evt_pi",
		"object": "event",
		"type": "payment_intent.requires_action",
		"created": 1700000000,
		"data": {"object": {
			"id": "pi_1",
			"status": "requires_action",
			"customer": "cus_1",
			"payment_method": "pm_1",
			"description": "Zoxxo Test Charge",
			"metadata": {},
			"next_action": {"redirect_to_url": {"url": "https://hooks.stripe.test/3ds"}}
		}}
	}`)

	assert.Equal(t, model.EventCardVerification, ev.Kind)
	assert.Equal(t, string(model.PaymentMethodAction), ev.PaymentStatus)
	assert.Equal(t, "https://hooks.stripe.test/3ds", ev.VerificationLink)
	assert.Equal(t, "pm_1", ev.PaymentMethodID)
}

func TestStripeCampaignIntent(t *testing.T) {
	ev := parseStripe(t, `{
		"id": "evt_cmp",
		"object": "event",
		"type": "payment_intent.succeeded",
		"created": 1700000000,
		"data": {"object": {
			"id": "pi_2",
			"status": "succeeded",
			"metadata": {"purpose": "campaign", "campaignId": "cmp_1", "userId": "user-1"}
		}}
	}`)

	assert.Equal(t, model.EventCampaignPayment, ev.Kind)
	assert.Equal(t, "cmp_1", ev.CampaignID)
	assert.Equal(t, string(model.PaymentMethodVerified), ev.PaymentStatus)
}

func TestStripeInvoicePaid(t *testing.T) {
	ev := parseStripe(t, `{
		"id": "evt_inv",
		"object": "event",
		"type": "invoice.paid",
		"created": 1700000000,
		"data": {"object": {
			"id": "in_1",
			"customer": "cus_1",
			"amount_paid": 9097,
			"currency": "usd",
			"status_transitions": {"paid_at": 1700000100},
			"parent": {"subscription_details": {
				"subscription": "sub_1",
				"metadata": {"userId": "user-1", "subscriptionType": "monthly", "plan": "TORNADO 2TB-5WS-MONTHLY"}
			}}
		}}
	}`)

	assert.Equal(t, model.EventInvoicePaid, ev.Kind)
	assert.Equal(t, "sub_1", ev.ResourceID)
	require.NotNil(t, ev.Invoice)
	assert.Equal(t, "in_1", ev.Invoice.ServiceID)
	assert.Equal(t, "90.97", ev.Invoice.Amount.StringFixed(2))
	assert.Equal(t, "USD", ev.Invoice.Currency)
	assert.Equal(t, model.InvoiceMonthly, ev.Invoice.Type)
	assert.Equal(t, "TORNADO 2TB-5WS-MONTHLY", ev.Invoice.Plan)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), ev.Invoice.PaidAt)
}

func TestStripeUnhandledEventIsIgnored(t *testing.T) {
	ev := parseStripe(t, `{"id":"evt_c","object":"event","type":"customer.created","created":1700000000,"data":{"object":{"id":"cus_1"}}}`)
	assert.Equal(t, model.EventIgnored, ev.Kind)

	// One-off invoices have no subscription.
	ev = parseStripe(t, `{"id":"evt_o","object":"event","type":"invoice.paid","created":1700000000,"data":{"object":{"id":"in_2","amount_paid":100,"currency":"usd"}}}`)
	assert.Equal(t, model.EventIgnored, ev.Kind)
}
