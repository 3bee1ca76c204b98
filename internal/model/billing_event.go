package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingEventKind is the provider-neutral category of a webhook event.
type BillingEventKind string

const (
	EventSubscriptionStatus BillingEventKind = "subscription_status"
	EventCardVerification   BillingEventKind = "card_verification"
	EventCampaignPayment    BillingEventKind = "campaign_payment"
	EventInvoicePaid        BillingEventKind = "invoice_paid"
	EventIgnored            BillingEventKind = "ignored"
)

// BillingEvent is a verified webhook normalized by a payment provider.
// Which fields are set depends on Kind.
type BillingEvent struct {
	Provider       Provider
	Kind           BillingEventKind
	Type           string
	IdempotencyKey string
	ResourceID     string
	UserID         string
	CustomerID     string
	CampaignID     string
	OccurredAt     time.Time

	// subscription_status
	Status      SubscriptionStatus
	Tier        Tier
	Quota       *QuotaState
	InvoiceLink string

	// card_verification and campaign_payment
	PaymentStatus    string
	PaymentMethodID  string
	VerificationLink string
	CardLast4        string
	CardBrand        string

	// invoice_paid
	Invoice *InvoiceDraft
}

// InvoiceDraft is the provider's view of a paid cycle before it is
// persisted.
type InvoiceDraft struct {
	ServiceID string
	Plan      string
	Type      InvoiceType
	Amount    decimal.Decimal
	Currency  string
	PaidAt    time.Time
	Metadata  map[string]string
}
