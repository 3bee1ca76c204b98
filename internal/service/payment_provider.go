package service

import (
	"context"
	"net/http"

	"fileshare/internal/model"
	"fileshare/internal/pricing"

	"github.com/shopspring/decimal"
)

// ChargePurpose tells the webhook side which target a one-off payment
// belongs to.
type ChargePurpose string

const (
	PurposeCardVerification ChargePurpose = "card_verification"
	PurposeCampaign         ChargePurpose = "campaign"
)

// CheckoutRequest asks a provider to start a subscription for the plan.
type CheckoutRequest struct {
	User       *model.User
	Options    pricing.Options
	Quote      pricing.Quote
	SuccessURL string
	CancelURL  string
}

// Checkout is where the customer approves the subscription.
type Checkout struct {
	Provider       model.Provider `json:"service"`
	SubscriptionID string         `json:"subscriptionId,omitempty"`
	URL            string         `json:"url"`
}

type ChargeRequest struct {
	User            *model.User
	Purpose         ChargePurpose
	Amount          decimal.Decimal
	Currency        string
	PaymentMethodID string
	CampaignID      string
	ReturnURL       string
}

type Charge struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// ProviderSubscription is the provider's current view of a subscription.
type ProviderSubscription struct {
	ID     string
	Status model.SubscriptionStatus
	Tier   model.Tier
	Quota  *model.QuotaState
}

// CardDetails describe a verified card.
type CardDetails struct {
	Last4 string
	Brand string
}

// PaymentProvider is implemented once per provider. The billing service
// only ever talks to providers through it.
type PaymentProvider interface {
	Name() model.Provider
	// ParseWebhook verifies the delivery and normalizes it. Events the
	// service does not act on come back with Kind EventIgnored.
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*model.BillingEvent, error)
	CreateCustomer(ctx context.Context, user *model.User) (string, error)
	CreateSubscription(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	CreateOneTimeCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
}

// CardVerifier is implemented by providers that verify a card with a test
// charge. CompleteCardVerification attaches the card to the customer and
// refunds the charge; it must be safe to call again for the same charge.
type CardVerifier interface {
	CompleteCardVerification(ctx context.Context, customerID, chargeID, paymentMethodID string) (CardDetails, error)
}
