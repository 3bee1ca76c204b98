package model

import "time"

// Free-tier entitlements every account falls back to.
const (
	FreeStorageQuotaBytes int64 = 4_000_000_000
	FreeMaxWorkspaces           = 1
)

type Provider string

const (
	ProviderNone   Provider = ""
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// Tier is the billing cadence of a subscription. TierNone means free.
type Tier string

const (
	TierNone    Tier = ""
	TierMonthly Tier = "monthly"
	TierYearly  Tier = "yearly"
)

type SubscriptionStatus string

const (
	StatusNone              SubscriptionStatus = ""
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusProcessing        SubscriptionStatus = "processing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusDowngrading       SubscriptionStatus = "downgrading"
	StatusCanceled          SubscriptionStatus = "canceled"
)

// User is the account aggregate root. Subsystems read only the value object
// they need: the quota ledger reads Quota and Subscription.Tier, the billing
// reconciler reads Subscription and PaymentMethod.
type User struct {
	ID                 string            `json:"id"`
	Identity           Identity          `json:"identity"`
	Quota              QuotaState        `json:"quota"`
	Subscription       SubscriptionState `json:"subscription"`
	PaymentMethod      PaymentMethod     `json:"paymentMethod"`
	Billing            BillingDetails    `json:"billing"`
	DefaultWorkspaceID string            `json:"defaultWorkspace"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

type Identity struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Username string `json:"username"`
	Language string `json:"language"`
}

type QuotaState struct {
	StorageQuotaBytes int64 `json:"storageSizeInBytes"`
	MaxWorkspaces     int   `json:"maxWorkspaces"`
}

// FreeQuota returns the entitlements of an account without a paid tier.
func FreeQuota() QuotaState {
	return QuotaState{StorageQuotaBytes: FreeStorageQuotaBytes, MaxWorkspaces: FreeMaxWorkspaces}
}

type SubscriptionState struct {
	Provider        Provider           `json:"service,omitempty"`
	Tier            Tier               `json:"type,omitempty"`
	SubscriptionID  string             `json:"subscriptionId,omitempty"`
	Status          SubscriptionStatus `json:"status"`
	DowngradesAt    *time.Time         `json:"downgradesAt,omitempty"`
	CanceledAt      *time.Time         `json:"canceledAt,omitempty"`
	InvoiceLink     string             `json:"invoiceLink,omitempty"`
	WebhookEventKey string             `json:"-"`
}

// HasPaidTier reports whether a subscription tier has been granted.
func (s SubscriptionState) HasPaidTier() bool {
	return s.Tier != TierNone
}

// DowngradeDue reports whether a scheduled downgrade has reached its date.
func (s SubscriptionState) DowngradeDue(now time.Time) bool {
	return s.Status == StatusDowngrading && s.DowngradesAt != nil && !now.Before(*s.DowngradesAt)
}

// PaymentMethodStatus tracks card verification.
type PaymentMethodStatus string

const (
	PaymentMethodNone       PaymentMethodStatus = ""
	PaymentMethodProcessing PaymentMethodStatus = "processing"
	PaymentMethodVerified   PaymentMethodStatus = "succeeded"
	PaymentMethodFailed     PaymentMethodStatus = "failed"
	PaymentMethodAction     PaymentMethodStatus = "requires_action"
)

type PaymentMethod struct {
	Provider         Provider            `json:"service,omitempty"`
	CustomerID       string              `json:"customerId,omitempty"`
	PaymentID        string              `json:"paymentId,omitempty"`
	Status           PaymentMethodStatus `json:"status,omitempty"`
	VerificationLink string              `json:"verificationLink,omitempty"`
	CardLast4        string              `json:"last4,omitempty"`
	CardBrand        string              `json:"brand,omitempty"`
	WebhookEventKey  string              `json:"-"`
}

type BillingDetails struct {
	Name       string `json:"name,omitempty"`
	Address    string `json:"address,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
	VATNumber  string `json:"vatNumber,omitempty"`
}
