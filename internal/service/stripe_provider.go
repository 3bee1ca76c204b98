package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fileshare/internal/apperr"
	"fileshare/internal/model"
	"fileshare/internal/pricing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	invoicepkg "github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/refund"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Descriptions of the one-off charges. Charges created before metadata
// carried a purpose are told apart by these.
const (
	stripeTestChargeDescriptor = "Zoxxo Test Charge"
	stripeCampaignDescriptor   = "Zoxxo Campaign Price"
)

// Metadata keys written on Stripe objects.
const (
	metaUserID       = "userId"
	metaCampaignID   = "campaignId"
	metaPurpose      = "purpose"
	metaTier         = "subscriptionType"
	metaPlan         = "plan"
	metaWorkspaces   = "maxWorkspaces"
	metaStorageBytes = "storageSizeInBytes"
)

// StripeProvider implements PaymentProvider and CardVerifier on Stripe.
type StripeProvider struct {
	webhookSecret string
	backendURL    string
	// invoiceURL resolves the hosted page of an invoice.
	invoiceURL func(id string) (string, error)
	logger     zerolog.Logger
}

// NewStripeProvider sets the global Stripe key and returns the provider.
func NewStripeProvider(secretKey, webhookSecret, backendURL string, logger zerolog.Logger) *StripeProvider {
	stripe.Key = secretKey
	return &StripeProvider{
		webhookSecret: webhookSecret,
		backendURL:    backendURL,
		invoiceURL:    hostedInvoiceURL,
		logger:        logger.With().Str("service", "StripeProvider").Logger(),
	}
}

func hostedInvoiceURL(id string) (string, error) {
	inv, err := invoicepkg.Get(id, nil)
	if err != nil {
		return "", fmt.Errorf("fetch stripe invoice %s: %w", id, err)
	}
	return inv.HostedInvoiceURL, nil
}

func (p *StripeProvider) Name() model.Provider { return model.ProviderStripe }

type stripePaymentIntent struct {
	ID                  string            `json:"id"`
	Status              string            `json:"status"`
	Customer            string            `json:"customer"`
	PaymentMethod       string            `json:"payment_method"`
	Description         string            `json:"description"`
	StatementDescriptor string            `json:"statement_descriptor"`
	Metadata            map[string]string `json:"metadata"`
	NextAction          *struct {
		RedirectToURL *struct {
			URL string `json:"url"`
		} `json:"redirect_to_url"`
	} `json:"next_action"`
}

type stripeSubscription struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Customer      string            `json:"customer"`
	LatestInvoice string            `json:"latest_invoice"`
	Metadata      map[string]string `json:"metadata"`
	Items         struct {
		Data []struct {
			Price struct {
				Recurring *struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	AmountPaid        int64  `json:"amount_paid"`
	Currency          string `json:"currency"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// subscriptionRef returns the subscription id and its metadata across API
// versions: older payloads carry them at the top level, newer ones under
// parent.subscription_details.
func (inv *stripeInvoice) subscriptionRef() (string, map[string]string) {
	id, meta := inv.Subscription, map[string]string(nil)
	if inv.SubscriptionDetails != nil {
		meta = inv.SubscriptionDetails.Metadata
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if id == "" {
			id = inv.Parent.SubscriptionDetails.Subscription
		}
		if meta == nil {
			meta = inv.Parent.SubscriptionDetails.Metadata
		}
	}
	return id, meta
}

// ParseWebhook verifies the Stripe-Signature header and maps the event.
func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*model.BillingEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, headers.Get("Stripe-Signature"), p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, apperr.Validation("stripe signature verification failed: %v", err)
	}
	ev := &model.BillingEvent{
		Provider:       model.ProviderStripe,
		Kind:           model.EventIgnored,
		Type:           string(event.Type),
		IdempotencyKey: event.ID,
		OccurredAt:     time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return ev, nil
	}

	switch {
	case strings.HasPrefix(ev.Type, "payment_intent."):
		var pi stripePaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, apperr.Validation("invalid payment_intent payload: %v", err)
		}
		p.mapPaymentIntent(ev, &pi)
	case strings.HasPrefix(ev.Type, "customer.subscription."):
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, apperr.Validation("invalid subscription payload: %v", err)
		}
		p.mapSubscription(ev, &sub)
	case ev.Type == "invoice.paid" || ev.Type == "invoice.payment_succeeded":
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, apperr.Validation("invalid invoice payload: %v", err)
		}
		mapStripeInvoice(ev, &inv)
	}
	return ev, nil
}

func paymentPurpose(pi *stripePaymentIntent) ChargePurpose {
	if purpose := pi.Metadata[metaPurpose]; purpose != "" {
		return ChargePurpose(purpose)
	}
	for _, d := range []string{pi.Description, pi.StatementDescriptor} {
		switch d {
		case stripeTestChargeDescriptor:
			return PurposeCardVerification
		case stripeCampaignDescriptor:
			return PurposeCampaign
		}
	}
	return ""
}

func (p *StripeProvider) mapPaymentIntent(ev *model.BillingEvent, pi *stripePaymentIntent) {
	var status string
	switch ev.Type {
	case "payment_intent.succeeded":
		status = string(model.PaymentMethodVerified)
	case "payment_intent.processing":
		status = string(model.PaymentMethodProcessing)
	case "payment_intent.payment_failed":
		status = string(model.PaymentMethodFailed)
	case "payment_intent.requires_action":
		status = string(model.PaymentMethodAction)
	default:
		return
	}

	ev.ResourceID = pi.ID
	ev.CustomerID = pi.Customer
	ev.UserID = pi.Metadata[metaUserID]
	ev.PaymentStatus = status
	ev.PaymentMethodID = pi.PaymentMethod
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		ev.VerificationLink = pi.NextAction.RedirectToURL.URL
	}

	switch paymentPurpose(pi) {
	case PurposeCardVerification:
		ev.Kind = model.EventCardVerification
	case PurposeCampaign:
		ev.Kind = model.EventCampaignPayment
		ev.CampaignID = pi.Metadata[metaCampaignID]
	}
}

func stripeStatus(s string) (model.SubscriptionStatus, bool) {
	switch s {
	case "active":
		return model.StatusActive, true
	case "trialing":
		return model.StatusTrialing, true
	case "incomplete":
		return model.StatusIncomplete, true
	case "past_due":
		return model.StatusPastDue, true
	case "incomplete_expired":
		return model.StatusIncompleteExpired, true
	case "unpaid", "paused":
		return model.StatusUnpaid, true
	case "canceled":
		return model.StatusCanceled, true
	}
	return model.StatusNone, false
}

func tierFromInterval(interval string) model.Tier {
	switch interval {
	case "month":
		return model.TierMonthly
	case "year":
		return model.TierYearly
	}
	return model.TierNone
}

// quotaFromMetadata reads the entitlements written on the subscription at
// checkout. Both keys must be present.
func quotaFromMetadata(meta map[string]string) *model.QuotaState {
	ws, errWs := strconv.Atoi(meta[metaWorkspaces])
	bytes, errBytes := strconv.ParseInt(meta[metaStorageBytes], 10, 64)
	if errWs != nil || errBytes != nil || ws < 1 || bytes < 1 {
		return nil
	}
	return &model.QuotaState{StorageQuotaBytes: bytes, MaxWorkspaces: ws}
}

func (p *StripeProvider) mapSubscription(ev *model.BillingEvent, sub *stripeSubscription) {
	status, ok := stripeStatus(sub.Status)
	if !ok {
		return
	}
	ev.Kind = model.EventSubscriptionStatus
	ev.ResourceID = sub.ID
	ev.CustomerID = sub.Customer
	ev.UserID = sub.Metadata[metaUserID]
	ev.Status = status

	ev.Tier = model.Tier(sub.Metadata[metaTier])
	if ev.Tier != model.TierMonthly && ev.Tier != model.TierYearly {
		ev.Tier = model.TierNone
		if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price.Recurring != nil {
			ev.Tier = tierFromInterval(sub.Items.Data[0].Price.Recurring.Interval)
		}
	}

	switch status {
	case model.StatusActive, model.StatusTrialing:
		ev.Quota = quotaFromMetadata(sub.Metadata)
	case model.StatusIncomplete, model.StatusPastDue:
		if sub.LatestInvoice != "" && p.invoiceURL != nil {
			link, err := p.invoiceURL(sub.LatestInvoice)
			if err != nil {
				p.logger.Warn().Err(err).Str("subscription_id", sub.ID).Msg("Could not resolve hosted invoice link")
			}
			ev.InvoiceLink = link
		}
	}
}

func mapStripeInvoice(ev *model.BillingEvent, inv *stripeInvoice) {
	subID, meta := inv.subscriptionRef()
	if subID == "" {
		return
	}
	ev.Kind = model.EventInvoicePaid
	ev.ResourceID = subID
	ev.CustomerID = inv.Customer
	ev.UserID = meta[metaUserID]

	paidAt := ev.OccurredAt
	if inv.StatusTransitions.PaidAt > 0 {
		paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
	}
	invType := model.InvoiceType(meta[metaTier])
	if invType != model.InvoiceMonthly && invType != model.InvoiceYearly {
		invType = ""
	}
	ev.Invoice = &model.InvoiceDraft{
		ServiceID: inv.ID,
		Plan:      meta[metaPlan],
		Type:      invType,
		Amount:    decimal.New(inv.AmountPaid, -2),
		Currency:  strings.ToUpper(inv.Currency),
		PaidAt:    paidAt,
		Metadata:  map[string]string{"subscriptionId": subID},
	}
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, user *model.User) (string, error) {
	params := &stripe.CustomerParams{
		Email:    stripe.String(user.Identity.Email),
		Name:     stripe.String(user.Identity.FullName),
		Metadata: map[string]string{metaUserID: user.ID},
	}
	cust, err := customerpkg.New(params)
	if err != nil {
		p.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to create Stripe customer")
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	quota := pricing.QuotaFor(req.Options)
	interval := "month"
	if req.Options.Tier == model.TierYearly {
		interval = "year"
	}
	meta := map[string]string{
		metaUserID:       req.User.ID,
		metaTier:         string(req.Options.Tier),
		metaPlan:         pricing.PlanName(req.Options),
		metaWorkspaces:   strconv.Itoa(quota.MaxWorkspaces),
		metaStorageBytes: strconv.FormatInt(quota.StorageQuotaBytes, 10),
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(req.User.PaymentMethod.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Quote.Currency)),
				UnitAmount: stripe.Int64(req.Quote.Total.Shift(2).IntPart()),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(pricing.PlanName(req.Options)),
				},
				Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
					Interval: stripe.String(interval),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta},
		SuccessURL:       stripe.String(req.SuccessURL),
		CancelURL:        stripe.String(req.CancelURL),
		Metadata:         map[string]string{metaUserID: req.User.ID},
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		p.logger.Error().Err(err).Str("user_id", req.User.ID).Msg("Failed to create Stripe checkout session")
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Checkout{Provider: model.ProviderStripe, URL: sess.URL}, nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if _, err := subscriptionpkg.Cancel(subscriptionID, nil); err != nil {
		return fmt.Errorf("cancel stripe subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (p *StripeProvider) CreateOneTimeCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	meta := map[string]string{
		metaUserID:  req.User.ID,
		metaPurpose: string(req.Purpose),
	}
	descriptor := stripeTestChargeDescriptor
	if req.Purpose == PurposeCampaign {
		descriptor = stripeCampaignDescriptor
		meta[metaCampaignID] = req.CampaignID
	}
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount.Shift(2).IntPart()),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Customer:    stripe.String(req.User.PaymentMethod.CustomerID),
		Description: stripe.String(descriptor),
		Metadata:    meta,
	}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
		params.Confirm = stripe.Bool(true)
		params.SetupFutureUsage = stripe.String("off_session")
		params.ReturnURL = stripe.String(req.ReturnURL)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	charge := &Charge{ID: pi.ID, Status: string(pi.Status)}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		charge.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	return charge, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	sub, err := subscriptionpkg.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch stripe subscription %s: %w", subscriptionID, err)
	}
	status, _ := stripeStatus(string(sub.Status))
	out := &ProviderSubscription{ID: sub.ID, Status: status, Tier: model.Tier(sub.Metadata[metaTier])}
	if out.Tier == model.TierNone && sub.Items != nil && len(sub.Items.Data) > 0 &&
		sub.Items.Data[0].Price != nil && sub.Items.Data[0].Price.Recurring != nil {
		out.Tier = tierFromInterval(string(sub.Items.Data[0].Price.Recurring.Interval))
	}
	if status == model.StatusActive || status == model.StatusTrialing {
		out.Quota = quotaFromMetadata(sub.Metadata)
	}
	return out, nil
}

// CompleteCardVerification makes the verified card the customer's default
// and refunds the test charge. The refund is keyed on the charge so a
// redelivered webhook does not refund twice.
func (p *StripeProvider) CompleteCardVerification(ctx context.Context, customerID, chargeID, paymentMethodID string) (CardDetails, error) {
	var card CardDetails
	if paymentMethodID != "" && customerID != "" {
		pm, err := paymentmethod.Attach(paymentMethodID, &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)})
		if err != nil {
			return card, fmt.Errorf("attach payment method %s: %w", paymentMethodID, err)
		}
		if pm.Card != nil {
			card = CardDetails{Last4: pm.Card.Last4, Brand: string(pm.Card.Brand)}
		}
		if _, err := customerpkg.Update(customerID, &stripe.CustomerParams{
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{DefaultPaymentMethod: stripe.String(paymentMethodID)},
		}); err != nil {
			return card, fmt.Errorf("set default payment method for %s: %w", customerID, err)
		}
	}

	params := &stripe.RefundParams{PaymentIntent: stripe.String(chargeID)}
	params.SetIdempotencyKey("card-verification-refund-" + chargeID)
	if _, err := refund.New(params); err != nil {
		return card, fmt.Errorf("refund test charge %s: %w", chargeID, err)
	}
	p.logger.Info().Str("payment_intent", chargeID).Msg("Card verified and test charge refunded")
	return card, nil
}
