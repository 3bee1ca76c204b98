package service

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"fileshare/internal/apperr"
	"fileshare/internal/metrics"
	"fileshare/internal/model"
	"fileshare/internal/pricing"
	"fileshare/internal/repository"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ReconcileOutcome says what a webhook event did.
type ReconcileOutcome string

const (
	OutcomeApplied   ReconcileOutcome = "applied"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomeIgnored   ReconcileOutcome = "ignored"
)

const (
	defaultInvoicePageSize = 20
	maxInvoicePageSize     = 100
)

// cardVerificationAmount is charged and refunded to prove a card works.
var cardVerificationAmount = decimal.NewFromInt(1)

// BillingService reconciles provider webhooks with the user, campaign and
// invoice records and starts checkouts. Every event goes through Reconcile.
type BillingService interface {
	HandleWebhook(ctx context.Context, provider model.Provider, payload []byte, headers http.Header) (ReconcileOutcome, error)
	Reconcile(ctx context.Context, ev *model.BillingEvent) (ReconcileOutcome, error)
	// ApplyPendingDowngrade reverts u to the free tier once its grace
	// period is over and updates u in place when it does.
	ApplyPendingDowngrade(ctx context.Context, u *model.User) (bool, error)
	ApplyDueDowngrade(ctx context.Context, userID string) (bool, error)
	CancelSubscription(ctx context.Context, userID string) (*model.User, error)
	Subscribe(ctx context.Context, userID string, provider model.Provider, opts pricing.Options) (*Checkout, error)
	Quote(opts pricing.Options) (pricing.Quote, error)
	VerifyCard(ctx context.Context, userID string, provider model.Provider, paymentMethodID string) (*Charge, error)
	PayCampaign(ctx context.Context, userID, campaignID string, provider model.Provider, amount decimal.Decimal) (*Charge, error)
	ListInvoices(ctx context.Context, userID string, limit, offset int) ([]model.Invoice, error)
}

type BillingSettings struct {
	BackendURL  string
	FrontendURL string
}

type billingService struct {
	users     repository.UserRepository
	subs      repository.SubscriptionRepository
	invoices  repository.InvoiceRepository
	campaigns repository.CampaignRepository
	providers map[model.Provider]PaymentProvider
	notifier  Notifier
	queue     TaskQueue
	metrics   *metrics.Metrics
	settings  BillingSettings
	now       func() time.Time
	logger    zerolog.Logger
}

func NewBillingService(
	users repository.UserRepository,
	subs repository.SubscriptionRepository,
	invoices repository.InvoiceRepository,
	campaigns repository.CampaignRepository,
	providers []PaymentProvider,
	notifier Notifier,
	queue TaskQueue,
	m *metrics.Metrics,
	settings BillingSettings,
	logger zerolog.Logger,
) BillingService {
	table := make(map[model.Provider]PaymentProvider, len(providers))
	for _, p := range providers {
		table[p.Name()] = p
	}
	return &billingService{
		users:     users,
		subs:      subs,
		invoices:  invoices,
		campaigns: campaigns,
		providers: table,
		notifier:  notifier,
		queue:     queue,
		metrics:   m,
		settings:  settings,
		now:       time.Now,
		logger:    logger.With().Str("service", "BillingService").Logger(),
	}
}

func (s *billingService) provider(name model.Provider) (PaymentProvider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, apperr.Validation("unsupported payment provider %q", name)
	}
	return p, nil
}

func (s *billingService) HandleWebhook(ctx context.Context, provider model.Provider, payload []byte, headers http.Header) (ReconcileOutcome, error) {
	p, err := s.provider(provider)
	if err != nil {
		return "", err
	}
	ev, err := p.ParseWebhook(ctx, payload, headers)
	if err != nil {
		s.count(provider, "unverified", "rejected")
		s.logger.Warn().Err(err).Str("provider", string(provider)).Msg("Rejected webhook")
		return "", err
	}
	return s.Reconcile(ctx, ev)
}

func (s *billingService) Reconcile(ctx context.Context, ev *model.BillingEvent) (ReconcileOutcome, error) {
	log := s.logger.With().
		Str("provider", string(ev.Provider)).
		Str("event_type", ev.Type).
		Str("event_key", ev.IdempotencyKey).
		Logger()

	var (
		outcome ReconcileOutcome
		err     error
	)
	switch ev.Kind {
	case model.EventSubscriptionStatus:
		outcome, err = s.reconcileSubscription(ctx, ev, log)
	case model.EventCardVerification:
		outcome, err = s.reconcileCardVerification(ctx, ev, log)
	case model.EventCampaignPayment:
		outcome, err = s.reconcileCampaignPayment(ctx, ev, log)
	case model.EventInvoicePaid:
		outcome, err = s.reconcileInvoice(ctx, ev, log)
	default:
		outcome = OutcomeIgnored
	}
	if err != nil {
		s.count(ev.Provider, string(ev.Kind), "error")
		log.Error().Err(err).Msg("Failed to reconcile billing event")
		return "", err
	}
	s.count(ev.Provider, string(ev.Kind), string(outcome))
	log.Info().Str("outcome", string(outcome)).Msg("Billing event reconciled")
	return outcome, nil
}

func (s *billingService) count(provider model.Provider, kind, outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookEvents.WithLabelValues(string(provider), kind, outcome).Inc()
	}
}

// resolveUser finds the account an event belongs to: explicit user id
// first, then the subscription, then the provider customer.
func (s *billingService) resolveUser(ctx context.Context, ev *model.BillingEvent, bySubscription bool) (*model.User, error) {
	if ev.UserID != "" {
		u, err := s.users.GetUserByID(ctx, ev.UserID)
		if err != nil || u != nil {
			return u, err
		}
	}
	if bySubscription && ev.ResourceID != "" {
		u, err := s.users.GetUserBySubscriptionID(ctx, ev.Provider, ev.ResourceID)
		if err != nil || u != nil {
			return u, err
		}
	}
	if ev.CustomerID != "" {
		return s.users.GetUserByCustomerID(ctx, ev.Provider, ev.CustomerID)
	}
	return nil, nil
}

func addPeriod(t time.Time, tier model.Tier) time.Time {
	if tier == model.TierYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

func isTerminal(status model.SubscriptionStatus) bool {
	return status == model.StatusDowngrading || status == model.StatusCanceled
}

// nextSubscriptionState applies one status event to the stored
// subscription. ok is false when the event must not change anything. A
// non-nil quota replaces the stored entitlements. Activations of a
// different subscription are checked with the provider before this runs.
func nextSubscriptionState(cur model.SubscriptionState, ev *model.BillingEvent, now time.Time) (model.SubscriptionState, *model.QuotaState, bool) {
	sameSub := cur.SubscriptionID == "" || cur.SubscriptionID == ev.ResourceID
	next := cur

	switch ev.Status {
	case model.StatusActive, model.StatusTrialing:
		if cur.SubscriptionID == ev.ResourceID && isTerminal(cur.Status) {
			return cur, nil, false
		}
		tier := ev.Tier
		if tier == model.TierNone {
			tier = cur.Tier
		}
		next = model.SubscriptionState{
			Provider:       ev.Provider,
			Tier:           tier,
			SubscriptionID: ev.ResourceID,
			Status:         ev.Status,
		}
		return next, ev.Quota, true

	case model.StatusIncomplete, model.StatusPastDue, model.StatusProcessing:
		if !sameSub || isTerminal(cur.Status) {
			return cur, nil, false
		}
		next.Provider, next.SubscriptionID = ev.Provider, ev.ResourceID
		next.Status = ev.Status
		next.InvoiceLink = ev.InvoiceLink
		return next, nil, true

	case model.StatusIncompleteExpired, model.StatusUnpaid:
		if !sameSub || isTerminal(cur.Status) {
			return cur, nil, false
		}
		next.Provider, next.SubscriptionID = ev.Provider, ev.ResourceID
		next.Status = ev.Status
		return next, nil, true

	case model.StatusCanceled:
		if cur.SubscriptionID != ev.ResourceID || isTerminal(cur.Status) {
			return cur, nil, false
		}
		at := now
		if !ev.OccurredAt.IsZero() {
			at = ev.OccurredAt
		}
		if !cur.HasPaidTier() {
			next.Status = model.StatusCanceled
			next.DowngradesAt = nil
			next.CanceledAt = &at
			next.InvoiceLink = ""
			free := model.FreeQuota()
			return next, &free, true
		}
		downgradesAt := addPeriod(at, cur.Tier)
		next.Status = model.StatusDowngrading
		next.DowngradesAt = &downgradesAt
		next.InvoiceLink = ""
		return next, nil, true
	}
	return cur, nil, false
}

func (s *billingService) reconcileSubscription(ctx context.Context, ev *model.BillingEvent, log zerolog.Logger) (ReconcileOutcome, error) {
	user, err := s.resolveUser(ctx, ev, true)
	if err != nil {
		return "", fmt.Errorf("resolve user for subscription %s: %w", ev.ResourceID, err)
	}
	if user == nil {
		log.Warn().Str("subscription_id", ev.ResourceID).Msg("No user for subscription event")
		return OutcomeIgnored, nil
	}
	if ev.IdempotencyKey != "" && user.Subscription.WebhookEventKey == ev.IdempotencyKey {
		return OutcomeDuplicate, nil
	}

	if switchesSubscription(user.Subscription, ev) {
		live, err := s.isLive(ctx, ev)
		if err != nil {
			return "", err
		}
		if !live {
			log.Info().
				Str("user_id", user.ID).
				Str("current_subscription_id", user.Subscription.SubscriptionID).
				Msg("Ignoring activation of a subscription that is no longer live")
			return OutcomeIgnored, nil
		}
	}

	next, quota, ok := nextSubscriptionState(user.Subscription, ev, s.now())
	if !ok {
		log.Debug().Str("user_id", user.ID).Str("status", string(user.Subscription.Status)).Msg("Subscription event does not apply")
		return OutcomeIgnored, nil
	}
	next.WebhookEventKey = ev.IdempotencyKey
	changed, err := s.subs.UpdateSubscription(ctx, user.ID, next, quota)
	if err != nil {
		return "", err
	}
	if !changed {
		return OutcomeDuplicate, nil
	}

	switch next.Status {
	case model.StatusDowngrading:
		s.notifySubscriptionEnding(user, next)
	case model.StatusPastDue, model.StatusIncomplete:
		s.notifyPaymentFailed(user, next.InvoiceLink)
	}
	return OutcomeApplied, nil
}

// switchesSubscription reports whether ev would replace the stored
// subscription with a different one.
func switchesSubscription(cur model.SubscriptionState, ev *model.BillingEvent) bool {
	if ev.Status != model.StatusActive && ev.Status != model.StatusTrialing {
		return false
	}
	return cur.SubscriptionID != "" && cur.SubscriptionID != ev.ResourceID
}

// isLive asks the provider whether the event's subscription is still
// active. A late delivery for a replaced subscription is not.
func (s *billingService) isLive(ctx context.Context, ev *model.BillingEvent) (bool, error) {
	p, err := s.provider(ev.Provider)
	if err != nil {
		return false, err
	}
	sub, err := p.GetSubscription(ctx, ev.ResourceID)
	if err != nil {
		return false, apperr.External(err, "look up subscription %s", ev.ResourceID)
	}
	return sub.Status == model.StatusActive || sub.Status == model.StatusTrialing, nil
}

func (s *billingService) notifySubscriptionEnding(user *model.User, sub model.SubscriptionState) {
	if sub.DowngradesAt == nil {
		return
	}
	to, name, lang := user.Identity.Email, user.Identity.FullName, user.Identity.Language
	downgradesAt := *sub.DowngradesAt
	s.queue.Enqueue("subscription_ending_mail", func(ctx context.Context) error {
		return s.notifier.Send(ctx, TemplateSubscriptionEnding, to, map[string]any{
			"fullName":     name,
			"language":     lang,
			"downgradesAt": downgradesAt.Format(time.RFC3339),
		})
	})
}

func (s *billingService) notifyPaymentFailed(user *model.User, invoiceLink string) {
	to, name, lang := user.Identity.Email, user.Identity.FullName, user.Identity.Language
	s.queue.Enqueue("payment_failed_mail", func(ctx context.Context) error {
		return s.notifier.Send(ctx, TemplatePaymentFailed, to, map[string]any{
			"fullName":    name,
			"language":    lang,
			"invoiceLink": invoiceLink,
		})
	})
}

func (s *billingService) reconcileCardVerification(ctx context.Context, ev *model.BillingEvent, log zerolog.Logger) (ReconcileOutcome, error) {
	user, err := s.resolveUser(ctx, ev, false)
	if err != nil {
		return "", fmt.Errorf("resolve user for payment %s: %w", ev.ResourceID, err)
	}
	if user == nil {
		log.Warn().Str("payment_id", ev.ResourceID).Msg("No user for card verification")
		return OutcomeIgnored, nil
	}
	if ev.IdempotencyKey != "" && user.PaymentMethod.WebhookEventKey == ev.IdempotencyKey {
		return OutcomeDuplicate, nil
	}

	pm := user.PaymentMethod
	pm.Provider = ev.Provider
	pm.PaymentID = ev.ResourceID
	pm.Status = model.PaymentMethodStatus(ev.PaymentStatus)
	pm.VerificationLink = ""
	if ev.CustomerID != "" {
		pm.CustomerID = ev.CustomerID
	}

	switch pm.Status {
	case model.PaymentMethodAction:
		pm.VerificationLink = ev.VerificationLink
	case model.PaymentMethodVerified:
		pm.CardLast4, pm.CardBrand = ev.CardLast4, ev.CardBrand
		if verifier, ok := s.providers[ev.Provider].(CardVerifier); ok {
			card, err := verifier.CompleteCardVerification(ctx, pm.CustomerID, ev.ResourceID, ev.PaymentMethodID)
			if err != nil {
				return "", apperr.External(err, "complete card verification for user %s", user.ID)
			}
			if card.Last4 != "" {
				pm.CardLast4, pm.CardBrand = card.Last4, card.Brand
			}
		}
	}

	changed, err := s.users.UpdatePaymentMethod(ctx, user.ID, pm, ev.IdempotencyKey)
	if err != nil {
		return "", err
	}
	if !changed {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

func campaignStatus(paymentStatus string) model.CampaignPaymentStatus {
	switch model.PaymentMethodStatus(paymentStatus) {
	case model.PaymentMethodVerified:
		return model.CampaignPaymentSucceeded
	case model.PaymentMethodFailed:
		return model.CampaignPaymentFailed
	}
	return model.CampaignPaymentProcessing
}

func (s *billingService) reconcileCampaignPayment(ctx context.Context, ev *model.BillingEvent, log zerolog.Logger) (ReconcileOutcome, error) {
	if ev.CampaignID == "" {
		return OutcomeIgnored, nil
	}
	campaign, err := s.campaigns.GetCampaignByID(ctx, ev.CampaignID)
	if err != nil {
		return "", fmt.Errorf("load campaign %s: %w", ev.CampaignID, err)
	}
	if campaign == nil {
		log.Warn().Str("campaign_id", ev.CampaignID).Msg("Payment for unknown campaign")
		return OutcomeIgnored, nil
	}
	if ev.IdempotencyKey != "" && campaign.Payment.WebhookEventKey == ev.IdempotencyKey {
		return OutcomeDuplicate, nil
	}

	payment := model.CampaignPayment{
		Provider:  ev.Provider,
		ServiceID: ev.ResourceID,
		Status:    campaignStatus(ev.PaymentStatus),
	}
	if model.PaymentMethodStatus(ev.PaymentStatus) == model.PaymentMethodAction {
		payment.InvoiceLink = ev.VerificationLink
	}
	changed, err := s.campaigns.UpdatePayment(ctx, campaign.ID, payment, ev.IdempotencyKey)
	if err != nil {
		return "", err
	}
	if !changed {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

func invoiceTypeFor(tier model.Tier) model.InvoiceType {
	switch tier {
	case model.TierMonthly:
		return model.InvoiceMonthly
	case model.TierYearly:
		return model.InvoiceYearly
	}
	return model.InvoiceOneTime
}

func (s *billingService) reconcileInvoice(ctx context.Context, ev *model.BillingEvent, log zerolog.Logger) (ReconcileOutcome, error) {
	draft := ev.Invoice
	if draft == nil || draft.ServiceID == "" {
		return OutcomeIgnored, nil
	}
	user, err := s.resolveUser(ctx, ev, true)
	if err != nil {
		return "", fmt.Errorf("resolve user for invoice %s: %w", draft.ServiceID, err)
	}
	if user == nil {
		log.Warn().Str("invoice_id", draft.ServiceID).Msg("No user for paid invoice")
		return OutcomeIgnored, nil
	}

	inv := &model.Invoice{
		UserID:    user.ID,
		Provider:  ev.Provider,
		ServiceID: draft.ServiceID,
		Plan:      draft.Plan,
		Type:      draft.Type,
		Billing:   user.Billing,
		Amount:    draft.Amount,
		Currency:  draft.Currency,
		DatePaid:  draft.PaidAt,
		Metadata: map[string]string{
			"storage":    humanize.Bytes(uint64(user.Quota.StorageQuotaBytes)),
			"workspaces": strconv.Itoa(user.Quota.MaxWorkspaces),
		},
	}
	for k, v := range draft.Metadata {
		inv.Metadata[k] = v
	}
	if inv.Plan == "" {
		inv.Plan = pricing.ProductName()
	}
	if inv.Type == "" {
		inv.Type = invoiceTypeFor(user.Subscription.Tier)
	}
	if inv.Currency == "" {
		inv.Currency = pricing.Currency
	}
	if inv.DatePaid.IsZero() {
		inv.DatePaid = s.now()
	}

	created, err := s.invoices.CreateInvoice(ctx, inv)
	if err != nil {
		return "", err
	}
	if !created {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

func (s *billingService) ApplyPendingDowngrade(ctx context.Context, u *model.User) (bool, error) {
	now := s.now()
	if u == nil || !u.Subscription.DowngradeDue(now) {
		return false, nil
	}
	applied, err := s.subs.ApplyDowngradeIfDue(ctx, u.ID, now)
	if err != nil || !applied {
		return false, err
	}
	u.Quota = model.FreeQuota()
	u.Subscription.Status = model.StatusCanceled
	u.Subscription.Tier = model.TierNone
	u.Subscription.DowngradesAt = nil
	u.Subscription.CanceledAt = &now
	s.logger.Info().Str("user_id", u.ID).Msg("Downgraded user to free tier")
	return true, nil
}

func (s *billingService) ApplyDueDowngrade(ctx context.Context, userID string) (bool, error) {
	applied, err := s.subs.ApplyDowngradeIfDue(ctx, userID, s.now())
	if err != nil {
		return false, err
	}
	if applied {
		s.logger.Info().Str("user_id", userID).Msg("Downgraded user to free tier")
	}
	return applied, nil
}

func (s *billingService) loadUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user %s not found", userID)
	}
	return user, nil
}

// CancelSubscription cancels at the provider. An active subscription keeps
// its entitlements until the end of the period; anything else reverts to
// the free tier at once.
func (s *billingService) CancelSubscription(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub := user.Subscription
	switch {
	case sub.Status == model.StatusDowngrading:
		return nil, apperr.Conflict("subscription is already canceled and downgrading")
	case sub.SubscriptionID == "" || sub.Status == model.StatusNone || sub.Status == model.StatusCanceled:
		return nil, apperr.NotFound("user %s has no subscription", userID)
	}

	p, err := s.provider(sub.Provider)
	if err != nil {
		return nil, err
	}
	if err := p.CancelSubscription(ctx, sub.SubscriptionID); err != nil {
		return nil, apperr.External(err, "cancel subscription %s", sub.SubscriptionID)
	}

	now := s.now()
	if sub.Status == model.StatusActive || sub.Status == model.StatusTrialing {
		downgradesAt := addPeriod(now, sub.Tier)
		sub.Status = model.StatusDowngrading
		sub.DowngradesAt = &downgradesAt
		sub.InvoiceLink = ""
		sub.WebhookEventKey = ""
		if _, err := s.subs.UpdateSubscription(ctx, userID, sub, nil); err != nil {
			return nil, err
		}
		s.notifySubscriptionEnding(user, sub)
	} else if err := s.subs.RevertToFree(ctx, userID, now); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Str("subscription_id", sub.SubscriptionID).Msg("Subscription canceled")
	return s.loadUser(ctx, userID)
}

func (s *billingService) Quote(opts pricing.Options) (pricing.Quote, error) {
	q, err := pricing.Calculate(opts)
	if err != nil {
		return pricing.Quote{}, apperr.Validation("%v", err)
	}
	return q, nil
}

// ensureCustomer creates the provider customer on first use.
func (s *billingService) ensureCustomer(ctx context.Context, p PaymentProvider, user *model.User) error {
	if user.PaymentMethod.CustomerID != "" && user.PaymentMethod.Provider == p.Name() {
		return nil
	}
	id, err := p.CreateCustomer(ctx, user)
	if err != nil {
		return apperr.External(err, "create %s customer", p.Name())
	}
	if id == "" {
		return nil
	}
	if err := s.users.SetCustomerID(ctx, user.ID, p.Name(), id); err != nil {
		return err
	}
	user.PaymentMethod.Provider = p.Name()
	user.PaymentMethod.CustomerID = id
	return nil
}

func (s *billingService) Subscribe(ctx context.Context, userID string, provider model.Provider, opts pricing.Options) (*Checkout, error) {
	quote, err := s.Quote(opts)
	if err != nil {
		return nil, err
	}
	p, err := s.provider(provider)
	if err != nil {
		return nil, err
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if st := user.Subscription.Status; st == model.StatusActive || st == model.StatusTrialing {
		return nil, apperr.Conflict("user %s already has an active subscription", userID)
	}
	if err := s.ensureCustomer(ctx, p, user); err != nil {
		return nil, err
	}

	checkout, err := p.CreateSubscription(ctx, CheckoutRequest{
		User:       user,
		Options:    opts,
		Quote:      quote,
		SuccessURL: s.settings.FrontendURL + "/dashboard/subscription?status=success",
		CancelURL:  s.settings.FrontendURL + "/pricing",
	})
	if err != nil {
		return nil, apperr.External(err, "create %s subscription", provider)
	}
	s.logger.Info().Str("user_id", userID).Str("provider", string(provider)).
		Str("plan", pricing.PlanName(opts)).Str("total", quote.Total.StringFixed(2)).Msg("Checkout started")
	return checkout, nil
}

// VerifyCard charges the verification amount. The outcome arrives as a
// card verification webhook.
func (s *billingService) VerifyCard(ctx context.Context, userID string, provider model.Provider, paymentMethodID string) (*Charge, error) {
	if paymentMethodID == "" {
		return nil, apperr.Validation("payment method is required")
	}
	p, err := s.provider(provider)
	if err != nil {
		return nil, err
	}
	if _, ok := p.(CardVerifier); !ok {
		return nil, apperr.Validation("provider %s does not verify cards", provider)
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCustomer(ctx, p, user); err != nil {
		return nil, err
	}

	charge, err := p.CreateOneTimeCharge(ctx, ChargeRequest{
		User:            user,
		Purpose:         PurposeCardVerification,
		Amount:          cardVerificationAmount,
		Currency:        pricing.Currency,
		PaymentMethodID: paymentMethodID,
		ReturnURL:       s.settings.BackendURL + "/redirect",
	})
	if err != nil {
		return nil, apperr.External(err, "create verification charge")
	}

	pm := user.PaymentMethod
	pm.Provider = provider
	pm.PaymentID = charge.ID
	pm.Status = model.PaymentMethodProcessing
	pm.VerificationLink = ""
	if charge.RedirectURL != "" {
		pm.Status = model.PaymentMethodAction
		pm.VerificationLink = charge.RedirectURL
	}
	if _, err := s.users.UpdatePaymentMethod(ctx, userID, pm, ""); err != nil {
		return nil, err
	}
	return charge, nil
}

func (s *billingService) PayCampaign(ctx context.Context, userID, campaignID string, provider model.Provider, amount decimal.Decimal) (*Charge, error) {
	if !amount.IsPositive() {
		return nil, apperr.Validation("amount must be positive")
	}
	p, err := s.provider(provider)
	if err != nil {
		return nil, err
	}
	campaign, err := s.campaigns.GetCampaignByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign == nil || campaign.UserID != userID {
		return nil, apperr.NotFound("campaign %s not found", campaignID)
	}
	if campaign.Payment.Status == model.CampaignPaymentSucceeded {
		return nil, apperr.Conflict("campaign %s is already paid", campaignID)
	}
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureCustomer(ctx, p, user); err != nil {
		return nil, err
	}

	charge, err := p.CreateOneTimeCharge(ctx, ChargeRequest{
		User:       user,
		Purpose:    PurposeCampaign,
		Amount:     amount,
		Currency:   pricing.Currency,
		CampaignID: campaignID,
		ReturnURL:  s.settings.FrontendURL + "/campaigns/" + campaignID,
	})
	if err != nil {
		return nil, apperr.External(err, "create campaign charge")
	}
	payment := model.CampaignPayment{
		Provider:    provider,
		ServiceID:   charge.ID,
		Status:      model.CampaignPaymentProcessing,
		InvoiceLink: charge.RedirectURL,
	}
	if _, err := s.campaigns.UpdatePayment(ctx, campaignID, payment, ""); err != nil {
		return nil, err
	}
	return charge, nil
}

func (s *billingService) ListInvoices(ctx context.Context, userID string, limit, offset int) ([]model.Invoice, error) {
	if limit <= 0 {
		limit = defaultInvoicePageSize
	}
	if limit > maxInvoicePageSize {
		limit = maxInvoicePageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.invoices.ListInvoicesByUser(ctx, userID, limit, offset)
}
