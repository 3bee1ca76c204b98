package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fileshare/internal/apperr"
	"fileshare/internal/model"
	"fileshare/internal/pricing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	paypalTokenSkew     = time.Minute
	paypalPaymentsLogin = "https://www.paypal.com/signin"
	customIDSeparator   = "|"
)

type PayPalConfig struct {
	APIBase      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	ProductID    string
}

// PayPalProvider implements PaymentProvider on the PayPal REST API.
type PayPalProvider struct {
	cfg    PayPalConfig
	client *http.Client
	now    func() time.Time
	logger zerolog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewPayPalProvider(cfg PayPalConfig, client *http.Client, logger zerolog.Logger) *PayPalProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &PayPalProvider{
		cfg:    cfg,
		client: client,
		now:    time.Now,
		logger: logger.With().Str("service", "PayPalProvider").Logger(),
	}
}

func (p *PayPalProvider) Name() model.Provider { return model.ProviderPayPal }

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func approveLink(links []paypalLink) string {
	for _, l := range links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// accessToken returns a cached client-credentials token.
func (p *PayPalProvider) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && p.now().Before(p.tokenExpiry) {
		return p.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIBase+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request paypal token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("paypal token: status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode paypal token: %w", err)
	}
	p.token = out.AccessToken
	p.tokenExpiry = p.now().Add(time.Duration(out.ExpiresIn)*time.Second - paypalTokenSkew)
	return p.token, nil
}

// do sends body as JSON and decodes the response into out when out is
// non-nil.
func (p *PayPalProvider) do(ctx context.Context, method, path string, body, out any) error {
	token, err := p.accessToken(ctx)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal paypal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.APIBase+path, reader)
	if err != nil {
		return fmt.Errorf("build paypal request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("paypal %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("paypal %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode paypal %s response: %w", path, err)
	}
	return nil
}

type paypalWebhook struct {
	ID         string          `json:"id"`
	EventType  string          `json:"event_type"`
	CreateTime string          `json:"create_time"`
	Resource   json.RawMessage `json:"resource"`
}

type paypalSubscriptionResource struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id"`
}

type paypalSaleResource struct {
	ID                 string `json:"id"`
	BillingAgreementID string `json:"billing_agreement_id"`
	Custom             string `json:"custom"`
	CreateTime         string `json:"create_time"`
	Amount             struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

type paypalCaptureResource struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id"`
}

func (p *PayPalProvider) verifyWebhook(ctx context.Context, payload []byte, h http.Header) error {
	if p.cfg.WebhookID == "" {
		p.logger.Warn().Msg("PAYPAL_WEBHOOK_ID not set, skipping webhook verification")
		return nil
	}
	req := map[string]any{
		"auth_algo":         h.Get("Paypal-Auth-Algo"),
		"cert_url":          h.Get("Paypal-Cert-Url"),
		"transmission_id":   h.Get("Paypal-Transmission-Id"),
		"transmission_sig":  h.Get("Paypal-Transmission-Sig"),
		"transmission_time": h.Get("Paypal-Transmission-Time"),
		"webhook_id":        p.cfg.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req, &out); err != nil {
		return apperr.External(err, "verify paypal webhook")
	}
	if out.VerificationStatus != "SUCCESS" {
		return apperr.Validation("paypal webhook verification status %q", out.VerificationStatus)
	}
	return nil
}

// customID joins the user id with a plan name or purpose.
func customID(userID, tag string) string {
	return userID + customIDSeparator + tag
}

func splitCustomID(raw string) (userID, tag string) {
	userID, tag, _ = strings.Cut(raw, customIDSeparator)
	return userID, tag
}

func (p *PayPalProvider) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*model.BillingEvent, error) {
	if err := p.verifyWebhook(ctx, payload, headers); err != nil {
		return nil, err
	}
	var wh paypalWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, apperr.Validation("invalid paypal webhook: %v", err)
	}
	ev := &model.BillingEvent{
		Provider:       model.ProviderPayPal,
		Kind:           model.EventIgnored,
		Type:           wh.EventType,
		IdempotencyKey: wh.ID,
	}
	if t, err := time.Parse(time.RFC3339, wh.CreateTime); err == nil {
		ev.OccurredAt = t.UTC()
	}

	switch {
	case strings.HasPrefix(wh.EventType, "BILLING.SUBSCRIPTION."):
		var res paypalSubscriptionResource
		if err := json.Unmarshal(wh.Resource, &res); err != nil {
			return nil, apperr.Validation("invalid paypal subscription resource: %v", err)
		}
		mapPayPalSubscription(ev, &res)
	case wh.EventType == "PAYMENT.SALE.COMPLETED":
		var res paypalSaleResource
		if err := json.Unmarshal(wh.Resource, &res); err != nil {
			return nil, apperr.Validation("invalid paypal sale resource: %v", err)
		}
		mapPayPalSale(ev, &res)
	case strings.HasPrefix(wh.EventType, "PAYMENT.CAPTURE."):
		var res paypalCaptureResource
		if err := json.Unmarshal(wh.Resource, &res); err != nil {
			return nil, apperr.Validation("invalid paypal capture resource: %v", err)
		}
		mapPayPalCapture(ev, &res)
	}
	return ev, nil
}

func paypalStatus(s string) (model.SubscriptionStatus, bool) {
	switch s {
	case "ACTIVE":
		return model.StatusActive, true
	case "APPROVAL_PENDING", "APPROVED":
		return model.StatusIncomplete, true
	case "SUSPENDED":
		return model.StatusUnpaid, true
	case "CANCELLED", "EXPIRED":
		return model.StatusCanceled, true
	}
	return model.StatusNone, false
}

func mapPayPalSubscription(ev *model.BillingEvent, res *paypalSubscriptionResource) {
	var status model.SubscriptionStatus
	switch ev.Type {
	case "BILLING.SUBSCRIPTION.ACTIVATED", "BILLING.SUBSCRIPTION.RE-ACTIVATED":
		status = model.StatusActive
	case "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		status = model.StatusPastDue
		ev.InvoiceLink = paypalPaymentsLogin
	case "BILLING.SUBSCRIPTION.SUSPENDED":
		status = model.StatusUnpaid
	case "BILLING.SUBSCRIPTION.CANCELLED", "BILLING.SUBSCRIPTION.EXPIRED":
		status = model.StatusCanceled
	case "BILLING.SUBSCRIPTION.UPDATED":
		var ok bool
		if status, ok = paypalStatus(res.Status); !ok {
			return
		}
	default:
		return
	}

	userID, plan := splitCustomID(res.CustomID)
	ev.Kind = model.EventSubscriptionStatus
	ev.ResourceID = res.ID
	ev.UserID = userID
	ev.Status = status
	if opts, err := pricing.ParsePlanName(plan); err == nil {
		ev.Tier = opts.Tier
		if status == model.StatusActive {
			q := pricing.QuotaFor(opts)
			ev.Quota = &q
		}
	}
}

func mapPayPalSale(ev *model.BillingEvent, res *paypalSaleResource) {
	if res.BillingAgreementID == "" {
		return
	}
	userID, plan := splitCustomID(res.Custom)
	amount, err := decimal.NewFromString(res.Amount.Total)
	if err != nil {
		return
	}
	paidAt := ev.OccurredAt
	if t, err := time.Parse(time.RFC3339, res.CreateTime); err == nil {
		paidAt = t
	}
	var invType model.InvoiceType
	if opts, err := pricing.ParsePlanName(plan); err == nil {
		invType = invoiceTypeFor(opts.Tier)
	}

	ev.Kind = model.EventInvoicePaid
	ev.ResourceID = res.BillingAgreementID
	ev.UserID = userID
	ev.Invoice = &model.InvoiceDraft{
		ServiceID: res.ID,
		Plan:      plan,
		Type:      invType,
		Amount:    amount,
		Currency:  res.Amount.Currency,
		PaidAt:    paidAt,
		Metadata:  map[string]string{"subscriptionId": res.BillingAgreementID},
	}
}

// mapPayPalCapture handles captured one-off orders. Their custom id is
// "userId|purpose|campaignId".
func mapPayPalCapture(ev *model.BillingEvent, res *paypalCaptureResource) {
	userID, rest := splitCustomID(res.CustomID)
	purpose, campaignID, _ := strings.Cut(rest, customIDSeparator)
	if ChargePurpose(purpose) != PurposeCampaign || campaignID == "" {
		return
	}
	switch ev.Type {
	case "PAYMENT.CAPTURE.COMPLETED":
		ev.PaymentStatus = string(model.PaymentMethodVerified)
	case "PAYMENT.CAPTURE.PENDING":
		ev.PaymentStatus = string(model.PaymentMethodProcessing)
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		ev.PaymentStatus = string(model.PaymentMethodFailed)
	default:
		return
	}
	ev.Kind = model.EventCampaignPayment
	ev.ResourceID = res.ID
	ev.UserID = userID
	ev.CampaignID = campaignID
}

// CreateCustomer is a no-op: PayPal identifies payers at approval time.
func (p *PayPalProvider) CreateCustomer(ctx context.Context, user *model.User) (string, error) {
	return "", nil
}

func (p *PayPalProvider) createPlan(ctx context.Context, opts pricing.Options, quote pricing.Quote) (string, error) {
	interval := "MONTH"
	if opts.Tier == model.TierYearly {
		interval = "YEAR"
	}
	body := map[string]any{
		"product_id": p.cfg.ProductID,
		"name":       pricing.PlanName(opts),
		"status":     "ACTIVE",
		"billing_cycles": []map[string]any{{
			"frequency":    map[string]any{"interval_unit": interval, "interval_count": 1},
			"tenure_type":  "REGULAR",
			"sequence":     1,
			"total_cycles": 0,
			"pricing_scheme": map[string]any{
				"fixed_price": map[string]string{
					"value":         quote.Total.StringFixed(2),
					"currency_code": quote.Currency,
				},
			},
		}},
		"payment_preferences": map[string]any{
			"auto_bill_outstanding":     true,
			"payment_failure_threshold": 1,
		},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/billing/plans", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (p *PayPalProvider) CreateSubscription(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	planID, err := p.createPlan(ctx, req.Options, req.Quote)
	if err != nil {
		return nil, fmt.Errorf("create paypal plan: %w", err)
	}
	body := map[string]any{
		"plan_id":   planID,
		"custom_id": customID(req.User.ID, pricing.PlanName(req.Options)),
		"subscriber": map[string]any{
			"email_address": req.User.Identity.Email,
		},
		"application_context": map[string]any{
			"user_action": "SUBSCRIBE_NOW",
			"return_url":  req.SuccessURL,
			"cancel_url":  req.CancelURL,
		},
	}
	var out struct {
		ID    string       `json:"id"`
		Links []paypalLink `json:"links"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/billing/subscriptions", body, &out); err != nil {
		return nil, fmt.Errorf("create paypal subscription: %w", err)
	}
	return &Checkout{Provider: model.ProviderPayPal, SubscriptionID: out.ID, URL: approveLink(out.Links)}, nil
}

func (p *PayPalProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	body := map[string]string{"reason": "Canceled by the subscriber"}
	path := "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID) + "/cancel"
	if err := p.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("cancel paypal subscription %s: %w", subscriptionID, err)
	}
	return nil
}

// CreateOneTimeCharge creates an order the payer approves and captures in
// the browser.
func (p *PayPalProvider) CreateOneTimeCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"custom_id": customID(req.User.ID, string(req.Purpose)+customIDSeparator+req.CampaignID),
			"amount": map[string]string{
				"currency_code": req.Currency,
				"value":         req.Amount.StringFixed(2),
			},
		}},
		"application_context": map[string]any{
			"return_url": req.ReturnURL,
			"cancel_url": req.ReturnURL,
		},
	}
	var out struct {
		ID     string       `json:"id"`
		Status string       `json:"status"`
		Links  []paypalLink `json:"links"`
	}
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &out); err != nil {
		return nil, fmt.Errorf("create paypal order: %w", err)
	}
	return &Charge{ID: out.ID, Status: strings.ToLower(out.Status), RedirectURL: approveLink(out.Links)}, nil
}

func (p *PayPalProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	var res paypalSubscriptionResource
	if err := p.do(ctx, http.MethodGet, "/v1/billing/subscriptions/"+url.PathEscape(subscriptionID), nil, &res); err != nil {
		return nil, fmt.Errorf("fetch paypal subscription %s: %w", subscriptionID, err)
	}
	status, _ := paypalStatus(res.Status)
	out := &ProviderSubscription{ID: res.ID, Status: status}
	_, plan := splitCustomID(res.CustomID)
	if opts, err := pricing.ParsePlanName(plan); err == nil {
		out.Tier = opts.Tier
		if status == model.StatusActive {
			q := pricing.QuotaFor(opts)
			out.Quota = &q
		}
	}
	return out, nil
}
