package model

type CampaignPaymentStatus string

const (
	CampaignPaymentProcessing CampaignPaymentStatus = "processing"
	CampaignPaymentSucceeded  CampaignPaymentStatus = "succeeded"
	CampaignPaymentFailed     CampaignPaymentStatus = "failed"
)

// Campaign carries only what the billing reconciler mutates.
type Campaign struct {
	ID      string          `json:"id"`
	UserID  string          `json:"user"`
	Title   string          `json:"title"`
	Payment CampaignPayment `json:"payment"`
}

type CampaignPayment struct {
	Provider        Provider              `json:"service,omitempty"`
	ServiceID       string                `json:"serviceId,omitempty"`
	Status          CampaignPaymentStatus `json:"status,omitempty"`
	InvoiceLink     string                `json:"invoiceLink,omitempty"`
	WebhookEventKey string                `json:"-"`
}
