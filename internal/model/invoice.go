package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceType string

const (
	InvoiceMonthly InvoiceType = "monthly"
	InvoiceYearly  InvoiceType = "yearly"
	InvoiceOneTime InvoiceType = "one-time"
)

// Invoice is written once per completed payment cycle and never updated.
// (Provider, ServiceID) is unique.
type Invoice struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user"`
	Provider  Provider          `json:"service"`
	ServiceID string            `json:"serviceId"`
	Plan      string            `json:"plan"`
	Type      InvoiceType       `json:"type"`
	Billing   BillingDetails    `json:"billing"`
	Amount    decimal.Decimal   `json:"amount"`
	Currency  string            `json:"currency"`
	DatePaid  time.Time         `json:"datePaid"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
}
