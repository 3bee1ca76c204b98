package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"fileshare/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type InvoiceRepository interface {
	// CreateInvoice inserts inv unless an invoice with the same provider and
	// service id exists. It reports whether a row was inserted.
	CreateInvoice(ctx context.Context, inv *model.Invoice) (bool, error)
	ListInvoicesByUser(ctx context.Context, userID string, limit, offset int) ([]model.Invoice, error)
}

type invoiceRepo struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepo(pool *pgxpool.Pool) InvoiceRepository {
	return &invoiceRepo{pool: pool}
}

func (r *invoiceRepo) CreateInvoice(ctx context.Context, inv *model.Invoice) (bool, error) {
	billing, err := json.Marshal(inv.Billing)
	if err != nil {
		return false, fmt.Errorf("marshal billing: %w", err)
	}
	metadata, err := json.Marshal(inv.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	const q = `
		INSERT INTO invoices (user_id, provider, service_id, plan, type, billing, amount, currency, date_paid, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
		ON CONFLICT (provider, service_id) DO NOTHING
		RETURNING id::text, created_at`
	rows, err := r.pool.Query(ctx, q, inv.UserID, inv.Provider, inv.ServiceID, inv.Plan, inv.Type,
		billing, inv.Amount.StringFixed(2), inv.Currency, inv.DatePaid, metadata)
	if err != nil {
		return false, fmt.Errorf("insert invoice %s/%s: %w", inv.Provider, inv.ServiceID, err)
	}
	defer rows.Close()

	inserted := false
	if rows.Next() {
		if err := rows.Scan(&inv.ID, &inv.CreatedAt); err != nil {
			return false, fmt.Errorf("scan invoice id: %w", err)
		}
		inserted = true
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("insert invoice %s/%s: %w", inv.Provider, inv.ServiceID, err)
	}
	return inserted, nil
}

func (r *invoiceRepo) ListInvoicesByUser(ctx context.Context, userID string, limit, offset int) ([]model.Invoice, error) {
	const q = `
		SELECT id::text, user_id::text, provider, service_id, plan, type, billing, amount::text, currency,
		       date_paid, metadata, created_at
		FROM invoices
		WHERE user_id = $1
		ORDER BY date_paid DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query invoices for user %s: %w", userID, err)
	}
	defer rows.Close()

	var invoices []model.Invoice
	for rows.Next() {
		var (
			inv                 model.Invoice
			rawBilling, rawMeta []byte
			amount              string
		)
		if err := rows.Scan(&inv.ID, &inv.UserID, &inv.Provider, &inv.ServiceID, &inv.Plan, &inv.Type,
			&rawBilling, &amount, &inv.Currency, &inv.DatePaid, &rawMeta, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice row: %w", err)
		}
		if inv.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount of invoice %s: %w", inv.ID, err)
		}
		if err := json.Unmarshal(rawBilling, &inv.Billing); err != nil {
			return nil, fmt.Errorf("unmarshal billing of invoice %s: %w", inv.ID, err)
		}
		if err := json.Unmarshal(rawMeta, &inv.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata of invoice %s: %w", inv.ID, err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return invoices, nil
}
