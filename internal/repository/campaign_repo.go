package repository

import (
	"context"
	"errors"
	"fmt"

	"fileshare/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CampaignRepository interface {
	GetCampaignByID(ctx context.Context, id string) (*model.Campaign, error)
	// UpdatePayment writes the payment sub-document unless eventKey is
	// already stored on the campaign. It reports whether a row changed.
	UpdatePayment(ctx context.Context, id string, p model.CampaignPayment, eventKey string) (bool, error)
}

type campaignRepo struct {
	pool *pgxpool.Pool
}

func NewCampaignRepo(pool *pgxpool.Pool) CampaignRepository {
	return &campaignRepo{pool: pool}
}

func (r *campaignRepo) GetCampaignByID(ctx context.Context, id string) (*model.Campaign, error) {
	const q = `
		SELECT id::text, user_id::text, title, pay_provider, pay_service_id, pay_status, pay_invoice_link, pay_event_key
		FROM campaigns
		WHERE id = $1`
	var c model.Campaign
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.UserID, &c.Title,
		&c.Payment.Provider, &c.Payment.ServiceID, &c.Payment.Status, &c.Payment.InvoiceLink, &c.Payment.WebhookEventKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch campaign %s: %w", id, err)
	}
	return &c, nil
}

func (r *campaignRepo) UpdatePayment(ctx context.Context, id string, p model.CampaignPayment, eventKey string) (bool, error) {
	const q = `
		UPDATE campaigns
		SET pay_provider = $2,
		    pay_service_id = $3,
		    pay_status = $4,
		    pay_invoice_link = $5,
		    pay_event_key = CASE WHEN $6 = '' THEN pay_event_key ELSE $6 END
		WHERE id = $1
		  AND ($6 = '' OR pay_event_key <> $6)`
	tag, err := r.pool.Exec(ctx, q, id, p.Provider, p.ServiceID, p.Status, p.InvoiceLink, eventKey)
	if err != nil {
		return false, fmt.Errorf("update payment of campaign %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
