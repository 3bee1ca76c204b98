package repository

import (
	"context"
	"fmt"
	"time"

	"fileshare/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository performs targeted updates on the subscription and
// quota columns of a user. Each method touches only those columns so a
// concurrent upload or profile write cannot be lost.
type SubscriptionRepository interface {
	// UpdateSubscription writes sub and, when quota is non-nil, the quota
	// fields. With a non-empty sub.WebhookEventKey the write is skipped if
	// that key is already stored. It reports whether a row changed.
	UpdateSubscription(ctx context.Context, userID string, sub model.SubscriptionState, quota *model.QuotaState) (bool, error)
	// ApplyDowngradeIfDue reverts a downgrading user whose downgradesAt has
	// passed to free-tier entitlements. It reports whether it did.
	ApplyDowngradeIfDue(ctx context.Context, userID string, now time.Time) (bool, error)
	// RevertToFree cancels immediately with no grace period.
	RevertToFree(ctx context.Context, userID string, now time.Time) error
	// ListDueDowngrades returns users whose grace period is over.
	ListDueDowngrades(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) UpdateSubscription(ctx context.Context, userID string, sub model.SubscriptionState, quota *model.QuotaState) (bool, error) {
	const q = `
		UPDATE users
		SET sub_provider = $2,
		    sub_tier = $3,
		    sub_id = $4,
		    sub_status = $5,
		    sub_downgrades_at = $6,
		    sub_canceled_at = $7,
		    sub_invoice_link = $8,
		    sub_event_key = CASE WHEN $9 = '' THEN sub_event_key ELSE $9 END,
		    storage_quota_bytes = CASE WHEN $10 THEN $11 ELSE storage_quota_bytes END,
		    max_workspaces = CASE WHEN $10 THEN $12 ELSE max_workspaces END,
		    updated_at = NOW()
		WHERE id = $1
		  AND ($9 = '' OR sub_event_key <> $9)`

	var (
		setQuota bool
		bytes    int64
		maxWs    int
	)
	if quota != nil {
		setQuota, bytes, maxWs = true, quota.StorageQuotaBytes, quota.MaxWorkspaces
	}
	tag, err := r.pool.Exec(ctx, q, userID,
		sub.Provider, sub.Tier, sub.SubscriptionID, sub.Status,
		sub.DowngradesAt, sub.CanceledAt, sub.InvoiceLink, sub.WebhookEventKey,
		setQuota, bytes, maxWs,
	)
	if err != nil {
		return false, fmt.Errorf("update subscription for user %s: %w", userID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *subscriptionRepo) ApplyDowngradeIfDue(ctx context.Context, userID string, now time.Time) (bool, error) {
	const q = `
		UPDATE users
		SET storage_quota_bytes = $3,
		    max_workspaces = $4,
		    sub_status = 'canceled',
		    sub_tier = '',
		    sub_downgrades_at = NULL,
		    sub_canceled_at = $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND sub_status = 'downgrading'
		  AND sub_downgrades_at IS NOT NULL
		  AND sub_downgrades_at <= $2`
	tag, err := r.pool.Exec(ctx, q, userID, now, model.FreeStorageQuotaBytes, model.FreeMaxWorkspaces)
	if err != nil {
		return false, fmt.Errorf("apply downgrade for user %s: %w", userID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *subscriptionRepo) RevertToFree(ctx context.Context, userID string, now time.Time) error {
	const q = `
		UPDATE users
		SET storage_quota_bytes = $3,
		    max_workspaces = $4,
		    sub_status = 'canceled',
		    sub_tier = '',
		    sub_downgrades_at = NULL,
		    sub_canceled_at = $2,
		    sub_invoice_link = '',
		    updated_at = NOW()
		WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, userID, now, model.FreeStorageQuotaBytes, model.FreeMaxWorkspaces); err != nil {
		return fmt.Errorf("revert user %s to free tier: %w", userID, err)
	}
	return nil
}

func (r *subscriptionRepo) ListDueDowngrades(ctx context.Context, now time.Time, limit int) ([]string, error) {
	const q = `
		SELECT id::text
		FROM users
		WHERE sub_status = 'downgrading'
		  AND sub_downgrades_at <= $1
		ORDER BY sub_downgrades_at
		LIMIT $2`
	return queryIDs(ctx, r.pool, q, now, limit)
}

func queryIDs(ctx context.Context, pool *pgxpool.Pool, q string, args ...any) ([]string, error) {
	rows, err := pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}
