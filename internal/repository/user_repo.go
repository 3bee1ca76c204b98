package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fileshare/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository reads and writes the identity, payment-method and billing
// parts of a user. Subscription and quota columns are owned by
// SubscriptionRepository.
type UserRepository interface {
	// CreateUser inserts the user together with its default workspace.
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByCustomerID(ctx context.Context, provider model.Provider, customerID string) (*model.User, error)
	GetUserBySubscriptionID(ctx context.Context, provider model.Provider, subscriptionID string) (*model.User, error)
	SetCustomerID(ctx context.Context, userID string, provider model.Provider, customerID string) error
	// UpdatePaymentMethod writes pm unless eventKey was already recorded for
	// this user's payment method. It reports whether a row changed.
	UpdatePaymentMethod(ctx context.Context, userID string, pm model.PaymentMethod, eventKey string) (bool, error)
	UpdateBilling(ctx context.Context, userID string, b model.BillingDetails) error
}

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

const userColumns = `
	u.id::text, u.email, u.full_name, u.username, u.language,
	u.storage_quota_bytes, u.max_workspaces,
	u.sub_provider, u.sub_tier, u.sub_id, u.sub_status, u.sub_downgrades_at, u.sub_canceled_at,
	u.sub_invoice_link, u.sub_event_key,
	u.pm_provider, u.pm_customer_id, u.pm_payment_id, u.pm_status, u.pm_verification_link,
	u.pm_card_last4, u.pm_card_brand, u.pm_event_key,
	u.billing,
	COALESCE((SELECT w.id::text FROM workspaces w WHERE w.user_id = u.id AND w.is_default), ''),
	u.created_at, u.updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u          model.User
		rawBilling []byte
	)
	err := row.Scan(
		&u.ID, &u.Identity.Email, &u.Identity.FullName, &u.Identity.Username, &u.Identity.Language,
		&u.Quota.StorageQuotaBytes, &u.Quota.MaxWorkspaces,
		&u.Subscription.Provider, &u.Subscription.Tier, &u.Subscription.SubscriptionID, &u.Subscription.Status,
		&u.Subscription.DowngradesAt, &u.Subscription.CanceledAt,
		&u.Subscription.InvoiceLink, &u.Subscription.WebhookEventKey,
		&u.PaymentMethod.Provider, &u.PaymentMethod.CustomerID, &u.PaymentMethod.PaymentID, &u.PaymentMethod.Status,
		&u.PaymentMethod.VerificationLink, &u.PaymentMethod.CardLast4, &u.PaymentMethod.CardBrand,
		&u.PaymentMethod.WebhookEventKey,
		&rawBilling,
		&u.DefaultWorkspaceID,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(rawBilling) > 0 {
		if err := json.Unmarshal(rawBilling, &u.Billing); err != nil {
			return nil, fmt.Errorf("unmarshal billing for user %s: %w", u.ID, err)
		}
	}
	return &u, nil
}

func (r *userRepo) getOne(ctx context.Context, where string, args ...any) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM users u WHERE ` + where
	u, err := scanUser(r.pool.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (r *userRepo) CreateUser(ctx context.Context, u *model.User) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting transaction for user creation: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	billing, err := json.Marshal(u.Billing)
	if err != nil {
		return fmt.Errorf("marshal billing: %w", err)
	}
	if u.Quota == (model.QuotaState{}) {
		u.Quota = model.FreeQuota()
	}

	const insertUser = `
		INSERT INTO users (email, full_name, username, language, storage_quota_bytes, max_workspaces, billing)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id::text, created_at, updated_at`
	if err := tx.QueryRow(ctx, insertUser,
		u.Identity.Email, u.Identity.FullName, u.Identity.Username, u.Identity.Language,
		u.Quota.StorageQuotaBytes, u.Quota.MaxWorkspaces, billing,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return fmt.Errorf("inserting user %s: %w", u.Identity.Email, err)
	}

	const insertWorkspace = `
		INSERT INTO workspaces (user_id, name, is_default)
		VALUES ($1, 'Default', TRUE)
		RETURNING id::text`
	if err := tx.QueryRow(ctx, insertWorkspace, u.ID).Scan(&u.DefaultWorkspaceID); err != nil {
		return fmt.Errorf("inserting default workspace for user %s: %w", u.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing user %s: %w", u.ID, err)
	}
	return nil
}

func (r *userRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := r.getOne(ctx, `u.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return u, nil
}

func (r *userRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := r.getOne(ctx, `lower(u.email) = lower($1)`, email)
	if err != nil {
		return nil, fmt.Errorf("fetch user by email: %w", err)
	}
	return u, nil
}

func (r *userRepo) GetUserByCustomerID(ctx context.Context, provider model.Provider, customerID string) (*model.User, error) {
	u, err := r.getOne(ctx, `u.pm_provider = $1 AND u.pm_customer_id = $2`, provider, customerID)
	if err != nil {
		return nil, fmt.Errorf("fetch user by %s customer %s: %w", provider, customerID, err)
	}
	return u, nil
}

func (r *userRepo) GetUserBySubscriptionID(ctx context.Context, provider model.Provider, subscriptionID string) (*model.User, error) {
	u, err := r.getOne(ctx, `u.sub_provider = $1 AND u.sub_id = $2`, provider, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("fetch user by %s subscription %s: %w", provider, subscriptionID, err)
	}
	return u, nil
}

func (r *userRepo) SetCustomerID(ctx context.Context, userID string, provider model.Provider, customerID string) error {
	const q = `
		UPDATE users
		SET pm_provider = $2, pm_customer_id = $3, updated_at = NOW()
		WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, userID, provider, customerID); err != nil {
		return fmt.Errorf("store %s customer id for user %s: %w", provider, userID, err)
	}
	return nil
}

func (r *userRepo) UpdatePaymentMethod(ctx context.Context, userID string, pm model.PaymentMethod, eventKey string) (bool, error) {
	const q = `
		UPDATE users
		SET pm_provider = $2,
		    pm_customer_id = CASE WHEN $3 = '' THEN pm_customer_id ELSE $3 END,
		    pm_payment_id = $4,
		    pm_status = $5,
		    pm_verification_link = $6,
		    pm_card_last4 = $7,
		    pm_card_brand = $8,
		    pm_event_key = CASE WHEN $9 = '' THEN pm_event_key ELSE $9 END,
		    updated_at = NOW()
		WHERE id = $1
		  AND ($9 = '' OR pm_event_key <> $9)`
	tag, err := r.pool.Exec(ctx, q, userID, pm.Provider, pm.CustomerID, pm.PaymentID, pm.Status,
		pm.VerificationLink, pm.CardLast4, pm.CardBrand, eventKey)
	if err != nil {
		return false, fmt.Errorf("update payment method for user %s: %w", userID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *userRepo) UpdateBilling(ctx context.Context, userID string, b model.BillingDetails) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal billing: %w", err)
	}
	const q = `UPDATE users SET billing = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, userID, raw); err != nil {
		return fmt.Errorf("update billing for user %s: %w", userID, err)
	}
	return nil
}
