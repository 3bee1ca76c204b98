package repository

import (
	"context"
	"fmt"
	"time"

	"fileshare/internal/quota"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository reads the storage consumption the quota ledger works on.
type UsageRepository interface {
	// ListUploadSizes returns every upload in the user's workspaces,
	// pending ones included; the ledger filters them.
	ListUploadSizes(ctx context.Context, userID string) ([]quota.UploadSize, error)
	// ListLapsedOverLimit returns users canceled before canceledBefore whose
	// valid uploads exceed limitBytes.
	ListLapsedOverLimit(ctx context.Context, canceledBefore time.Time, limitBytes int64, max int) ([]string, error)
}

type usageRepo struct {
	pool *pgxpool.Pool
}

func NewUsageRepo(pool *pgxpool.Pool) UsageRepository {
	return &usageRepo{pool: pool}
}

func (r *usageRepo) ListUploadSizes(ctx context.Context, userID string) ([]quota.UploadSize, error) {
	const q = `
		SELECT up.size_in_bytes, up.is_valid
		FROM uploads up
		JOIN workspaces w ON w.id = up.workspace_id
		WHERE w.user_id = $1`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query upload sizes for user %s: %w", userID, err)
	}
	defer rows.Close()

	var sizes []quota.UploadSize
	for rows.Next() {
		var s quota.UploadSize
		if err := rows.Scan(&s.SizeInBytes, &s.IsValid); err != nil {
			return nil, fmt.Errorf("scan upload size: %w", err)
		}
		sizes = append(sizes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sizes, nil
}

func (r *usageRepo) ListLapsedOverLimit(ctx context.Context, canceledBefore time.Time, limitBytes int64, max int) ([]string, error) {
	const q = `
		SELECT u.id::text
		FROM users u
		JOIN workspaces w ON w.user_id = u.id
		JOIN uploads up ON up.workspace_id = w.id AND up.is_valid
		WHERE u.sub_status = 'canceled'
		  AND u.sub_tier = ''
		  AND u.sub_canceled_at < $1
		GROUP BY u.id
		HAVING SUM(up.size_in_bytes) > $2
		LIMIT $3`
	return queryIDs(ctx, r.pool, q, canceledBefore, limitBytes, max)
}
