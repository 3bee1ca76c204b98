package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fileshare/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UploadRepository persists uploads. Lookups return (nil, nil) when the
// upload does not exist.
type UploadRepository interface {
	CreateUpload(ctx context.Context, u *model.Upload) error
	GetUploadByID(ctx context.Context, id string) (*model.Upload, error)
	// ConfirmUpload marks the upload valid and stores the merged file list.
	ConfirmUpload(ctx context.Context, id string, files []model.FileDescriptor, sizeInBytes int64, at time.Time) (*model.Upload, error)
	// SetZipLocation sets zip_location only if it is still empty and
	// reports whether it did.
	SetZipLocation(ctx context.Context, id, location string) (bool, error)
	IncrementDownloads(ctx context.Context, id string) (bool, error)
	DeleteUpload(ctx context.Context, id string) (bool, error)
	ListUploadsByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]model.Upload, error)
	// ListValidUploadsByUser returns the valid uploads in the user's
	// workspaces, oldest first.
	ListValidUploadsByUser(ctx context.Context, userID string) ([]model.Upload, error)
	ListAnonymousPendingBefore(ctx context.Context, before time.Time, limit int) ([]string, error)
	ListAnonymousConfirmedBefore(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type uploadRepo struct {
	pool *pgxpool.Pool
}

func NewUploadRepo(pool *pgxpool.Pool) UploadRepository {
	return &uploadRepo{pool: pool}
}

const uploadColumns = `
	id::text, COALESCE(user_id::text, ''), COALESCE(workspace_id::text, ''), name, files, bucket,
	size_in_bytes, is_valid, zip_location, downloads, confirmed_at, created_at, updated_at`

func scanUpload(row pgx.Row) (*model.Upload, error) {
	var (
		u        model.Upload
		rawFiles []byte
	)
	if err := row.Scan(
		&u.ID, &u.UserID, &u.WorkspaceID, &u.Name, &rawFiles, &u.Bucket,
		&u.SizeInBytes, &u.IsValid, &u.ZipLocation, &u.Downloads, &u.ConfirmedAt, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rawFiles, &u.Files); err != nil {
		return nil, fmt.Errorf("unmarshal files for upload %s: %w", u.ID, err)
	}
	return &u, nil
}

func (r *uploadRepo) CreateUpload(ctx context.Context, u *model.Upload) error {
	files, err := json.Marshal(u.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	const q = `
		INSERT INTO uploads (id, user_id, workspace_id, name, files, bucket, size_in_bytes)
		VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, $4, $5, $6, $7)
		RETURNING created_at, updated_at`
	if err := r.pool.QueryRow(ctx, q, u.ID, u.UserID, u.WorkspaceID, u.Name, files, u.Bucket, u.SizeInBytes).
		Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return fmt.Errorf("insert upload %s: %w", u.ID, err)
	}
	return nil
}

func (r *uploadRepo) GetUploadByID(ctx context.Context, id string) (*model.Upload, error) {
	q := `SELECT ` + uploadColumns + ` FROM uploads WHERE id = $1`
	u, err := scanUpload(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch upload %s: %w", id, err)
	}
	return u, nil
}

func (r *uploadRepo) ConfirmUpload(ctx context.Context, id string, files []model.FileDescriptor, sizeInBytes int64, at time.Time) (*model.Upload, error) {
	raw, err := json.Marshal(files)
	if err != nil {
		return nil, fmt.Errorf("marshal files: %w", err)
	}
	q := `
		UPDATE uploads
		SET is_valid = TRUE,
		    files = $2,
		    size_in_bytes = $3,
		    confirmed_at = COALESCE(confirmed_at, $4),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + uploadColumns
	u, err := scanUpload(r.pool.QueryRow(ctx, q, id, raw, sizeInBytes, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("confirm upload %s: %w", id, err)
	}
	return u, nil
}

func (r *uploadRepo) SetZipLocation(ctx context.Context, id, location string) (bool, error) {
	const q = `
		UPDATE uploads
		SET zip_location = $2, updated_at = NOW()
		WHERE id = $1 AND zip_location = ''`
	tag, err := r.pool.Exec(ctx, q, id, location)
	if err != nil {
		return false, fmt.Errorf("set zip location for upload %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *uploadRepo) IncrementDownloads(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE uploads SET downloads = downloads + 1 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("increment downloads for upload %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *uploadRepo) DeleteUpload(ctx context.Context, id string) (bool, error) {
	const q = `DELETE FROM uploads WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("delete upload %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *uploadRepo) list(ctx context.Context, q string, args ...any) ([]model.Upload, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []model.Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload row: %w", err)
		}
		uploads = append(uploads, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return uploads, nil
}

func (r *uploadRepo) ListUploadsByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]model.Upload, error) {
	q := `SELECT ` + uploadColumns + `
		FROM uploads
		WHERE workspace_id = $1 AND is_valid
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	return r.list(ctx, q, workspaceID, limit, offset)
}

func (r *uploadRepo) ListValidUploadsByUser(ctx context.Context, userID string) ([]model.Upload, error) {
	q := `SELECT ` + uploadColumns + `
		FROM uploads
		WHERE is_valid
		  AND workspace_id IN (SELECT id FROM workspaces WHERE user_id = $1)
		ORDER BY created_at ASC`
	return r.list(ctx, q, userID)
}

func (r *uploadRepo) ListAnonymousPendingBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	const q = `
		SELECT id::text
		FROM uploads
		WHERE user_id IS NULL
		  AND NOT is_valid
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2`
	return queryIDs(ctx, r.pool, q, before, limit)
}

func (r *uploadRepo) ListAnonymousConfirmedBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	const q = `
		SELECT id::text
		FROM uploads
		WHERE user_id IS NULL
		  AND is_valid
		  AND COALESCE(confirmed_at, created_at) < $1
		ORDER BY created_at
		LIMIT $2`
	return queryIDs(ctx, r.pool, q, before, limit)
}
