package repository

import (
	"context"
	"errors"
	"fmt"

	"fileshare/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrWorkspaceLimitReached is returned when a user already owns
// maxWorkspaces workspaces.
var ErrWorkspaceLimitReached = errors.New("workspace_limit_reached")

type WorkspaceRepository interface {
	// CreateWorkspace atomically checks the user's workspace count against
	// maxWorkspaces and inserts w.
	CreateWorkspace(ctx context.Context, w *model.Workspace, maxWorkspaces int) error
	GetWorkspaceByID(ctx context.Context, id string) (*model.Workspace, error)
	ListWorkspacesByUser(ctx context.Context, userID string) ([]model.Workspace, error)
	RenameWorkspace(ctx context.Context, id, userID, name string) (bool, error)
	// DeleteWorkspace never deletes the default workspace. Its uploads keep
	// their owner and lose their workspace.
	DeleteWorkspace(ctx context.Context, id, userID string) (bool, error)
}

type workspaceRepo struct {
	pool *pgxpool.Pool
}

func NewWorkspaceRepo(pool *pgxpool.Pool) WorkspaceRepository {
	return &workspaceRepo{pool: pool}
}

const workspaceColumns = `id::text, user_id::text, name, color, is_default, created_at, updated_at`

func scanWorkspace(row pgx.Row) (*model.Workspace, error) {
	var w model.Workspace
	if err := row.Scan(&w.ID, &w.UserID, &w.Name, &w.Color, &w.IsDefault, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *workspaceRepo) CreateWorkspace(ctx context.Context, w *model.Workspace, maxWorkspaces int) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("starting transaction for workspace creation: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var count int
	const countQ = `SELECT COUNT(*) FROM workspaces WHERE user_id = $1`
	if err := tx.QueryRow(ctx, countQ, w.UserID).Scan(&count); err != nil {
		return fmt.Errorf("counting workspaces for user %s: %w", w.UserID, err)
	}
	if count >= maxWorkspaces {
		return ErrWorkspaceLimitReached
	}

	if w.Color == "" {
		w.Color = "#f21a5d"
	}
	const insertQ = `
		INSERT INTO workspaces (user_id, name, color)
		VALUES ($1, $2, $3)
		RETURNING id::text, created_at, updated_at`
	if err := tx.QueryRow(ctx, insertQ, w.UserID, w.Name, w.Color).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return fmt.Errorf("inserting workspace for user %s: %w", w.UserID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing workspace for user %s: %w", w.UserID, err)
	}
	return nil
}

func (r *workspaceRepo) GetWorkspaceByID(ctx context.Context, id string) (*model.Workspace, error) {
	q := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE id = $1`
	w, err := scanWorkspace(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch workspace %s: %w", id, err)
	}
	return w, nil
}

func (r *workspaceRepo) ListWorkspacesByUser(ctx context.Context, userID string) ([]model.Workspace, error) {
	q := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE user_id = $1 ORDER BY is_default DESC, created_at`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("query workspaces for user %s: %w", userID, err)
	}
	defer rows.Close()

	var workspaces []model.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace row: %w", err)
		}
		workspaces = append(workspaces, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return workspaces, nil
}

func (r *workspaceRepo) RenameWorkspace(ctx context.Context, id, userID, name string) (bool, error) {
	const q = `UPDATE workspaces SET name = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, q, id, userID, name)
	if err != nil {
		return false, fmt.Errorf("rename workspace %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *workspaceRepo) DeleteWorkspace(ctx context.Context, id, userID string) (bool, error) {
	const q = `DELETE FROM workspaces WHERE id = $1 AND user_id = $2 AND NOT is_default`
	tag, err := r.pool.Exec(ctx, q, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete workspace %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
