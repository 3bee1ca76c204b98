package service

import (
	"context"
	"errors"
	"strings"

	"fileshare/internal/apperr"
	"fileshare/internal/model"
	"fileshare/internal/quota"
	"fileshare/internal/repository"

	"github.com/rs/zerolog"
)

const minWorkspaceNameLength = 3

type WorkspaceService interface {
	Create(ctx context.Context, userID, name, color string) (*model.Workspace, error)
	List(ctx context.Context, userID string) ([]model.Workspace, error)
	Get(ctx context.Context, userID, id string) (*model.Workspace, error)
	Rename(ctx context.Context, userID, id, name string) (*model.Workspace, error)
	// Delete removes a workspace other than the default one. With
	// deleteUploads its confirmed uploads are deleted first; whatever is
	// left stays with its owner and no workspace.
	Delete(ctx context.Context, userID, id string, deleteUploads bool) error
	ListUploads(ctx context.Context, userID, id string, limit, offset int) ([]model.Upload, error)
}

type workspaceService struct {
	spaces  repository.WorkspaceRepository
	users   repository.UserRepository
	usage   repository.UsageRepository
	uploads repository.UploadRepository
	upSvc   UploadService
	logger  zerolog.Logger
}

func NewWorkspaceService(
	spaces repository.WorkspaceRepository,
	users repository.UserRepository,
	usage repository.UsageRepository,
	uploads repository.UploadRepository,
	upSvc UploadService,
	logger zerolog.Logger,
) WorkspaceService {
	return &workspaceService{
		spaces:  spaces,
		users:   users,
		usage:   usage,
		uploads: uploads,
		upSvc:   upSvc,
		logger:  logger.With().Str("service", "WorkspaceService").Logger(),
	}
}

func validateWorkspaceName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if len(name) < minWorkspaceNameLength {
		return "", apperr.Validation("workspace name should have at least %d characters", minWorkspaceNameLength)
	}
	return name, nil
}

func normalizeColor(color string) string {
	if color == "" || strings.HasPrefix(color, "#") {
		return color
	}
	return "#" + color
}

// Create adds a workspace while the account is under both its workspace
// limit and its storage quota.
func (s *workspaceService) Create(ctx context.Context, userID, name, color string) (*model.Workspace, error) {
	name, err := validateWorkspaceName(name)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user %s not found", userID)
	}

	sizes, err := s.usage.ListUploadSizes(ctx, userID)
	if err != nil {
		return nil, err
	}
	if d := quota.CanAdmit(quota.Snapshot{Owner: quota.OwnerOf(user), Uploads: sizes}, 0); !d.Admitted {
		return nil, apperr.QuotaExceeded("%s", quota.ReasonStorageFull)
	}

	w := &model.Workspace{UserID: userID, Name: name, Color: normalizeColor(color)}
	if err := s.spaces.CreateWorkspace(ctx, w, user.Quota.MaxWorkspaces); err != nil {
		if errors.Is(err, repository.ErrWorkspaceLimitReached) {
			return nil, apperr.QuotaExceeded("%s", repository.ErrWorkspaceLimitReached.Error())
		}
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Str("workspace_id", w.ID).Msg("Workspace created")
	return w, nil
}

func (s *workspaceService) List(ctx context.Context, userID string) ([]model.Workspace, error) {
	return s.spaces.ListWorkspacesByUser(ctx, userID)
}

// Get returns the workspace only to its owner.
func (s *workspaceService) Get(ctx context.Context, userID, id string) (*model.Workspace, error) {
	w, err := s.spaces.GetWorkspaceByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w == nil || w.UserID != userID {
		return nil, apperr.NotFound("workspace %s not found", id)
	}
	return w, nil
}

func (s *workspaceService) Rename(ctx context.Context, userID, id, name string) (*model.Workspace, error) {
	name, err := validateWorkspaceName(name)
	if err != nil {
		return nil, err
	}
	ok, err := s.spaces.RenameWorkspace(ctx, id, userID, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("workspace %s not found", id)
	}
	return s.Get(ctx, userID, id)
}

func (s *workspaceService) Delete(ctx context.Context, userID, id string, deleteUploads bool) error {
	w, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if w.IsDefault {
		return apperr.Conflict("the default workspace cannot be deleted")
	}

	if deleteUploads {
		for {
			batch, err := s.uploads.ListUploadsByWorkspace(ctx, id, 100, 0)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				break
			}
			for _, u := range batch {
				if err := s.upSvc.DeleteUpload(ctx, u.ID, TriggerWorkspaceClose); err != nil {
					return err
				}
			}
		}
	}

	ok, err := s.spaces.DeleteWorkspace(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("workspace %s not found", id)
	}
	s.logger.Info().Str("user_id", userID).Str("workspace_id", id).Bool("uploads_deleted", deleteUploads).Msg("Workspace deleted")
	return nil
}

// ListUploads returns the workspace's confirmed uploads.
func (s *workspaceService) ListUploads(ctx context.Context, userID, id string, limit, offset int) ([]model.Upload, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.uploads.ListUploadsByWorkspace(ctx, id, limit, offset)
}
