package service

import (
	"context"
	"strings"

	"fileshare/internal/apperr"
	"fileshare/internal/model"
	"fileshare/internal/quota"
	"fileshare/internal/repository"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Usage is the storage and workspace picture shown on the dashboard.
type Usage struct {
	Tier           model.Tier `json:"type"`
	ConsumedBytes  int64      `json:"consumedBytes"`
	LimitBytes     int64      `json:"limitBytes"`
	AvailableBytes int64      `json:"availableBytes"`
	Consumed       string     `json:"consumed"`
	Limit          string     `json:"limit"`
	StorageFull    bool       `json:"storageFull"`
	Workspaces     int        `json:"workspaces"`
	MaxWorkspaces  int        `json:"maxWorkspaces"`
}

type UserService interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	Usage(ctx context.Context, id string) (*Usage, error)
	UpdateBilling(ctx context.Context, id string, b model.BillingDetails) (*model.User, error)
}

type userService struct {
	userRepo  repository.UserRepository
	usageRepo repository.UsageRepository
	spaceRepo repository.WorkspaceRepository
	logger    zerolog.Logger
}

func NewUserService(
	userRepo repository.UserRepository,
	usageRepo repository.UsageRepository,
	spaceRepo repository.WorkspaceRepository,
	logger zerolog.Logger,
) UserService {
	return &userService{
		userRepo:  userRepo,
		usageRepo: usageRepo,
		spaceRepo: spaceRepo,
		logger:    logger.With().Str("service", "UserService").Logger(),
	}
}

// Create registers a free account together with its default workspace.
func (s *userService) Create(ctx context.Context, u *model.User) (*model.User, error) {
	u.Identity.Email = strings.ToLower(strings.TrimSpace(u.Identity.Email))
	if u.Identity.Email == "" {
		return nil, apperr.Validation("email is required")
	}
	existing, err := s.userRepo.GetUserByEmail(ctx, u.Identity.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("email already registered")
	}
	u.Quota = model.FreeQuota()
	u.Subscription = model.SubscriptionState{}
	if err := s.userRepo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID).Msg("User created")
	return u, nil
}

func (s *userService) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.userRepo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("user %s not found", id)
	}
	return u, nil
}

func (s *userService) Usage(ctx context.Context, id string) (*Usage, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sizes, err := s.usageRepo.ListUploadSizes(ctx, id)
	if err != nil {
		return nil, err
	}
	workspaces, err := s.spaceRepo.ListWorkspacesByUser(ctx, id)
	if err != nil {
		return nil, err
	}

	d := quota.CanAdmit(quota.Snapshot{Owner: quota.OwnerOf(u), Uploads: sizes}, 0)
	return &Usage{
		Tier:           u.Subscription.Tier,
		ConsumedBytes:  d.Consumed,
		LimitBytes:     d.Limit,
		AvailableBytes: d.Available,
		Consumed:       humanize.Bytes(uint64(d.Consumed)),
		Limit:          humanize.Bytes(uint64(d.Limit)),
		StorageFull:    !d.Admitted,
		Workspaces:     len(workspaces),
		MaxWorkspaces:  u.Quota.MaxWorkspaces,
	}, nil
}

func (s *userService) UpdateBilling(ctx context.Context, id string, b model.BillingDetails) (*model.User, error) {
	if err := s.userRepo.UpdateBilling(ctx, id, b); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
