package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fileshare/internal/apperr"
	"fileshare/internal/metrics"
	"fileshare/internal/model"
	"fileshare/internal/quota"
	"fileshare/internal/repository"
	"fileshare/internal/storage"
	"fileshare/internal/util"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// AnonymousPendingTTL is how long an anonymous upload may stay
	// unconfirmed.
	AnonymousPendingTTL = 2 * time.Hour
	// AnonymousConfirmedTTL is how long a confirmed anonymous upload lives.
	AnonymousConfirmedTTL = 24 * time.Hour

	// archiveRetryAfter is how long a submitted archive job blocks another
	// submission for the same upload.
	archiveRetryAfter = 15 * time.Minute

	minFilenameLength = 3
	objectOpLimit     = 8
)

// DeletionTrigger labels what caused an upload to be deleted.
type DeletionTrigger string

const (
	TriggerUser           DeletionTrigger = "user"
	TriggerPendingTimer   DeletionTrigger = "pending_timer"
	TriggerExpiryTimer    DeletionTrigger = "expiry_timer"
	TriggerSweepPending   DeletionTrigger = "sweep_pending"
	TriggerSweepExpired   DeletionTrigger = "sweep_expired"
	TriggerLapsedAccount  DeletionTrigger = "lapsed_subscription"
	TriggerWorkspaceClose DeletionTrigger = "workspace_deleted"
)

type FileRequest struct {
	Name string
	Size int64
}

// UploadTicket is what a client needs to start writing files.
type UploadTicket struct {
	Upload     *model.Upload
	UploadURLs []string
	EmailToken string
}

// EmailShare asks for the public share mail once the upload is confirmed.
type EmailShare struct {
	Title      string
	Email      string
	EmailToken string
}

type ConfirmRequest struct {
	// CallerID is empty for anonymous callers.
	CallerID string
	// Files appended during a resumable session. Only names are used;
	// sizes come from the object store.
	Files []model.FileDescriptor
	Email *EmailShare
}

type DownloadFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type DownloadLinks struct {
	UploadID    string         `json:"uploadId"`
	ZipLocation string         `json:"zipLocation,omitempty"`
	Files       []DownloadFile `json:"files"`
}

// UploadService owns the upload state machine. Every deletion, whatever
// triggers it, goes through DeleteUpload.
type UploadService interface {
	RequestUpload(ctx context.Context, ownerID string, files []FileRequest) (*UploadTicket, error)
	// RequestWorkspaceUpload is RequestUpload into one of the owner's
	// workspaces instead of the default one.
	RequestWorkspaceUpload(ctx context.Context, ownerID, workspaceID string, files []FileRequest) (*UploadTicket, error)
	ConfirmUpload(ctx context.Context, id string, req ConfirmRequest) (*model.Upload, error)
	DeleteUpload(ctx context.Context, id string, trigger DeletionTrigger) error
	DeleteOwnedUpload(ctx context.Context, userID, id string) error
	RecordDownload(ctx context.Context, id string) error
	GetUpload(ctx context.Context, id string) (*model.Upload, error)
	DownloadLinks(ctx context.Context, id string) (*DownloadLinks, error)
	CanAdmit(ctx context.Context, ownerID string, incoming int64) (quota.Decision, error)
	Close()
}

type UploadSettings struct {
	UploadsBucket     string
	PublicBucket      string
	TokenSecret       string
	FrontendURL       string
	DownloadURLTTL    time.Duration
	SideEffectTimeout time.Duration
}

type uploadService struct {
	uploads  repository.UploadRepository
	users    repository.UserRepository
	usage    repository.UsageRepository
	spaces   repository.WorkspaceRepository
	store    storage.ObjectStore
	archive  ArchiveService
	notifier Notifier
	queue    TaskQueue
	timers   *TimerRegistry
	metrics  *metrics.Metrics
	settings UploadSettings
	now      func() time.Time
	logger   zerolog.Logger

	pendingTTL   time.Duration
	confirmedTTL time.Duration

	archiveMu     sync.Mutex
	archiveClaims map[string]time.Time
}

func NewUploadService(
	uploads repository.UploadRepository,
	users repository.UserRepository,
	usage repository.UsageRepository,
	spaces repository.WorkspaceRepository,
	store storage.ObjectStore,
	archive ArchiveService,
	notifier Notifier,
	queue TaskQueue,
	timers *TimerRegistry,
	m *metrics.Metrics,
	settings UploadSettings,
	logger zerolog.Logger,
) UploadService {
	if settings.SideEffectTimeout <= 0 {
		settings.SideEffectTimeout = 30 * time.Second
	}
	if settings.DownloadURLTTL <= 0 {
		settings.DownloadURLTTL = time.Hour
	}
	return &uploadService{
		uploads:  uploads,
		users:    users,
		usage:    usage,
		spaces:   spaces,
		store:    store,
		archive:  archive,
		notifier: notifier,
		queue:    queue,
		timers:   timers,
		metrics:  m,
		settings: settings,
		now:      time.Now,
		logger:   logger.With().Str("service", "UploadService").Logger(),

		pendingTTL:   AnonymousPendingTTL,
		confirmedTTL: AnonymousConfirmedTTL,

		archiveClaims: make(map[string]time.Time),
	}
}

func validateFiles(files []FileRequest) error {
	if len(files) == 0 {
		return apperr.Validation("at least one file is required")
	}
	for i, f := range files {
		if len(strings.TrimSpace(f.Name)) < minFilenameLength {
			return apperr.Validation("file %d: filename should have at least %d characters", i, minFilenameLength)
		}
		if f.Size < 1 {
			return apperr.Validation("file %d: size must be at least 1 byte", i)
		}
	}
	return nil
}

// snapshot reads the caller's quota view. A nil user means anonymous.
func (s *uploadService) snapshot(ctx context.Context, ownerID string) (*model.User, quota.Snapshot, error) {
	if ownerID == "" {
		return nil, quota.Snapshot{}, nil
	}
	user, err := s.users.GetUserByID(ctx, ownerID)
	if err != nil {
		return nil, quota.Snapshot{}, err
	}
	if user == nil {
		return nil, quota.Snapshot{}, apperr.NotFound("user %s not found", ownerID)
	}
	sizes, err := s.usage.ListUploadSizes(ctx, ownerID)
	if err != nil {
		return nil, quota.Snapshot{}, err
	}
	return user, quota.Snapshot{Owner: quota.OwnerOf(user), Uploads: sizes}, nil
}

func (s *uploadService) CanAdmit(ctx context.Context, ownerID string, incoming int64) (quota.Decision, error) {
	_, snap, err := s.snapshot(ctx, ownerID)
	if err != nil {
		return quota.Decision{}, err
	}
	return quota.CanAdmit(snap, incoming), nil
}

// RequestUpload admits the upload against a fresh quota snapshot, issues
// one write target per file and persists the upload as pending.
func (s *uploadService) RequestUpload(ctx context.Context, ownerID string, files []FileRequest) (*UploadTicket, error) {
	return s.requestUpload(ctx, ownerID, "", files)
}

func (s *uploadService) RequestWorkspaceUpload(ctx context.Context, ownerID, workspaceID string, files []FileRequest) (*UploadTicket, error) {
	if ownerID == "" {
		return nil, apperr.Validation("workspace uploads need an account")
	}
	ws, err := s.spaces.GetWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil || ws.UserID != ownerID {
		return nil, apperr.NotFound("workspace %s not found", workspaceID)
	}
	return s.requestUpload(ctx, ownerID, ws.ID, files)
}

func (s *uploadService) requestUpload(ctx context.Context, ownerID, workspaceID string, files []FileRequest) (*UploadTicket, error) {
	if err := validateFiles(files); err != nil {
		return nil, err
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}

	user, snap, err := s.snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	decision := quota.CanAdmit(snap, total)
	if !decision.Admitted {
		s.countAdmission(string(decision.Reason))
		s.logger.Info().Str("user_id", ownerID).Str("decision", decision.String()).Msg("Upload rejected")
		return nil, apperr.QuotaExceeded("%s", decision.Reason)
	}

	id := uuid.NewString()
	u := &model.Upload{
		ID:          id,
		Name:        strings.ReplaceAll(uuid.NewString(), "-", "")[:18],
		SizeInBytes: total,
		Bucket:      s.settings.PublicBucket,
	}
	if user != nil {
		if workspaceID == "" {
			workspaceID = user.DefaultWorkspaceID
		}
		if workspaceID == "" {
			return nil, apperr.Invariant("user %s has no default workspace", user.ID)
		}
		u.UserID = user.ID
		u.WorkspaceID = workspaceID
		u.Bucket = s.settings.UploadsBucket
	}
	prefix := uploadPrefix(u)

	targets := make([]storage.UploadTarget, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			t, err := s.store.IssueUploadTarget(gctx, f.Name, f.Size, u.Bucket, prefix)
			if err != nil {
				return err
			}
			targets[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error().Err(err).Str("upload_id", id).Msg("Failed to issue upload targets")
		return nil, apperr.External(err, "issue upload targets")
	}

	urls := make([]string, len(targets))
	u.Files = make([]model.FileDescriptor, len(targets))
	for i, t := range targets {
		urls[i] = t.URL
		u.Files[i] = model.FileDescriptor{Filename: t.ObjectName, SizeBytes: files[i].Size}
	}

	if err := s.uploads.CreateUpload(ctx, u); err != nil {
		s.logger.Error().Err(err).Str("upload_id", id).Msg("Failed to create upload record")
		return nil, fmt.Errorf("create upload: %w", err)
	}

	token, err := util.SignUploadToken(id, s.settings.TokenSecret, s.now())
	if err != nil {
		return nil, err
	}

	if u.IsAnonymous() {
		s.scheduleDeletion(id, s.pendingTTL, TriggerPendingTimer)
	}
	s.countAdmission("admitted")
	s.logger.Info().Str("upload_id", id).Str("user_id", ownerID).Str("decision", decision.String()).Msg("Upload admitted")

	return &UploadTicket{Upload: u, UploadURLs: urls, EmailToken: token}, nil
}

// uploadPrefix is the object prefix every file of u lives under. Owned
// uploads without a workspace have none.
func uploadPrefix(u *model.Upload) string {
	if u.IsAnonymous() {
		return "uploads/" + u.ID + "/"
	}
	if u.WorkspaceID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s/", u.UserID, u.WorkspaceID, u.ID)
}

// observeFiles merges the names reported by the client into the stored
// list and takes every size from the object store. New names must live
// under the upload's prefix and must exist. A stored file that was never
// written keeps its admitted size.
func (s *uploadService) observeFiles(ctx context.Context, u *model.Upload, observed []model.FileDescriptor) ([]model.FileDescriptor, error) {
	files := make([]model.FileDescriptor, len(u.Files), len(u.Files)+len(observed))
	copy(files, u.Files)
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f.Filename] = true
	}
	stored := len(files)
	prefix := uploadPrefix(u)
	for _, f := range observed {
		if f.Filename == "" || known[f.Filename] {
			continue
		}
		if prefix == "" || !strings.HasPrefix(f.Filename, prefix) || len(f.Filename) == len(prefix) {
			return nil, apperr.Validation("file %s does not belong to upload %s", f.Filename, u.ID)
		}
		known[f.Filename] = true
		files = append(files, model.FileDescriptor{Filename: f.Filename})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(objectOpLimit)
	for i := range files {
		if files[i].Filename == "" {
			continue
		}
		g.Go(func() error {
			size, err := s.store.ObjectSize(gctx, u.Bucket, files[i].Filename)
			switch {
			case err == nil:
				files[i].SizeBytes = size
			case errors.Is(err, storage.ErrObjectNotFound) && i < stored:
				s.logger.Warn().Str("upload_id", u.ID).Str("object", files[i].Filename).Msg("Confirmed file was never written")
			case errors.Is(err, storage.ErrObjectNotFound):
				return apperr.Validation("file %s was not uploaded", files[i].Filename)
			default:
				return apperr.External(err, "stat %s", files[i].Filename)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// readmit checks an upload that grew past its admitted size against the
// current ledger, with the upload's own stored size taken out.
func (s *uploadService) readmit(ctx context.Context, u *model.Upload, size int64) error {
	_, snap, err := s.snapshot(ctx, u.UserID)
	if err != nil {
		return err
	}
	if u.IsValid {
		snap.Uploads = withoutUpload(snap.Uploads, u.SizeInBytes)
	}
	decision := quota.CanAdmit(snap, size)
	if decision.Admitted {
		return nil
	}
	s.countAdmission(string(decision.Reason))
	s.logger.Info().Str("upload_id", u.ID).Str("user_id", u.UserID).Str("decision", decision.String()).Msg("Confirmation rejected")
	return apperr.QuotaExceeded("%s", decision.Reason)
}

func withoutUpload(sizes []quota.UploadSize, size int64) []quota.UploadSize {
	for i, us := range sizes {
		if us.IsValid && us.SizeInBytes == size {
			out := make([]quota.UploadSize, 0, len(sizes)-1)
			out = append(out, sizes[:i]...)
			return append(out, sizes[i+1:]...)
		}
	}
	return sizes
}

func (s *uploadService) ConfirmUpload(ctx context.Context, id string, req ConfirmRequest) (*model.Upload, error) {
	u, err := s.uploads.GetUploadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil || (!u.IsAnonymous() && u.UserID != req.CallerID) {
		return nil, apperr.NotFound("upload %s not found", id)
	}
	if req.Email != nil {
		if req.Email.Email == "" {
			return nil, apperr.Validation("email is required")
		}
		tokenUploadID, err := util.ParseUploadToken(req.Email.EmailToken, s.settings.TokenSecret)
		if err != nil || tokenUploadID != id {
			return nil, apperr.Validation("invalid email token")
		}
	}

	files, err := s.observeFiles(ctx, u, req.Files)
	if err != nil {
		return nil, err
	}
	size := model.TotalFileSize(files)
	if size < 0 {
		s.logger.Error().
			Err(apperr.Invariant("negative size %d", size)).
			Str("upload_id", id).
			Msg("Upload size recomputed below zero; clamping")
		size = 0
	}
	if size > u.SizeInBytes {
		if err := s.readmit(ctx, u, size); err != nil {
			return nil, err
		}
	}

	wasPending := !u.IsValid
	updated, err := s.uploads.ConfirmUpload(ctx, id, files, size, s.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperr.NotFound("upload %s not found", id)
	}

	if updated.IsAnonymous() && wasPending {
		s.scheduleDeletion(id, s.confirmedTTL, TriggerExpiryTimer)
	}
	s.logger.Info().Str("upload_id", id).Int("files", len(files)).Int64("size_in_bytes", size).Bool("first", wasPending).Msg("Upload confirmed")

	s.afterConfirm(updated, req.Email, wasPending)
	return updated, nil
}

// claimArchive reports whether an archive job may be submitted for id now.
// A job stays claimed for archiveRetryAfter so repeated confirmations do
// not pile up jobs while the worker is busy.
func (s *uploadService) claimArchive(id string) bool {
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()
	now := s.now()
	for other, at := range s.archiveClaims {
		if now.Sub(at) >= archiveRetryAfter {
			delete(s.archiveClaims, other)
		}
	}
	if _, busy := s.archiveClaims[id]; busy {
		return false
	}
	s.archiveClaims[id] = now
	return true
}

// afterConfirm queues the archive request and, on the first confirmation
// only, the mails. None of them affects the confirmation.
func (s *uploadService) afterConfirm(u *model.Upload, share *EmailShare, first bool) {
	snapshot := *u
	if snapshot.ZipLocation == "" && s.claimArchive(u.ID) {
		s.queue.Enqueue("archive_request", func(ctx context.Context) error {
			return s.archive.RequestArchive(ctx, &snapshot)
		})
	}
	if !first {
		return
	}

	downloadLink := fmt.Sprintf("%s/download?uploadId=%s", s.settings.FrontendURL, u.ID)
	if !u.IsAnonymous() {
		s.queue.Enqueue("new_upload_mail", func(ctx context.Context) error {
			owner, err := s.users.GetUserByID(ctx, snapshot.UserID)
			if err != nil {
				return fmt.Errorf("load owner of upload %s: %w", snapshot.ID, err)
			}
			if owner == nil {
				return fmt.Errorf("owner %s of upload %s not found", snapshot.UserID, snapshot.ID)
			}
			return s.notifier.Send(ctx, TemplateNewUpload, owner.Identity.Email, map[string]any{
				"downloadLink": downloadLink,
				"fullName":     owner.Identity.FullName,
				"fileName":     snapshot.Name,
				"language":     owner.Identity.Language,
			})
		})
	}
	if share != nil {
		to, title := share.Email, share.Title
		s.queue.Enqueue("public_upload_mail", func(ctx context.Context) error {
			return s.notifier.Send(ctx, TemplatePublicUpload, to, map[string]any{
				"downloadLink": downloadLink,
				"title":        title,
				"size":         snapshot.SizeInBytes,
			})
		})
	}
}

func (s *uploadService) scheduleDeletion(id string, after time.Duration, trigger DeletionTrigger) {
	s.timers.Schedule(id, after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.settings.SideEffectTimeout)
		defer cancel()
		if err := s.DeleteUpload(ctx, id, trigger); err != nil {
			s.logger.Error().Err(err).Str("upload_id", id).Str("trigger", string(trigger)).Msg("Timed deletion failed")
		}
	})
}

// DeleteUpload removes the files, the archive and the record. A missing
// upload is a successful no-op. Object store failures are logged and do
// not stop the record from being removed.
func (s *uploadService) DeleteUpload(ctx context.Context, id string, trigger DeletionTrigger) error {
	u, err := s.uploads.GetUploadByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil {
		s.timers.Cancel(id)
		return nil
	}

	g := &errgroup.Group{}
	g.SetLimit(objectOpLimit)
	for _, f := range u.Files {
		if f.Filename == "" {
			continue
		}
		g.Go(func() error {
			s.deleteObject(ctx, u, f.Filename)
			return nil
		})
	}
	_ = g.Wait()

	if u.ZipLocation != "" {
		name, ok := storage.ObjectNameFromPublicURL(u.Bucket, u.ZipLocation)
		if !ok {
			name = ArchiveObjectName(u)
		}
		s.deleteObject(ctx, u, name)
	}

	deleted, err := s.uploads.DeleteUpload(ctx, id)
	if err != nil {
		return err
	}
	s.timers.Cancel(id)
	if deleted {
		if s.metrics != nil {
			s.metrics.UploadDeletions.WithLabelValues(string(trigger)).Inc()
		}
		s.logger.Info().Str("upload_id", id).Str("trigger", string(trigger)).Msg("Upload deleted")
	}
	return nil
}

func (s *uploadService) deleteObject(ctx context.Context, u *model.Upload, name string) {
	err := s.store.DeleteObject(ctx, u.Bucket, name)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrObjectNotFound):
		s.logger.Debug().Str("upload_id", u.ID).Str("object", name).Msg("Object already gone")
	default:
		if s.metrics != nil {
			s.metrics.ObjectDeleteFailures.Inc()
		}
		s.logger.Warn().Err(err).Str("upload_id", u.ID).Str("object", name).Msg("Failed to delete object")
	}
}

func (s *uploadService) DeleteOwnedUpload(ctx context.Context, userID, id string) error {
	u, err := s.uploads.GetUploadByID(ctx, id)
	if err != nil {
		return err
	}
	if u == nil || u.UserID != userID {
		return apperr.NotFound("upload %s not found", id)
	}
	return s.DeleteUpload(ctx, id, TriggerUser)
}

func (s *uploadService) RecordDownload(ctx context.Context, id string) error {
	ok, err := s.uploads.IncrementDownloads(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("upload %s not found", id)
	}
	return nil
}

// GetUpload returns a confirmed upload. Pending uploads are not visible.
func (s *uploadService) GetUpload(ctx context.Context, id string) (*model.Upload, error) {
	u, err := s.uploads.GetUploadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsValid {
		return nil, apperr.NotFound("upload %s not found", id)
	}
	return u, nil
}

// DownloadLinks counts a download and returns the archive location when
// there is one plus a signed URL per file.
func (s *uploadService) DownloadLinks(ctx context.Context, id string) (*DownloadLinks, error) {
	u, err := s.GetUpload(ctx, id)
	if err != nil {
		return nil, err
	}

	links := &DownloadLinks{UploadID: u.ID, ZipLocation: u.ZipLocation, Files: make([]DownloadFile, 0, len(u.Files))}
	for _, f := range u.Files {
		url, err := s.store.IssueDownloadURL(ctx, u.Bucket, f.Filename, s.settings.DownloadURLTTL)
		if err != nil {
			return nil, apperr.External(err, "sign download of %s", f.Filename)
		}
		links.Files = append(links.Files, DownloadFile{Name: storage.DisplayName(f.Filename), Size: f.SizeBytes, URL: url})
	}

	if err := s.RecordDownload(ctx, id); err != nil {
		return nil, err
	}
	return links, nil
}

func (s *uploadService) countAdmission(outcome string) {
	if s.metrics != nil {
		s.metrics.UploadAdmissions.WithLabelValues(outcome).Inc()
	}
}

// Close drops every pending deletion timer.
func (s *uploadService) Close() {
	s.timers.Stop()
}
