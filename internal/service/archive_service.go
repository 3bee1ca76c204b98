package service

import (
	"context"
	"fmt"

	"fileshare/internal/apperr"
	"fileshare/internal/metrics"
	"fileshare/internal/model"
	"fileshare/internal/pubsub"
	"fileshare/internal/repository"
	"fileshare/internal/storage"

	"github.com/rs/zerolog"
)

// ArchiveJob is the message the zip worker consumes. It writes Name into
// Bucket and POSTs {bucket, name} to NotifyURL when done.
type ArchiveJob struct {
	Bucket    string             `json:"bucket"`
	Files     []string           `json:"files"`
	Name      string             `json:"name"`
	NotifyURL string             `json:"notifyUrl"`
	Metadata  ArchiveJobMetadata `json:"metadata"`
}

type ArchiveJobMetadata struct {
	UploadID string `json:"uploadId"`
}

type ArchiveService interface {
	RequestArchive(ctx context.Context, u *model.Upload) error
	ApplyArchiveResult(ctx context.Context, uploadID, bucket, objectName string) (*model.Upload, error)
}

type archiveService struct {
	uploads    repository.UploadRepository
	store      storage.ObjectStore
	publisher  pubsub.Publisher
	topic      string
	backendURL string
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewArchiveService(
	uploads repository.UploadRepository,
	store storage.ObjectStore,
	publisher pubsub.Publisher,
	topic string,
	backendURL string,
	m *metrics.Metrics,
	logger zerolog.Logger,
) ArchiveService {
	return &archiveService{
		uploads:    uploads,
		store:      store,
		publisher:  publisher,
		topic:      topic,
		backendURL: backendURL,
		metrics:    m,
		logger:     logger.With().Str("service", "ArchiveService").Logger(),
	}
}

// ArchiveObjectName is where the worker writes the zip of u.
func ArchiveObjectName(u *model.Upload) string {
	if u.UserID != "" && u.WorkspaceID != "" {
		return fmt.Sprintf("%s/%s/%s.zip", u.UserID, u.WorkspaceID, u.ID)
	}
	return fmt.Sprintf("uploads/%s.zip", u.ID)
}

// RequestArchive submits a zip job. Submission is fire-and-forget: the
// caller does not wait for the worker.
func (s *archiveService) RequestArchive(ctx context.Context, u *model.Upload) error {
	files := make([]string, 0, len(u.Files))
	for _, f := range u.Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}
	if len(files) == 0 {
		s.logger.Warn().Str("upload_id", u.ID).Msg("Upload has no files; skipping archive")
		return nil
	}

	job := ArchiveJob{
		Bucket:    u.Bucket,
		Files:     files,
		Name:      ArchiveObjectName(u),
		NotifyURL: fmt.Sprintf("%s/v1/uploads/%s/zip", s.backendURL, u.ID),
		Metadata:  ArchiveJobMetadata{UploadID: u.ID},
	}
	id, err := pubsub.PublishJSON(ctx, s.publisher, s.topic, job)
	if err != nil {
		s.logger.Error().Err(err).Str("upload_id", u.ID).Msg("Failed to submit archive job")
		return apperr.External(err, "submit archive job for upload %s", u.ID)
	}
	s.logger.Info().Str("upload_id", u.ID).Str("message_id", id).Str("name", job.Name).Msg("Archive job submitted")
	return nil
}

// ApplyArchiveResult records the archive produced by the worker. A second
// callback for an archived upload returns the stored location unchanged.
func (s *archiveService) ApplyArchiveResult(ctx context.Context, uploadID, bucket, objectName string) (*model.Upload, error) {
	u, err := s.uploads.GetUploadByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		s.observe("unknown_upload")
		return nil, apperr.NotFound("upload %s not found", uploadID)
	}
	if u.ZipLocation != "" {
		s.observe("duplicate")
		return u, nil
	}
	if objectName == "" {
		return nil, apperr.Validation("archive name is required")
	}
	if bucket != u.Bucket {
		s.observe("bucket_mismatch")
		return nil, apperr.Validation("archive bucket %q does not match upload bucket", bucket)
	}

	exists, err := s.store.ObjectExists(ctx, bucket, objectName)
	if err != nil {
		return nil, apperr.External(err, "check archive %s", objectName)
	}
	if !exists {
		s.observe("missing_object")
		return nil, apperr.NotFound("archive %s not found in bucket %s", objectName, bucket)
	}

	if err := s.store.MakePublic(ctx, bucket, objectName); err != nil {
		s.logger.Warn().Err(err).Str("upload_id", uploadID).Msg("Failed to make archive public")
	}
	location := s.store.PublicURL(bucket, objectName)

	set, err := s.uploads.SetZipLocation(ctx, uploadID, location)
	if err != nil {
		return nil, err
	}
	if !set {
		// Lost to a concurrent callback or a deletion.
		current, err := s.uploads.GetUploadByID(ctx, uploadID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			s.observe("unknown_upload")
			return nil, apperr.NotFound("upload %s not found", uploadID)
		}
		s.observe("duplicate")
		return current, nil
	}

	u.ZipLocation = location
	s.observe("applied")
	s.logger.Info().Str("upload_id", uploadID).Str("zip_location", location).Msg("Archive applied")
	return u, nil
}

func (s *archiveService) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ArchiveCallbacks.WithLabelValues(outcome).Inc()
	}
}
