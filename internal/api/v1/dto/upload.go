package dto

import (
	"time"

	"fileshare/internal/model"
)

type FileRequestDTO struct {
	Name string `json:"name" validate:"required,min=3"`
	Size int64  `json:"size" validate:"gte=1"`
}

// UploadRequestDTO is used for incoming upload requests
type UploadRequestDTO struct {
	Files []FileRequestDTO `json:"files" validate:"required,min=1,dive"`
}

type UploadTicketDTO struct {
	Upload     UploadResponseDTO `json:"upload"`
	UploadURLs []string          `json:"uploadUrls"`
	EmailToken string            `json:"emailToken"`
}

type FileDescriptorDTO struct {
	Filename string `json:"filename" validate:"required"`
	Size     int64  `json:"size" validate:"gte=1"`
}

type EmailDataDTO struct {
	Title      string `json:"title" validate:"max=200"`
	Email      string `json:"email" validate:"required,email"`
	EmailToken string `json:"emailToken" validate:"required"`
}

// UploadConfirmDTO carries files appended by a resumable session and an
// optional share-by-mail request.
type UploadConfirmDTO struct {
	Files     []FileDescriptorDTO `json:"files" validate:"omitempty,dive"`
	EmailData *EmailDataDTO       `json:"emailData,omitempty" validate:"omitempty"`
}

// ArchiveCallbackDTO is what the zip worker posts when an archive is ready.
type ArchiveCallbackDTO struct {
	Bucket string `json:"bucket" validate:"required"`
	Name   string `json:"name" validate:"required"`
}

type UploadResponseDTO struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Workspace   string                 `json:"workspace,omitempty"`
	Files       []model.FileDescriptor `json:"files"`
	SizeInBytes int64                  `json:"sizeInBytes"`
	IsValid     bool                   `json:"isValid"`
	ZipLocation string                 `json:"zipLocation,omitempty"`
	Downloads   int64                  `json:"downloads"`
	ConfirmedAt *time.Time             `json:"confirmedAt,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

func NewUploadResponse(u *model.Upload) UploadResponseDTO {
	return UploadResponseDTO{
		ID:          u.ID,
		Name:        u.Name,
		Workspace:   u.WorkspaceID,
		Files:       u.Files,
		SizeInBytes: u.SizeInBytes,
		IsValid:     u.IsValid,
		ZipLocation: u.ZipLocation,
		Downloads:   u.Downloads,
		ConfirmedAt: u.ConfirmedAt,
		CreatedAt:   u.CreatedAt,
	}
}

func NewUploadResponses(uploads []model.Upload) []UploadResponseDTO {
	out := make([]UploadResponseDTO, 0, len(uploads))
	for i := range uploads {
		out = append(out, NewUploadResponse(&uploads[i]))
	}
	return out
}
