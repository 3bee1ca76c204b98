package model

import "time"

// UploadState is derived from the persisted fields of an Upload.
type UploadState string

const (
	UploadPending  UploadState = "pending"
	UploadValid    UploadState = "valid"
	UploadArchived UploadState = "archived"
)

type FileDescriptor struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size"`
}

// Upload is a named set of files. Anonymous uploads have neither UserID nor
// WorkspaceID. An owned upload whose workspace was removed keeps UserID with
// an empty WorkspaceID and is inert.
type Upload struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user,omitempty"`
	WorkspaceID string           `json:"workspace,omitempty"`
	Name        string           `json:"name"`
	Files       []FileDescriptor `json:"files"`
	Bucket      string           `json:"bucket"`
	SizeInBytes int64            `json:"sizeInBytes"`
	IsValid     bool             `json:"isValid"`
	ZipLocation string           `json:"zipLocation"`
	Downloads   int64            `json:"downloads"`
	ConfirmedAt *time.Time       `json:"confirmedAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func (u *Upload) IsAnonymous() bool {
	return u.UserID == ""
}

func (u *Upload) State() UploadState {
	switch {
	case !u.IsValid:
		return UploadPending
	case u.ZipLocation != "":
		return UploadArchived
	}
	return UploadValid
}

// TotalFileSize sums the file descriptor sizes. A negative result means the
// descriptors are corrupt; callers clamp it.
func TotalFileSize(files []FileDescriptor) int64 {
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}
	return total
}
