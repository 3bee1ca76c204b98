package handler

import (
	"net/http"

	"fileshare/internal/api/v1/dto"
	"fileshare/internal/middleware"
	"fileshare/internal/model"
	"fileshare/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type UploadHandler struct {
	uploadSvc  service.UploadService
	archiveSvc service.ArchiveService
	validate   *validator.Validate
	logger     zerolog.Logger
}

func NewUploadHandler(uploadSvc service.UploadService, archiveSvc service.ArchiveService, v *validator.Validate, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{uploadSvc: uploadSvc, archiveSvc: archiveSvc, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 upload routes. Requesting and confirming work
// for anonymous callers; the archive callback is only accepted from the
// zip worker.
func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux, optionalAuthMw, authMw, pushAuthMw func(http.Handler) http.Handler) {
	mux.Handle("POST /uploads", optionalAuthMw(http.HandlerFunc(h.requestUpload)))
	mux.Handle("POST /uploads/{id}/confirm", optionalAuthMw(http.HandlerFunc(h.confirmUpload)))
	mux.HandleFunc("GET /uploads/{id}", h.getUpload)
	mux.HandleFunc("GET /uploads/{id}/download-links", h.downloadLinks)
	mux.Handle("DELETE /uploads/{id}", authMw(http.HandlerFunc(h.deleteUpload)))
	mux.Handle("POST /uploads/{id}/zip", pushAuthMw(http.HandlerFunc(h.archiveCallback)))
}

func fileRequests(in []dto.FileRequestDTO) []service.FileRequest {
	files := make([]service.FileRequest, len(in))
	for i, f := range in {
		files[i] = service.FileRequest{Name: f.Name, Size: f.Size}
	}
	return files
}

func ticketResponse(t *service.UploadTicket) dto.UploadTicketDTO {
	return dto.UploadTicketDTO{
		Upload:     dto.NewUploadResponse(t.Upload),
		UploadURLs: t.UploadURLs,
		EmailToken: t.EmailToken,
	}
}

func (h *UploadHandler) requestUpload(w http.ResponseWriter, r *http.Request) {
	var req dto.UploadRequestDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	ticket, err := h.uploadSvc.RequestUpload(r.Context(), middleware.UserID(r.Context()), fileRequests(req.Files))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, ticketResponse(ticket), h.logger)
}

func (h *UploadHandler) confirmUpload(w http.ResponseWriter, r *http.Request) {
	var req dto.UploadConfirmDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	confirm := service.ConfirmRequest{CallerID: middleware.UserID(r.Context())}
	for _, f := range req.Files {
		confirm.Files = append(confirm.Files, model.FileDescriptor{Filename: f.Filename, SizeBytes: f.Size})
	}
	if req.EmailData != nil {
		confirm.Email = &service.EmailShare{
			Title:      req.EmailData.Title,
			Email:      req.EmailData.Email,
			EmailToken: req.EmailData.EmailToken,
		}
	}
	u, err := h.uploadSvc.ConfirmUpload(r.Context(), r.PathValue("id"), confirm)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewUploadResponse(u), h.logger)
}

func (h *UploadHandler) getUpload(w http.ResponseWriter, r *http.Request) {
	u, err := h.uploadSvc.GetUpload(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewUploadResponse(u), h.logger)
}

func (h *UploadHandler) downloadLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.uploadSvc.DownloadLinks(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, links, h.logger)
}

func (h *UploadHandler) deleteUpload(w http.ResponseWriter, r *http.Request) {
	if err := h.uploadSvc.DeleteOwnedUpload(r.Context(), middleware.UserID(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UploadHandler) archiveCallback(w http.ResponseWriter, r *http.Request) {
	var req dto.ArchiveCallbackDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	u, err := h.archiveSvc.ApplyArchiveResult(r.Context(), r.PathValue("id"), req.Bucket, req.Name)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewUploadResponse(u), h.logger)
}
