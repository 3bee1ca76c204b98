package handler

import (
	"net/http"
	"strconv"

	"fileshare/internal/api/v1/dto"
	"fileshare/internal/middleware"
	"fileshare/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type WorkspaceHandler struct {
	workspaceSvc service.WorkspaceService
	uploadSvc    service.UploadService
	validate     *validator.Validate
	logger       zerolog.Logger
}

func NewWorkspaceHandler(workspaceSvc service.WorkspaceService, uploadSvc service.UploadService, v *validator.Validate, logger zerolog.Logger) *WorkspaceHandler {
	return &WorkspaceHandler{workspaceSvc: workspaceSvc, uploadSvc: uploadSvc, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 workspace routes
func (h *WorkspaceHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("GET /workspaces", authMw(http.HandlerFunc(h.listWorkspaces)))
	mux.Handle("POST /workspaces", authMw(http.HandlerFunc(h.createWorkspace)))
	mux.Handle("GET /workspaces/{id}", authMw(http.HandlerFunc(h.getWorkspace)))
	mux.Handle("PATCH /workspaces/{id}", authMw(http.HandlerFunc(h.renameWorkspace)))
	mux.Handle("DELETE /workspaces/{id}", authMw(http.HandlerFunc(h.deleteWorkspace)))
	mux.Handle("GET /workspaces/{id}/uploads", authMw(http.HandlerFunc(h.listUploads)))
	mux.Handle("POST /workspaces/{id}/uploads", authMw(http.HandlerFunc(h.requestUpload)))
}

func (h *WorkspaceHandler) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	spaces, err := h.workspaceSvc.List(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, spaces, h.logger)
}

func (h *WorkspaceHandler) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var req dto.WorkspaceCreateDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	ws, err := h.workspaceSvc.Create(r.Context(), middleware.UserID(r.Context()), req.Name, req.Color)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, ws, h.logger)
}

func (h *WorkspaceHandler) getWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspaceSvc.Get(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, ws, h.logger)
}

func (h *WorkspaceHandler) renameWorkspace(w http.ResponseWriter, r *http.Request) {
	var req dto.WorkspaceRenameDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	ws, err := h.workspaceSvc.Rename(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, ws, h.logger)
}

// deleteWorkspace removes a workspace. With ?deleteUploads=true its uploads
// are deleted as well; otherwise they lose their workspace.
func (h *WorkspaceHandler) deleteWorkspace(w http.ResponseWriter, r *http.Request) {
	deleteUploads, _ := strconv.ParseBool(r.URL.Query().Get("deleteUploads"))
	if err := h.workspaceSvc.Delete(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"), deleteUploads); err != nil {
		writeError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WorkspaceHandler) listUploads(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	uploads, err := h.workspaceSvc.ListUploads(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"), limit, offset)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewUploadResponses(uploads), h.logger)
}

func (h *WorkspaceHandler) requestUpload(w http.ResponseWriter, r *http.Request) {
	var req dto.UploadRequestDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	ticket, err := h.uploadSvc.RequestWorkspaceUpload(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"), fileRequests(req.Files))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, ticketResponse(ticket), h.logger)
}
