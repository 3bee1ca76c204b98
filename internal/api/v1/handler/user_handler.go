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

type UserHandler struct {
	userService    service.UserService
	billingService service.BillingService
	validate       *validator.Validate
	logger         zerolog.Logger
}

func NewUserHandler(userService service.UserService, billingService service.BillingService, v *validator.Validate, logger zerolog.Logger) *UserHandler {
	return &UserHandler{userService: userService, billingService: billingService, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 user routes
func (h *UserHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /users/me", authMw(http.HandlerFunc(h.createUser)))
	mux.Handle("GET /users/me", authMw(http.HandlerFunc(h.getUser)))
	mux.Handle("GET /users/me/usage", authMw(http.HandlerFunc(h.getUsage)))
	mux.Handle("PUT /users/me/billing", authMw(http.HandlerFunc(h.updateBilling)))
	mux.Handle("GET /users/me/invoices", authMw(http.HandlerFunc(h.listInvoices)))
}

func (h *UserHandler) createUser(w http.ResponseWriter, r *http.Request) {
	var req dto.UserCreateDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	u := &model.User{
		ID: middleware.UserID(r.Context()),
		Identity: model.Identity{
			Email:    req.Email,
			FullName: req.FullName,
			Username: req.Username,
			Language: req.Language,
		},
	}
	created, err := h.userService.Create(r.Context(), u)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, dto.NewUserResponse(created), h.logger)
}

func (h *UserHandler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.userService.Get(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewUserResponse(u), h.logger)
}

func (h *UserHandler) getUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.userService.Usage(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, usage, h.logger)
}

func (h *UserHandler) updateBilling(w http.ResponseWriter, r *http.Request) {
	var req dto.BillingDetailsDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	u, err := h.userService.UpdateBilling(r.Context(), middleware.UserID(r.Context()), req.Model())
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewUserResponse(u), h.logger)
}

func (h *UserHandler) listInvoices(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	invoices, err := h.billingService.ListInvoices(r.Context(), middleware.UserID(r.Context()), limit, offset)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, invoices, h.logger)
}
