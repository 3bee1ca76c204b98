package handler

import (
	"net/http"

	"fileshare/internal/api/v1/dto"
	"fileshare/internal/apperr"
	"fileshare/internal/middleware"
	"fileshare/internal/model"
	"fileshare/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SubscriptionHandler handles subscription, card and campaign payments.
type SubscriptionHandler struct {
	billingSvc service.BillingService
	validate   *validator.Validate
	logger     zerolog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(billingSvc service.BillingService, v *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{billingSvc: billingSvc, validate: v, logger: logger}
}

// RegisterRoutes registers the subscription endpoints.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /subscriptions/quote", h.Quote)
	mux.Handle("POST /subscriptions", authMw(http.HandlerFunc(h.Subscribe)))
	mux.Handle("DELETE /subscriptions", authMw(http.HandlerFunc(h.Cancel)))
	mux.Handle("POST /payment-methods/verify", authMw(http.HandlerFunc(h.VerifyCard)))
	mux.Handle("POST /campaigns/{id}/pay", authMw(http.HandlerFunc(h.PayCampaign)))
}

// Quote prices a plan without starting a checkout.
func (h *SubscriptionHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req dto.SubscriptionRequestDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	quote, err := h.billingSvc.Quote(req.Options())
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, quote, h.logger)
}

// Subscribe starts a provider checkout and returns where to send the user.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req dto.SubscriptionRequestDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	checkout, err := h.billingSvc.Subscribe(r.Context(), middleware.UserID(r.Context()), req.Provider(), req.Options())
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, checkout, h.logger)
}

// Cancel ends the current subscription. Active subscriptions keep their
// entitlements until the end of the paid period.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	u, err := h.billingSvc.CancelSubscription(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewUserResponse(u), h.logger)
}

func (h *SubscriptionHandler) VerifyCard(w http.ResponseWriter, r *http.Request) {
	var req dto.CardVerificationDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	charge, err := h.billingSvc.VerifyCard(r.Context(), middleware.UserID(r.Context()), model.ProviderStripe, req.PaymentMethodID)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, charge, h.logger)
}

func (h *SubscriptionHandler) PayCampaign(w http.ResponseWriter, r *http.Request) {
	var req dto.CampaignPaymentDTO
	if err := decode(w, r, h.validate, &req); err != nil {
		writeError(w, err, h.logger)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, apperr.Validation("invalid amount %q", req.Amount), h.logger)
		return
	}
	provider := model.ProviderStripe
	if req.Service != "" {
		provider = model.Provider(req.Service)
	}
	charge, err := h.billingSvc.PayCampaign(r.Context(), middleware.UserID(r.Context()), r.PathValue("id"), provider, amount)
	if err != nil {
		writeError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, charge, h.logger)
}
