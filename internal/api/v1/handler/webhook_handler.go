package handler

import (
	"io"
	"net/http"

	"fileshare/internal/apperr"
	"fileshare/internal/model"
	"fileshare/internal/service"

	"github.com/rs/zerolog"
)

// WebhookHandler receives payment provider events. The raw body is passed
// through untouched; signatures are computed over it.
type WebhookHandler struct {
	billingSvc service.BillingService
	logger     zerolog.Logger
}

func NewWebhookHandler(billingSvc service.BillingService, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{billingSvc: billingSvc, logger: logger}
}

func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.handle(model.ProviderStripe))
	mux.HandleFunc("POST /webhooks/paypal", h.handle(model.ProviderPayPal))
}

func (h *WebhookHandler) handle(provider model.Provider) http.HandlerFunc {
	logger := h.logger.With().Str("provider", string(provider)).Logger()
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, apperr.Validation("read webhook body: %v", err), logger)
			return
		}
		outcome, err := h.billingSvc.HandleWebhook(r.Context(), provider, payload, r.Header)
		if err != nil {
			// Any non-2xx answer makes the provider redeliver the event.
			writeError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)}, logger)
	}
}
