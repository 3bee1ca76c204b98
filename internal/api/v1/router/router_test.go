package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"fileshare/internal/api/v1/handler"
	"fileshare/internal/config"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testRoutes() http.Handler {
	v := validator.New()
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		})
	}
	return Routes(Handlers{
		Users:         handler.NewUserHandler(nil, nil, v, zerolog.Nop()),
		Uploads:       handler.NewUploadHandler(nil, nil, v, zerolog.Nop()),
		Workspaces:    handler.NewWorkspaceHandler(nil, nil, v, zerolog.Nop()),
		Subscriptions: handler.NewSubscriptionHandler(nil, v, zerolog.Nop()),
		Webhooks:      handler.NewWebhookHandler(nil, zerolog.Nop()),
		Auth:          deny,
		OptionalAuth:  deny,
		PushAuth:      deny,
	}, zerolog.Nop())
}

func TestRoutes(t *testing.T) {
	h := testRoutes()
	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/users/me", http.StatusMovedPermanently},
		{http.MethodGet, "/v1/users/me", http.StatusUnauthorized},
		{http.MethodPost, "/v1/uploads/abc/zip", http.StatusUnauthorized},
		{http.MethodGet, "/v1/workspaces", http.StatusUnauthorized},
		{http.MethodPut, "/v1/uploads", http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestPaymentProvidersFollowCredentials(t *testing.T) {
	assert.Empty(t, paymentProviders(&config.Config{}, zerolog.Nop()))

	providers := paymentProviders(&config.Config{StripeSecretKey: "sk_test_x", PayPalClientID: "client"}, zerolog.Nop())
	if assert.Len(t, providers, 2) {
		assert.Equal(t, "stripe", string(providers[0].Name()))
		assert.Equal(t, "paypal", string(providers[1].Name()))
	}
}
