package middleware

import (
	"context"
	"net/http"

	"fileshare/internal/model"

	"github.com/rs/zerolog"
)

type UserLoader interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

type Downgrader interface {
	ApplyPendingDowngrade(ctx context.Context, u *model.User) (bool, error)
}

// DowngradeMiddleware applies a subscription downgrade whose grace period
// ended before the authenticated request is served. Failures are logged and
// the request proceeds; the scheduler retries on its next tick.
func DowngradeMiddleware(users UserLoader, billing Downgrader, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserID(r.Context())
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}
			u, err := users.GetUserByID(r.Context(), userID)
			switch {
			case err != nil:
				logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load user for downgrade check")
			case u != nil:
				applied, err := billing.ApplyPendingDowngrade(r.Context(), u)
				if err != nil {
					logger.Error().Err(err).Str("user_id", userID).Msg("Failed to apply pending downgrade")
				} else if applied {
					logger.Info().Str("user_id", userID).Msg("Applied pending downgrade")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
