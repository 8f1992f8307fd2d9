package identity

import (
	"log/slog"
	"net/http"

	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// Middleware attaches the authenticated user and their fetch client to the request context.
// Unauthenticated requests pass through without a user; handlers decide whether to reject.
func Middleware(provider interfaces.IdentityProvider, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := provider.CurrentUser(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithUser(r.Context(), user)
			client, err := provider.AuthenticatedFetch(r)
			if err != nil {
				log.Warn("Failed to create authenticated fetch client",
					slog.String("user", user.String()),
					"err", err)
			} else {
				ctx = WithFetch(ctx, client)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
