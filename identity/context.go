package identity

import (
	"context"
	"net/http"

	"github.com/ruteri/pod-consent-gateway/interfaces"
)

type ctxKey int

const (
	userKey ctxKey = iota
	fetchKey
)

// WithUser attaches the authenticated user to the context.
func WithUser(ctx context.Context, user interfaces.UserIdentity) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (interfaces.UserIdentity, bool) {
	user, ok := ctx.Value(userKey).(interfaces.UserIdentity)
	return user, ok && user != ""
}

// WithFetch attaches the caller's authenticated HTTP client to the context.
func WithFetch(ctx context.Context, client *http.Client) context.Context {
	return context.WithValue(ctx, fetchKey, client)
}

// FetchFromContext returns the authenticated HTTP client, or nil.
func FetchFromContext(ctx context.Context) *http.Client {
	client, _ := ctx.Value(fetchKey).(*http.Client)
	return client
}
