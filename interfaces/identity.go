package interfaces

import (
	"net/http"
)

// IdentityProvider resolves the authenticated caller of a request.
type IdentityProvider interface {
	// CurrentUser returns the caller's identity or ErrUnauthenticated.
	CurrentUser(r *http.Request) (UserIdentity, error)

	// AuthenticatedFetch returns an HTTP client acting on behalf of the caller.
	AuthenticatedFetch(r *http.Request) (*http.Client, error)
}
