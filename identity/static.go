package identity

import (
	"net/http"

	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// StaticProvider authenticates every request as the same user. Development use only.
type StaticProvider struct {
	User   interfaces.UserIdentity
	Client *http.Client
}

// CurrentUser returns the configured user.
func (p *StaticProvider) CurrentUser(r *http.Request) (interfaces.UserIdentity, error) {
	if err := p.User.Validate(); err != nil {
		return "", interfaces.ErrUnauthenticated
	}
	return p.User, nil
}

// AuthenticatedFetch returns the configured client, or http.DefaultClient.
func (p *StaticProvider) AuthenticatedFetch(r *http.Request) (*http.Client, error) {
	if p.Client != nil {
		return p.Client, nil
	}
	return http.DefaultClient, nil
}
