// Package identity resolves the authenticated user of an HTTP request and provides the
// HTTP client that acts on the user's behalf against their pod.
//
// The login handshake itself is performed upstream; HeaderProvider trusts the identity
// asserted by the fronting proxy.
package identity

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ruteri/pod-consent-gateway/interfaces"
)

const (
	// DefaultUserHeader carries the WebID asserted by the authenticating proxy.
	DefaultUserHeader = "X-WebID"

	defaultFetchTimeout = 30 * time.Second
)

// HeaderProvider resolves users from a trusted request header and forwards the request's
// credentials on outbound pod requests.
type HeaderProvider struct {
	header    string
	transport http.RoundTripper
	timeout   time.Duration
}

// NewHeaderProvider creates a provider reading the given header; empty uses DefaultUserHeader.
func NewHeaderProvider(header string) *HeaderProvider {
	if header == "" {
		header = DefaultUserHeader
	}
	return &HeaderProvider{
		header:    header,
		transport: http.DefaultTransport,
		timeout:   defaultFetchTimeout,
	}
}

// CurrentUser returns the asserted identity or ErrUnauthenticated.
func (p *HeaderProvider) CurrentUser(r *http.Request) (interfaces.UserIdentity, error) {
	user := interfaces.UserIdentity(strings.TrimSpace(r.Header.Get(p.header)))
	if err := user.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrUnauthenticated, err)
	}
	return user, nil
}

// AuthenticatedFetch returns a client that carries the request's Authorization header.
func (p *HeaderProvider) AuthenticatedFetch(r *http.Request) (*http.Client, error) {
	if _, err := p.CurrentUser(r); err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &credentialTransport{
			base:          p.transport,
			authorization: r.Header.Get("Authorization"),
		},
		Timeout: p.timeout,
	}, nil
}

type credentialTransport struct {
	base          http.RoundTripper
	authorization string
}

func (t *credentialTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.authorization == "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", t.authorization)
	return t.base.RoundTrip(clone)
}
