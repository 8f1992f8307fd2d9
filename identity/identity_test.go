package identity

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderProvider(t *testing.T) {
	p := NewHeaderProvider("")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := p.CurrentUser(req)
	assert.ErrorIs(t, err, interfaces.ErrUnauthenticated)

	_, err = p.AuthenticatedFetch(req)
	assert.ErrorIs(t, err, interfaces.ErrUnauthenticated)

	req.Header.Set(DefaultUserHeader, " https://alice.example/profile/card#me ")
	user, err := p.CurrentUser(req)
	require.NoError(t, err)
	assert.Equal(t, interfaces.UserIdentity("https://alice.example/profile/card#me"), user)
}

func TestAuthenticatedFetchForwardsCredentials(t *testing.T) {
	var seen string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DefaultUserHeader, "alice")
	req.Header.Set("Authorization", "DPoP token-1")

	client, err := NewHeaderProvider("").AuthenticatedFetch(req)
	require.NoError(t, err)

	resp, err := client.Get(upstream.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "DPoP token-1", seen)
}

func TestMiddleware(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := &http.Client{}
	provider := &StaticProvider{User: "alice", Client: client}

	var gotUser interfaces.UserIdentity
	var gotClient *http.Client
	h := Middleware(provider, log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserFromContext(r.Context())
		gotClient = FetchFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, interfaces.UserIdentity("alice"), gotUser)
	assert.Same(t, client, gotClient)

	gotUser, gotClient = "", nil
	h = Middleware(NewHeaderProvider(""), log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ok bool
		gotUser, ok = UserFromContext(r.Context())
		assert.False(t, ok)
		gotClient = FetchFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, gotUser)
	assert.Nil(t, gotClient)
}
