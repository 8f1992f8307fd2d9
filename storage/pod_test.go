package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/ruteri/pod-consent-gateway/identity"
	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePod is a minimal LDP server keeping resources in memory.
type fakePod struct {
	mu        sync.Mutex
	resources map[string][]byte
	auth      []string
	base      string
}

func newFakePod(t *testing.T) (*fakePod, *httptest.Server) {
	pod := &fakePod{resources: make(map[string][]byte)}
	srv := httptest.NewServer(pod)
	t.Cleanup(srv.Close)
	pod.base = srv.URL
	return pod, srv
}

func (f *fakePod) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.auth = append(f.auth, r.Header.Get("Authorization"))
	key := f.base + r.URL.EscapedPath()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.resources[key] = body
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet, http.MethodHead:
		if strings.HasSuffix(key, "/") {
			members := map[string]struct{}{}
			for k := range f.resources {
				rest, ok := strings.CutPrefix(k, key)
				if !ok || rest == "" || rest == ".acl" {
					continue
				}
				if i := strings.Index(rest, "/"); i >= 0 {
					members[rest[:i+1]] = struct{}{}
				} else {
					members[rest] = struct{}{}
				}
			}
			if len(members) == 0 {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var contains []map[string]string
			for m := range members {
				contains = append(contains, map[string]string{"@id": key + m})
			}
			sort.Slice(contains, func(i, j int) bool { return contains[i]["@id"] < contains[j]["@id"] })
			w.Header().Set("Content-Type", "application/ld+json")
			_ = json.NewEncoder(w).Encode([]any{map[string]any{"@id": key, ldpContains: contains}})
			return
		}
		data, ok := f.resources[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestPodStore(t *testing.T) {
	_, srv := newFakePod(t)
	store, err := NewPodStore(srv.URL, srv.Client(), testLogger())
	require.NoError(t, err)
	runStoreTests(t, store, store.Base())
}

func TestPodStoreUsesContextFetch(t *testing.T) {
	pod, srv := newFakePod(t)
	store, err := NewPodStore(srv.URL+"/", nil, testLogger())
	require.NoError(t, err)

	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		r.Header.Set("Authorization", "DPoP alice")
		return http.DefaultTransport.RoundTrip(r)
	})}

	ctx := identity.WithUser(context.Background(), "https://alice.example/profile/card#me")
	ctx = identity.WithFetch(ctx, client)
	url := store.Base() + "alice/data/x/item.json"

	_, err = store.Write(ctx, url, []byte("{}"), "application/json")
	require.NoError(t, err)

	_, err = store.SetAccess(ctx, url, interfaces.PublicRead())
	require.NoError(t, err)

	pod.mu.Lock()
	defer pod.mu.Unlock()
	for _, a := range pod.auth {
		assert.Equal(t, "DPoP alice", a)
	}

	acl := string(pod.resources[url+".acl"])
	assert.Contains(t, acl, "acl:agent <https://alice.example/profile/card#me>")
	assert.Contains(t, acl, "acl:Control")
	assert.Contains(t, acl, "acl:agentClass foaf:Agent")
}

func TestPodStoreStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	store, err := NewPodStore(srv.URL, srv.Client(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Read(ctx, srv.URL+"/forbidden")
	assert.ErrorIs(t, err, interfaces.ErrAccessForbidden)

	_, err = store.Read(ctx, srv.URL+"/flaky")
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)

	_, err = store.Exists(ctx, srv.URL+"/flaky")
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)

	_, err = store.Read(ctx, "https://elsewhere.example/x")
	assert.ErrorIs(t, err, interfaces.ErrResourceOutsideStore)

	_, err = NewPodStore("ftp://pods.example/", nil, testLogger())
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestParseContainerMembers(t *testing.T) {
	doc := `{"@id":"https://pod.example/alice/","ldp:contains":["a.json", {"@id":"sub/"}, "a.json.acl"]}`
	members, err := parseContainerMembers("https://pod.example/alice/", []byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://pod.example/alice/a.json", "https://pod.example/alice/sub/"}, members)

	_, err = parseContainerMembers("https://pod.example/alice/", []byte("not json"))
	assert.Error(t, err)
}
