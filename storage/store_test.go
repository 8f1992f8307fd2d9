package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// runStoreTests exercises the ResourceStore contract against any implementation.
func runStoreTests(t *testing.T, store interfaces.ResourceStore, base string) {
	ctx := context.Background()
	layout := NewLayout(base)
	alice := interfaces.UserIdentity("https://alice.example/profile/card#me")
	acme := interfaces.UserIdentity("https://acme.example/#id")

	prefURL := layout.PreferenceURL(alice, acme)
	recordURL := layout.TokenRecordURL(alice, "purchase-history")
	scopeURL := layout.ScopeURL(alice, "purchase-history")

	t.Run("ReadMissing", func(t *testing.T) {
		_, err := store.Read(ctx, prefURL)
		assert.ErrorIs(t, err, interfaces.ErrResourceNotFound)

		exists, err := store.Exists(ctx, prefURL)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("WriteAndRead", func(t *testing.T) {
		_, err := store.Write(ctx, prefURL, []byte(`{"v":1}`), "application/json")
		require.NoError(t, err)

		data, err := store.Read(ctx, prefURL)
		require.NoError(t, err)
		assert.Equal(t, `{"v":1}`, string(data))

		_, err = store.Write(ctx, prefURL, []byte(`{"v":2}`), "application/json")
		require.NoError(t, err)

		data, err = store.Read(ctx, prefURL)
		require.NoError(t, err)
		assert.Equal(t, `{"v":2}`, string(data))

		exists, err := store.Exists(ctx, prefURL)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("List", func(t *testing.T) {
		_, err := store.Write(ctx, recordURL, []byte(`{}`), "application/json")
		require.NoError(t, err)

		children, err := store.List(ctx, layout.PreferencesContainer(alice))
		require.NoError(t, err)
		assert.Equal(t, []string{prefURL}, children)

		children, err = store.List(ctx, layout.PodRoot(alice)+"data/")
		require.NoError(t, err)
		assert.Equal(t, []string{scopeURL}, children)

		children, err = store.List(ctx, layout.PendingContainer(alice))
		require.NoError(t, err)
		assert.Empty(t, children)
	})

	t.Run("AccessOnMissing", func(t *testing.T) {
		_, err := store.SetAccess(ctx, layout.WalletAddressURL(alice), interfaces.PublicRead())
		assert.ErrorIs(t, err, interfaces.ErrResourceNotFound)
	})

	t.Run("SetAccess", func(t *testing.T) {
		access, err := store.Access(ctx, recordURL)
		require.NoError(t, err)
		assert.False(t, access.Public.Read)
		assert.Empty(t, access.Agents)

		_, err = store.SetAccess(ctx, recordURL, interfaces.PublicRead())
		require.NoError(t, err)

		_, err = store.SetAccess(ctx, scopeURL, interfaces.AgentAccess(acme, interfaces.AccessModes{Read: true}))
		require.NoError(t, err)

		access, err = store.Access(ctx, recordURL)
		require.NoError(t, err)
		assert.True(t, access.Public.Read)

		access, err = store.Access(ctx, scopeURL)
		require.NoError(t, err)
		assert.Equal(t, interfaces.AccessModes{Read: true}, access.AgentModes(acme))

		access, err = store.SetAccess(ctx, scopeURL, interfaces.AgentAccess(acme, interfaces.AccessModes{}))
		require.NoError(t, err)
		assert.True(t, access.AgentModes(acme).None())

		access, err = store.Access(ctx, scopeURL)
		require.NoError(t, err)
		assert.True(t, access.AgentModes(acme).None())

		// Access documents are never listed.
		children, err := store.List(ctx, scopeURL)
		require.NoError(t, err)
		assert.Equal(t, []string{recordURL}, children)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemoryStore("mem://pods/", testLogger()), "mem://pods/")
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	runStoreTests(t, store, store.Base())
}

func TestFileStoreRejectsOutsideURLs(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Read(ctx, "file:///etc/passwd")
	assert.ErrorIs(t, err, interfaces.ErrResourceOutsideStore)

	_, err = store.Write(ctx, store.Base()+"alice/../../escape", []byte("x"), "text/plain")
	assert.ErrorIs(t, err, interfaces.ErrResourceOutsideStore)
}

func TestMemoryStoreFaults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("mem://pods/", testLogger())

	_, err := store.Write(ctx, "mem://pods/a", []byte("1"), "text/plain")
	require.NoError(t, err)

	store.InjectFault(func(op, url string) error {
		if op == "write" {
			return assert.AnError
		}
		return nil
	})

	_, err = store.Write(ctx, "mem://pods/a", []byte("2"), "text/plain")
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)

	data, err := store.Read(ctx, "mem://pods/a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(data), "failed write leaves prior content")

	store.InjectFault(func(op, url string) error {
		if op == "read" {
			return assert.AnError
		}
		return nil
	})
	_, err = store.Read(ctx, "mem://pods/a")
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assert.NotErrorIs(t, err, interfaces.ErrResourceNotFound)

	assert.Equal(t, []Mutation{{Op: "write", URL: "mem://pods/a"}}, store.Mutations())
	store.ResetMutations()
	assert.Empty(t, store.Mutations())
}
