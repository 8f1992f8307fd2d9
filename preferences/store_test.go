package preferences

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/ruteri/pod-consent-gateway/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	alice = interfaces.UserIdentity("https://alice.example/profile/card#me")
	acme  = interfaces.UserIdentity("https://acme.example/#id")
	other = interfaces.UserIdentity("https://other.example/#id")
)

func newTestStore() (*Store, *storage.MemoryStore) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := storage.NewMemoryStore("mem://pods/", log)
	return NewStore(mem, storage.NewLayout(mem.Base()), log), mem
}

func TestGetDefaultDoesNotWrite(t *testing.T) {
	s, mem := newTestStore()

	rec, err := s.Get(context.Background(), alice, acme)
	require.NoError(t, err)

	assert.False(t, rec.Persisted)
	assert.Equal(t, interfaces.ConsentFlags{}, rec.Flags)
	assert.Equal(t, alice, rec.User)
	assert.Equal(t, acme, rec.Counterparty)
	assert.Empty(t, mem.Mutations())
}

func TestSetUpsert(t *testing.T) {
	s, mem := newTestStore()
	ctx := context.Background()

	rec, err := s.Set(ctx, alice, acme, interfaces.ConsentFlags{ThirdParty: true})
	require.NoError(t, err)
	assert.True(t, rec.Persisted)
	assert.False(t, rec.UpdatedAt.IsZero())

	got, err := s.Get(ctx, alice, acme)
	require.NoError(t, err)
	assert.True(t, got.Persisted)
	assert.Equal(t, interfaces.ConsentFlags{ThirdParty: true}, got.Flags)

	_, err = s.Set(ctx, alice, acme, interfaces.ConsentFlags{Basic: true})
	require.NoError(t, err)

	got, err = s.Get(ctx, alice, acme)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ConsentFlags{Basic: true}, got.Flags)

	assert.Len(t, mem.Mutations(), 2, "one whole-document write per Set")
}

func TestFailedWriteKeepsPriorRecord(t *testing.T) {
	s, mem := newTestStore()
	ctx := context.Background()

	_, err := s.Set(ctx, alice, acme, interfaces.ConsentFlags{ThirdParty: true})
	require.NoError(t, err)

	mem.InjectFault(func(op, url string) error {
		if op == "write" {
			return errors.New("disk full")
		}
		return nil
	})

	_, err = s.Set(ctx, alice, acme, interfaces.ConsentFlags{})
	assert.ErrorIs(t, err, interfaces.ErrPreferenceWriteFailed)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)

	mem.InjectFault(nil)
	got, err := s.Get(ctx, alice, acme)
	require.NoError(t, err)
	assert.True(t, got.Flags.ThirdParty)
}

func TestReadFaultIsNotDefault(t *testing.T) {
	s, mem := newTestStore()
	mem.InjectFault(func(op, url string) error { return errors.New("timeout") })

	_, err := s.Get(context.Background(), alice, acme)
	assert.ErrorIs(t, err, interfaces.ErrPreferenceReadFailed)

	var opErr *interfaces.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "read-preference", opErr.Op)
	assert.Equal(t, alice.String(), opErr.Entity)
}

func TestList(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	recs, err := s.List(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = s.Set(ctx, alice, other, interfaces.ConsentFlags{Basic: true})
	require.NoError(t, err)
	_, err = s.Set(ctx, alice, acme, interfaces.ConsentFlags{ThirdParty: true})
	require.NoError(t, err)

	recs, err = s.List(ctx, alice)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, acme, recs[0].Counterparty)
	assert.Equal(t, other, recs[1].Counterparty)
}

func TestConcurrentSetsDoNotCorrupt(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	var mu sync.Mutex
	var written []interfaces.ConsentFlags

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		flags := interfaces.ConsentFlags{Basic: i%2 == 0, ThirdParty: i%3 == 0}
		g.Go(func() error {
			_, err := s.Set(gctx, alice, acme, flags)
			mu.Lock()
			written = append(written, flags)
			mu.Unlock()
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.Get(ctx, alice, acme)
	require.NoError(t, err)
	assert.Contains(t, written, got.Flags)
}

func TestInvalidIdentity(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.Get(context.Background(), "", acme)
	assert.ErrorIs(t, err, interfaces.ErrPreferenceReadFailed)

	_, err = s.Set(context.Background(), alice, " ", interfaces.ConsentFlags{})
	assert.ErrorIs(t, err, interfaces.ErrPreferenceWriteFailed)
}
