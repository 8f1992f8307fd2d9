package storage

import (
	"testing"

	"github.com/ruteri/pod-consent-gateway/interfaces"
	"github.com/stretchr/testify/assert"
)

func TestLayout(t *testing.T) {
	l := NewLayout("https://pods.example")
	alice := interfaces.UserIdentity("https://alice.example/profile/card#me")
	acme := interfaces.UserIdentity("acme")

	root := "https://pods.example/https:%2F%2Falice.example%2Fprofile%2Fcard%23me/"
	assert.Equal(t, root, l.PodRoot(alice))
	assert.Equal(t, root+"consent/preferences/acme.json", l.PreferenceURL(alice, acme))
	assert.Equal(t, root+"consent/grants/purchase-history/acme.json", l.GrantURL(alice, "purchase-history", acme))
	assert.Equal(t, root+"wallet/ethereum/address", l.WalletAddressURL(alice))
	assert.Equal(t, root+"wallet/ethereum/key", l.WalletKeyURL(alice))
	assert.Equal(t, root+"wallet/pending/0xab.json", l.PendingURL(alice, "0xab"))
	assert.Equal(t, root+"data/purchase-history/", l.ScopeURL(alice, "purchase-history"))
	assert.Equal(t, root+"data/purchase-history/consent-token.json", l.TokenRecordURL(alice, "purchase-history"))
	assert.Equal(t, root+"data/purchase-history/consent-token-metadata.json", l.TokenMetadataURL(alice, "purchase-history"))
}

func TestCounterpartyFromPreferenceURL(t *testing.T) {
	l := NewLayout("mem://pods/")
	alice := interfaces.UserIdentity("alice")
	cp := interfaces.UserIdentity("https://acme.example/#id")

	got, ok := l.CounterpartyFromPreferenceURL(alice, l.PreferenceURL(alice, cp))
	assert.True(t, ok)
	assert.Equal(t, cp, got)

	_, ok = l.CounterpartyFromPreferenceURL(alice, l.WalletAddressURL(alice))
	assert.False(t, ok)

	_, ok = l.CounterpartyFromPreferenceURL(alice, l.PreferencesContainer(alice)+"nested/")
	assert.False(t, ok)
}
