package storage

import (
	"net/url"
	"strings"

	"github.com/ruteri/pod-consent-gateway/interfaces"
)

// Layout maps users and entities to resource URLs below a base URL.
type Layout struct {
	base string
}

// NewLayout creates a layout rooted at base. A trailing slash is added if missing.
func NewLayout(base string) Layout {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return Layout{base: base}
}

// Base returns the base URL.
func (l Layout) Base() string {
	return l.base
}

func segment(s string) string {
	return url.PathEscape(s)
}

// PodRoot returns the root container of a user's pod.
func (l Layout) PodRoot(user interfaces.UserIdentity) string {
	return l.base + segment(user.String()) + "/"
}

// PreferencesContainer returns the container holding a user's preference records.
func (l Layout) PreferencesContainer(user interfaces.UserIdentity) string {
	return l.PodRoot(user) + "consent/preferences/"
}

// PreferenceURL returns the preference record for a (user, counterparty).
func (l Layout) PreferenceURL(user, counterparty interfaces.UserIdentity) string {
	return l.PreferencesContainer(user) + segment(counterparty.String()) + ".json"
}

// CounterpartyFromPreferenceURL recovers the counterparty from a preference record URL.
func (l Layout) CounterpartyFromPreferenceURL(user interfaces.UserIdentity, resourceURL string) (interfaces.UserIdentity, bool) {
	name, ok := strings.CutPrefix(resourceURL, l.PreferencesContainer(user))
	if !ok {
		return "", false
	}
	name, ok = strings.CutSuffix(name, ".json")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	cp, err := url.PathUnescape(name)
	if err != nil {
		return "", false
	}
	return interfaces.UserIdentity(cp), true
}

// GrantURL returns the grant record for a (user, scope, counterparty).
func (l Layout) GrantURL(user interfaces.UserIdentity, scope string, counterparty interfaces.UserIdentity) string {
	return l.PodRoot(user) + "consent/grants/" + segment(scope) + "/" + segment(counterparty.String()) + ".json"
}

// WalletAddressURL returns the public wallet address resource, the "wallet exists" marker.
func (l Layout) WalletAddressURL(user interfaces.UserIdentity) string {
	return l.PodRoot(user) + "wallet/ethereum/address"
}

// WalletKeyURL returns the location of the sealed wallet key.
func (l Layout) WalletKeyURL(user interfaces.UserIdentity) string {
	return l.PodRoot(user) + "wallet/ethereum/key"
}

// PendingContainer returns the container of tracked transactions.
func (l Layout) PendingContainer(user interfaces.UserIdentity) string {
	return l.PodRoot(user) + "wallet/pending/"
}

// PendingURL returns the tracking record of a transaction.
func (l Layout) PendingURL(user interfaces.UserIdentity, txHash string) string {
	return l.PendingContainer(user) + segment(txHash) + ".json"
}

// ScopeURL returns the container holding the data of a scope.
func (l Layout) ScopeURL(user interfaces.UserIdentity, scope string) string {
	return l.PodRoot(user) + "data/" + segment(scope) + "/"
}

// TokenRecordURL returns the public consent-token record of a scope.
func (l Layout) TokenRecordURL(user interfaces.UserIdentity, scope string) string {
	return l.ScopeURL(user, scope) + "consent-token.json"
}

// TokenMetadataURL returns the public consent-token metadata of a scope.
func (l Layout) TokenMetadataURL(user interfaces.UserIdentity, scope string) string {
	return l.ScopeURL(user, scope) + "consent-token-metadata.json"
}
