package interfaces

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// UserIdentity is the stable identifier (WebID) of a person or counterparty.
type UserIdentity string

// String returns the identifier.
func (u UserIdentity) String() string {
	return string(u)
}

// Validate checks that the identity is usable as a pod key.
func (u UserIdentity) Validate() error {
	if strings.TrimSpace(string(u)) == "" {
		return errors.New("empty user identity")
	}
	return nil
}

// Address represents a 20-byte ledger address, used for both wallets and contracts.
type Address [20]byte

// ContractAddress is an Address that holds deployed contract code.
type ContractAddress = Address

// NewAddressFromBytes creates an address from a 20-byte slice.
func NewAddressFromBytes(addr []byte) (Address, error) {
	if len(addr) != 20 {
		return Address{}, errors.New("invalid address length: must be 20 bytes")
	}

	var res Address
	copy(res[:], addr)
	return res, nil
}

// NewAddressFromHex parses a 40-character hex address with optional 0x prefix.
func NewAddressFromHex(addr string) (Address, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(addr), "0x")
	if len(clean) != 40 {
		return Address{}, errors.New("invalid address length: hex string must be 40 characters")
	}

	addrBytes, err := hex.DecodeString(clean)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewAddressFromBytes(addrBytes)
}

// String returns the EIP-55 checksummed hex representation.
func (addr Address) String() string {
	return common.Address(addr).Hex()
}

// Bytes returns the raw 20-byte address.
func (addr Address) Bytes() []byte {
	return addr[:]
}

// IsZero reports whether the address is unset.
func (addr Address) IsZero() bool {
	return addr == Address{}
}

// MarshalText encodes the address as checksummed hex.
func (addr Address) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

// UnmarshalText decodes a hex address.
func (addr *Address) UnmarshalText(text []byte) error {
	parsed, err := NewAddressFromHex(string(text))
	if err != nil {
		return err
	}
	*addr = parsed
	return nil
}

// DataScope identifies a named category of collected data tied to a counterparty.
type DataScope struct {
	Name         string       `json:"name"`
	Counterparty UserIdentity `json:"counterparty"`
}

// ValidateScopeName checks that a scope name is a single, non-empty path segment.
func ValidateScopeName(name string) error {
	if name == "" {
		return errors.New("empty scope name")
	}
	if strings.ContainsAny(name, "/\\?#") || name == "." || name == ".." {
		return fmt.Errorf("invalid scope name %q", name)
	}
	return nil
}

// ConsentFlags are the independent sharing preferences for one counterparty.
type ConsentFlags struct {
	Basic           bool `json:"basic"`
	Personalization bool `json:"personalization"`
	ThirdParty      bool `json:"thirdParty"`
}

// PreferenceRecord is the consent record keyed by (User, Counterparty).
type PreferenceRecord struct {
	User         UserIdentity `json:"user"`
	Counterparty UserIdentity `json:"counterparty"`
	Flags        ConsentFlags `json:"flags"`
	UpdatedAt    time.Time    `json:"updatedAt"`

	// Persisted is false for the default-deny record of a pair that was never set.
	Persisted bool `json:"-"`
}

// DefaultPreference returns the all-false record for a pair that was never set.
func DefaultPreference(user, counterparty UserIdentity) PreferenceRecord {
	return PreferenceRecord{User: user, Counterparty: counterparty}
}

// WalletHandle identifies a user's ledger account. It never carries the signing key.
type WalletHandle struct {
	User    UserIdentity `json:"user"`
	Address Address      `json:"address"`

	// Created is true if this call provisioned the wallet.
	Created bool `json:"created"`
}

// TokenMetadata is the human-readable description published for a consent token.
type TokenMetadata struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Scope        string       `json:"scope"`
	ScopeURL     string       `json:"scopeUrl"`
	Issuer       UserIdentity `json:"issuer"`
	Counterparty UserIdentity `json:"counterparty"`
	IssuedAt     time.Time    `json:"issuedAt"`
}

// TokenRecord is the persisted state of the consent-token contract for a (user, scope).
type TokenRecord struct {
	User         UserIdentity    `json:"user"`
	Scope        string          `json:"scope"`
	Counterparty UserIdentity    `json:"counterparty,omitempty"`
	Template     string          `json:"template"`
	Contract     ContractAddress `json:"contract"`
	DeployTx     string          `json:"deployTx"`
	Status       TxStatus        `json:"status"`
	SaleTx       string          `json:"saleTx,omitempty"`
	SaleEnabled  bool            `json:"saleEnabled"`
	MetadataURI  string          `json:"metadataUri"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// GrantRecord is the realized ACL grant for a (user, scope, counterparty).
type GrantRecord struct {
	ID           string          `json:"id"`
	User         UserIdentity    `json:"user"`
	Scope        string          `json:"scope"`
	Counterparty UserIdentity    `json:"counterparty"`
	Contract     ContractAddress `json:"contract"`
	Modes        AccessModes     `json:"modes"`
	MintTx       string          `json:"mintTx,omitempty"`
	Active       bool            `json:"active"`
	GrantedAt    time.Time       `json:"grantedAt"`
	RevokedAt    *time.Time      `json:"revokedAt,omitempty"`
}

// Outcome is the result category of an authorization request.
type Outcome string

const (
	Granted Outcome = "granted"
	Denied  Outcome = "denied"
)

// DecisionReason states why an authorization request was decided the way it was.
type DecisionReason string

const (
	ReasonSelfAccess    DecisionReason = "self-access"
	ReasonConsented     DecisionReason = "consented"
	ReasonNoPreference  DecisionReason = "no-preference"
	ReasonExplicitDeny  DecisionReason = "explicit-deny"
	ReasonUpstreamFault DecisionReason = "upstream-fault"
)

// Decision is the outcome of Authorize. A Denied decision with ReasonUpstreamFault is
// always accompanied by an error; the other denials are policy and carry no error.
type Decision struct {
	Outcome  Outcome         `json:"outcome"`
	Reason   DecisionReason  `json:"reason"`
	Contract ContractAddress `json:"contract"`

	// TokenPending is set while the consent-token deployment awaits confirmation.
	TokenPending bool `json:"tokenPending,omitempty"`

	// MintTx is the hash of the mint submitted for the requester, if any.
	MintTx string `json:"mintTx,omitempty"`

	// Revoked is set when a denial removed a previously granted ACL entry.
	Revoked bool `json:"revoked,omitempty"`
}

// IsGranted reports whether access is authorized.
func (d Decision) IsGranted() bool {
	return d.Outcome == Granted
}
