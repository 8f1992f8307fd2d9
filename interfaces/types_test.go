package interfaces

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressHex(t *testing.T) {
	addr, err := NewAddressFromHex("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", addr.String())
	assert.False(t, addr.IsZero())

	same, err := NewAddressFromHex(addr.String()[2:])
	require.NoError(t, err)
	assert.Equal(t, addr, same)

	_, err = NewAddressFromHex("0x1234")
	assert.Error(t, err)
	_, err = NewAddressFromHex("0x" + "zz5aaeb6053f3e94c9b9a09f33669435e7ef1bea")
	assert.Error(t, err)
	_, err = NewAddressFromBytes([]byte{1, 2, 3})
	assert.Error(t, err)

	assert.True(t, Address{}.IsZero())
}

func TestAddressJSON(t *testing.T) {
	rec := TokenRecord{Contract: Address{0xab, 0xcd}}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"contract":"`+rec.Contract.String()+`"`)

	var back TokenRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec.Contract, back.Contract)

	assert.Error(t, json.Unmarshal([]byte(`{"contract":"nope"}`), &back))
}

func TestValidation(t *testing.T) {
	assert.Error(t, UserIdentity("  ").Validate())
	assert.NoError(t, UserIdentity("https://alice.example/#me").Validate())

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "a?b", "a#b"} {
		assert.Error(t, ValidateScopeName(bad), bad)
	}
	assert.NoError(t, ValidateScopeName("purchase-history"))
}

func TestAccessApply(t *testing.T) {
	bob := UserIdentity("bob")
	start := Access{}

	granted := start.Apply(AgentAccess(bob, AccessModes{Read: true}))
	assert.Equal(t, AccessModes{Read: true}, granted.AgentModes(bob))
	assert.Empty(t, start.Agents, "apply must not mutate the receiver")

	public := granted.Apply(PublicRead())
	assert.True(t, public.Public.Read)
	assert.Equal(t, AccessModes{Read: true}, public.AgentModes(bob))

	private := public.Apply(Private())
	assert.True(t, private.Public.None())

	removed := private.Apply(AgentAccess(bob, AccessModes{}))
	assert.True(t, removed.AgentModes(bob).None())
	assert.NotContains(t, removed.Agents, bob)
}

func TestDefaultPreference(t *testing.T) {
	rec := DefaultPreference("alice", "acme")
	assert.Equal(t, ConsentFlags{}, rec.Flags)
	assert.False(t, rec.Persisted)
	assert.True(t, rec.UpdatedAt.IsZero())

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "persisted")
}

func TestDecision(t *testing.T) {
	assert.True(t, Decision{Outcome: Granted}.IsGranted())
	assert.False(t, Decision{Outcome: Denied, Reason: ReasonExplicitDeny}.IsGranted())
}

func TestStoreLocation(t *testing.T) {
	loc, err := NewStoreLocation("s3://bucket/prefix?region=eu-west-1&public=true")
	require.NoError(t, err)
	assert.Equal(t, "s3", loc.Scheme)
	assert.Equal(t, "bucket", loc.Host)
	assert.Equal(t, "/prefix", loc.Path)
	assert.Equal(t, "eu-west-1", loc.GetParam("region"))
	assert.True(t, loc.GetParamBool("public"))
	assert.False(t, loc.GetParamBool("missing"))

	_, err = NewStoreLocation("ftp://host/")
	assert.ErrorIs(t, err, ErrInvalidLocationURI)
}
