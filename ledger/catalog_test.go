package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsentTokenABI(t *testing.T) {
	a, err := ConsentTokenABI()
	require.NoError(t, err)
	require.NoError(t, checkConsentTokenABI(a))
	assert.Len(t, a.Constructor.Inputs, 5)
	assert.True(t, a.Methods["mint"].IsPayable())
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "token.bin"), []byte("0x6080604052\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yaml"), []byte(`
default: deployable
templates:
  - name: deployable
    bin: token.bin
    symbol: CNST
    maxSupply: 10
    priceWei: "1000"
  - name: abi-only
    bin: missing.bin
`), 0o600))

	c, err := LoadCatalog(filepath.Join(dir, "catalog.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"abi-only", "deployable"}, c.Names())
	assert.Equal(t, uint64(10), c.MaxSupply())

	tmpl, err := c.Template("")
	require.NoError(t, err)
	assert.Equal(t, "deployable", tmpl.Name)
	assert.True(t, tmpl.Deployable())
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0x52}, tmpl.Bytecode)
	assert.Equal(t, uint64(10), tmpl.MaxSupply)
	assert.Equal(t, "1000", tmpl.Price.String())

	tmpl, err = c.Template("abi-only")
	require.NoError(t, err)
	assert.False(t, tmpl.Deployable())

	_, err = c.Template("nope")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestLoadCatalogErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(content string) string {
		p := filepath.Join(dir, "c.yaml")
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	_, err := LoadCatalog(write("default: missing\ntemplates: []\n"))
	assert.ErrorIs(t, err, ErrUnknownTemplate)

	_, err = LoadCatalog(write("templates:\n  - name: x\n    priceWei: lots\n"))
	assert.Error(t, err)

	_, err = LoadCatalog(write("templates:\n  - description: unnamed\n"))
	assert.Error(t, err)

	_, err = LoadCatalog(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}
