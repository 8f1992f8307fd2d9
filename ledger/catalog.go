package ledger

import (
	"bytes"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"gopkg.in/yaml.v3"
)

//go:embed contracts/ConsentToken.abi
var consentTokenABI []byte

// ErrUnknownTemplate is returned for a template name missing from the catalog.
var ErrUnknownTemplate = errors.New("unknown contract template")

// ConsentTokenABI returns the ABI every consent-token template must implement.
func ConsentTokenABI() (abi.ABI, error) {
	return abi.JSON(bytes.NewReader(consentTokenABI))
}

// Template is a deployable consent-token contract.
type Template struct {
	Name        string
	Description string
	Symbol      string
	MaxSupply   uint64
	Price       *big.Int
	ABI         abi.ABI
	Bytecode    []byte
}

// Deployable reports whether bytecode is available.
func (t Template) Deployable() bool {
	return len(t.Bytecode) > 0
}

// Catalog is the set of configured contract templates.
type Catalog struct {
	Default   string
	templates map[string]Template
}

type catalogFile struct {
	Default   string `yaml:"default"`
	Templates []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
		ABI         string `yaml:"abi"`
		Bin         string `yaml:"bin"`
		Symbol      string `yaml:"symbol"`
		MaxSupply   uint64 `yaml:"maxSupply"`
		PriceWei    string `yaml:"priceWei"`
	} `yaml:"templates"`
}

// NewCatalog creates a catalog holding the given templates.
func NewCatalog(defaultName string, templates ...Template) *Catalog {
	c := &Catalog{Default: defaultName, templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		c.templates[t.Name] = t
	}
	return c
}

// LoadCatalog reads a YAML template catalog. ABI and bytecode paths are relative to the
// catalog file; the ABI defaults to the built-in consent-token ABI, and a missing
// bytecode file leaves the template non-deployable.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}

	dir := filepath.Dir(path)
	c := NewCatalog(file.Default)
	for _, entry := range file.Templates {
		if entry.Name == "" {
			return nil, errors.New("template without name in catalog")
		}

		tmpl := Template{
			Name:        entry.Name,
			Description: entry.Description,
			Symbol:      entry.Symbol,
			MaxSupply:   entry.MaxSupply,
			Price:       new(big.Int),
		}

		if entry.PriceWei != "" {
			if _, ok := tmpl.Price.SetString(entry.PriceWei, 10); !ok {
				return nil, fmt.Errorf("template %s: invalid priceWei %q", entry.Name, entry.PriceWei)
			}
		}

		abiJSON := consentTokenABI
		if entry.ABI != "" {
			abiJSON, err = os.ReadFile(filepath.Join(dir, entry.ABI))
			if err != nil {
				return nil, fmt.Errorf("template %s: %w", entry.Name, err)
			}
		}
		tmpl.ABI, err = abi.JSON(bytes.NewReader(abiJSON))
		if err != nil {
			return nil, fmt.Errorf("template %s: invalid ABI: %w", entry.Name, err)
		}
		if err := checkConsentTokenABI(tmpl.ABI); err != nil {
			return nil, fmt.Errorf("template %s: %w", entry.Name, err)
		}

		if entry.Bin != "" {
			bin, err := os.ReadFile(filepath.Join(dir, entry.Bin))
			switch {
			case errors.Is(err, fs.ErrNotExist):
			case err != nil:
				return nil, fmt.Errorf("template %s: %w", entry.Name, err)
			default:
				tmpl.Bytecode, err = hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(bin)), "0x"))
				if err != nil {
					return nil, fmt.Errorf("template %s: invalid bytecode: %w", entry.Name, err)
				}
			}
		}

		c.templates[tmpl.Name] = tmpl
	}

	if c.Default != "" {
		if _, ok := c.templates[c.Default]; !ok {
			return nil, fmt.Errorf("%w: default %q", ErrUnknownTemplate, c.Default)
		}
	}
	return c, nil
}

func checkConsentTokenABI(a abi.ABI) error {
	for _, method := range []string{"setSaleActive", "mint", "saleActive", "totalSupply", "maxSupply", "price", "ownerOf"} {
		if _, ok := a.Methods[method]; !ok {
			return fmt.Errorf("ABI is missing method %s", method)
		}
	}
	return nil
}

// Template returns the named template; an empty name selects the default.
func (c *Catalog) Template(name string) (Template, error) {
	if name == "" {
		name = c.Default
	}
	t, ok := c.templates[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return t, nil
}

// MaxSupply returns the largest MaxSupply of any template.
func (c *Catalog) MaxSupply() uint64 {
	var n uint64
	for _, t := range c.templates {
		n = max(n, t.MaxSupply)
	}
	return n
}

// Names returns all template names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
