// Package assets holds the selectable symbols offered for analysis.
package assets

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ErrUnknownKind is returned for an asset type the catalog does not list.
var ErrUnknownKind = errors.New("unknown asset type")

// DefaultKind is used when no asset type is given.
const DefaultKind = "stock"

//go:embed assets.toml
var defaultCatalog []byte

// Catalog maps asset type to its symbols.
type Catalog struct {
	lists map[string][]string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("assets: built-in catalog is invalid: %v", err))
	}
	return c
}

// Parse reads a catalog from TOML: one array of symbols per asset type.
func Parse(data []byte) (*Catalog, error) {
	var raw map[string][]string
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse asset catalog: %w", err)
	}

	c := &Catalog{lists: make(map[string][]string, len(raw))}
	for kind, symbols := range raw {
		kind = strings.ToLower(strings.TrimSpace(kind))
		var clean []string
		for _, s := range symbols {
			if s = strings.TrimSpace(s); s != "" && !slices.Contains(clean, s) {
				clean = append(clean, s)
			}
		}
		if kind == "" || len(clean) == 0 {
			continue
		}
		c.lists[kind] = clean
	}
	if len(c.lists) == 0 {
		return nil, errors.New("asset catalog is empty")
	}
	return c, nil
}

// LoadFile reads a catalog from a TOML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset catalog %s: %w", path, err)
	}
	return Parse(data)
}

// List returns the symbols for kind. An empty kind means DefaultKind.
func (c *Catalog) List(kind string) ([]string, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		kind = DefaultKind
	}
	symbols, ok := c.lists[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return slices.Clone(symbols), nil
}

// Kinds returns the asset types in sorted order.
func (c *Catalog) Kinds() []string {
	kinds := make([]string, 0, len(c.lists))
	for k := range c.lists {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Contains reports whether symbol appears under any asset type.
func (c *Catalog) Contains(symbol string) bool {
	for _, symbols := range c.lists {
		if slices.Contains(symbols, symbol) {
			return true
		}
	}
	return false
}
