package tools

import (
	"fmt"
	"strings"
	"sync"

	scanerrors "scanpilot/pkg/errors"
)

// Catalog is the set of scanners a scan may request, keyed by
// case-insensitive name. Readers always receive copies.
type Catalog struct {
	configs map[string]Definition
	order   []string
	mutex   sync.RWMutex
}

func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{configs: make(map[string]Definition)}
	if err := c.Replace(defs); err != nil {
		return nil, err
	}
	return c, nil
}

func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultDefinitions())
	if err != nil {
		panic(err)
	}
	return c
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func copyDefinition(def Definition) Definition {
	def.Args = append([]string(nil), def.Args...)
	return def
}

// Replace swaps the whole catalog atomically. Duplicate names are rejected.
func (c *Catalog) Replace(defs []Definition) error {
	configs := make(map[string]Definition, len(defs))
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
		k := key(def.Name)
		if _, exists := configs[k]; exists {
			return scanerrors.NewConfigError("tools.name", def.Name, "duplicate tool name")
		}
		configs[k] = copyDefinition(def)
		order = append(order, k)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.configs = configs
	c.order = order
	return nil
}

func (c *Catalog) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	k := key(def.Name)
	if _, exists := c.configs[k]; !exists {
		c.order = append(c.order, k)
	}
	c.configs[k] = copyDefinition(def)
	return nil
}

func (c *Catalog) Lookup(name string) (Definition, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	def, exists := c.configs[key(name)]
	if !exists {
		return Definition{}, false
	}
	return copyDefinition(def), true
}

// Resolve maps requested names onto canonical definitions, preserving request
// order and dropping repeats.
func (c *Catalog) Resolve(names []string) ([]Definition, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	seen := make(map[string]bool, len(names))
	resolved := make([]Definition, 0, len(names))
	for _, name := range names {
		k := key(name)
		def, exists := c.configs[k]
		if !exists {
			return nil, fmt.Errorf("%w: %q", scanerrors.ErrUnknownTool, name)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		resolved = append(resolved, copyDefinition(def))
	}
	return resolved, nil
}

func (c *Catalog) List() []Definition {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make([]Definition, 0, len(c.order))
	for _, k := range c.order {
		result = append(result, copyDefinition(c.configs[k]))
	}
	return result
}
