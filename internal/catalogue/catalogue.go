package catalogue

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/fraser/firewarden/internal/rules"
)

//go:embed modules/*.yaml
var builtinFS embed.FS

// Catalogue is the loaded set of module schemas, keyed by module key.
// Lookup order follows load order (builtin catalogue is alphabetical by
// file name; directory loads follow glob order).
type Catalogue struct {
	order   []string
	schemas map[string]*Schema
	tables  map[string]*rules.Table
}

func newCatalogue() *Catalogue {
	return &Catalogue{
		schemas: make(map[string]*Schema),
		tables:  make(map[string]*rules.Table),
	}
}

// add validates and registers one schema, building its rule table.
func (c *Catalogue) add(s *Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	table := s.Table()
	if err := table.Validate(); err != nil {
		return fmt.Errorf("module %s rule table: %w", s.Key, err)
	}
	if _, exists := c.schemas[s.Key]; exists {
		return fmt.Errorf("duplicate module key %q", s.Key)
	}
	c.order = append(c.order, s.Key)
	c.schemas[s.Key] = s
	c.tables[s.Key] = table
	return nil
}

// Schema returns the schema for a module key.
func (c *Catalogue) Schema(key string) (*Schema, bool) {
	s, ok := c.schemas[key]
	return s, ok
}

// Table returns the prebuilt rule table for a module key.
func (c *Catalogue) Table(key string) (*rules.Table, bool) {
	t, ok := c.tables[key]
	return t, ok
}

// Keys returns all module keys in catalogue order.
func (c *Catalogue) Keys() []string {
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	return keys
}

// Len returns the number of modules in the catalogue.
func (c *Catalogue) Len() int {
	return len(c.order)
}

// validateRequires checks that every cross-module dependency names a module
// present in the catalogue, and that no module requires itself.
func (c *Catalogue) validateRequires() error {
	for _, key := range c.order {
		for _, dep := range c.schemas[key].Requires {
			if dep == key {
				return fmt.Errorf("module %s requires itself", key)
			}
			if _, ok := c.schemas[dep]; !ok {
				return fmt.Errorf("module %s requires unknown module %q", key, dep)
			}
		}
	}
	return nil
}

// Builtin loads the embedded default catalogue covering the core module
// families shipped with firewarden.
func Builtin() (*Catalogue, error) {
	entries, err := fs.Glob(builtinFS, "modules/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob builtin catalogue: %w", err)
	}
	sort.Strings(entries)

	c := newCatalogue()
	for _, path := range entries {
		data, err := builtinFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read builtin schema %s: %w", path, err)
		}
		if err := c.addYAML(path, data); err != nil {
			return nil, err
		}
	}
	if err := c.validateRequires(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads every module schema matching modules/**/*.yaml under dir.
// An empty or missing directory is not an error; it yields an empty
// catalogue so callers can fall back to the builtin one.
func Load(dir string) (*Catalogue, error) {
	pattern := "modules/**/*.yaml"
	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return nil, fmt.Errorf("glob catalogue %s: %w", dir, err)
	}
	sort.Strings(matches)

	c := newCatalogue()
	for _, match := range matches {
		data, err := fs.ReadFile(os.DirFS(dir), match)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", match, err)
		}
		if err := c.addYAML(match, data); err != nil {
			return nil, err
		}
	}
	if err := c.validateRequires(); err != nil {
		return nil, err
	}
	return c, nil
}

// addYAML parses one schema document and registers it.
func (c *Catalogue) addYAML(path string, data []byte) error {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse schema %s: %w", path, err)
	}
	if err := c.add(&s); err != nil {
		return fmt.Errorf("schema %s: %w", path, err)
	}
	return nil
}
