package strategy

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the immutable, priority-ordered set of templates.
// Order: descending leg count, then lexical name.
type Catalog struct {
	version   string
	templates []Template
	byName    map[string]int
}

type catalogFile struct {
	Version   string     `yaml:"version"`
	Templates []Template `yaml:"templates"`
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// DefaultCatalog returns the built-in catalog, parsed once per process.
// It panics if the embedded definition is invalid, which is a build defect.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = ParseCatalog(defaultCatalogYAML)
	})
	if defaultErr != nil {
		panic(fmt.Sprintf("strategy: embedded catalog is invalid: %v", defaultErr))
	}
	return defaultCatalog
}

// LoadCatalog reads a catalog definition from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- catalog path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog definition.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	c, err := NewCatalog(file.Templates)
	if err != nil {
		return nil, err
	}
	c.version = file.Version
	return c, nil
}

// NewCatalog validates templates and orders them by priority.
func NewCatalog(templates []Template) (*Catalog, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", ErrInvalidTemplate)
	}

	c := &Catalog{
		templates: make([]Template, 0, len(templates)),
		byName:    make(map[string]int, len(templates)),
	}
	seen := make(map[string]bool, len(templates))
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("%w: duplicate template name %q", ErrInvalidTemplate, t.Name)
		}
		seen[t.Name] = true
		c.templates = append(c.templates, t.Clone())
	}

	sort.SliceStable(c.templates, func(i, j int) bool {
		a, b := c.templates[i], c.templates[j]
		if len(a.Legs) != len(b.Legs) {
			return len(a.Legs) > len(b.Legs)
		}
		return a.Name < b.Name
	})
	for i, t := range c.templates {
		c.byName[t.Name] = i
	}
	return c, nil
}

// Version returns the catalog version string, if the definition declared one.
func (c *Catalog) Version() string {
	return c.version
}

// Len returns the number of templates.
func (c *Catalog) Len() int {
	return len(c.templates)
}

// Templates returns a deep copy of the templates in priority order.
func (c *Catalog) Templates() []Template {
	out := make([]Template, len(c.templates))
	for i, t := range c.templates {
		out[i] = t.Clone()
	}
	return out
}

// Each calls fn for every template in priority order until fn returns false.
// The template passed to fn shares storage with the catalog and must not be modified.
func (c *Catalog) Each(fn func(Template) bool) {
	for _, t := range c.templates {
		if !fn(t) {
			return
		}
	}
}

// Lookup returns the template with the given name.
func (c *Catalog) Lookup(name string) (Template, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Template{}, false
	}
	return c.templates[i].Clone(), true
}

// Priority returns the zero-based search rank of the named template, or -1.
func (c *Catalog) Priority(name string) int {
	i, ok := c.byName[name]
	if !ok {
		return -1
	}
	return i
}

// Names returns template names in priority order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.templates))
	for i, t := range c.templates {
		out[i] = t.Name
	}
	return out
}
