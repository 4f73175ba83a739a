package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entry is one tool in the catalog manifest. The catalog is the fixed,
// authoritative list of work: its length is the completion target, and no
// component may use any other total.
type Entry struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

// Catalog is the static list of tools loaded once at startup
type Catalog struct {
	Entries []Entry `yaml:"tools"`
}

// Size returns the authoritative catalog size used for completion detection
func (c *Catalog) Size() int {
	return len(c.Entries)
}

// Load reads a catalog manifest from a YAML file
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a catalog manifest and validates it
func Parse(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(cat.Entries) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	seen := make(map[string]bool, len(cat.Entries))
	for i, e := range cat.Entries {
		if e.Name == "" {
			return nil, fmt.Errorf("catalog entry %d has no name", i)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("duplicate catalog entry: %s", e.Name)
		}
		seen[e.Name] = true
	}
	return &cat, nil
}
