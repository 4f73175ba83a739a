package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSpecNotFound is returned when a tool has no specification file.
// Tools without a spec fail permanently rather than retrying: a missing
// file will still be missing on the next attempt.
var ErrSpecNotFound = errors.New("tool specification not found")

// ErrSpecInvalid is returned when a specification file exists but cannot
// be parsed or fails validation. Like a missing file, a bad spec fails
// permanently: retrying reads the same broken file.
var ErrSpecInvalid = errors.New("tool specification invalid")

// ToolSpec is the per-tool JSON specification consumed by the generators
type ToolSpec struct {
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Returns     json.RawMessage `json:"returns,omitempty"`
	Example     string          `json:"example,omitempty"`
}

// Validate checks if the spec has valid field values
func (s *ToolSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("spec name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("spec for %s has no description", s.Name)
	}
	return nil
}

// LoadSpec reads the specification file for a tool from specDir.
// Returns ErrSpecNotFound (wrapped) if the file does not exist and
// ErrSpecInvalid (wrapped) if it exists but does not parse or validate.
func LoadSpec(specDir, name string) (*ToolSpec, error) {
	path := filepath.Join(specDir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSpecNotFound, path)
		}
		return nil, fmt.Errorf("failed to read spec %s: %w", path, err)
	}

	var spec ToolSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpecInvalid, path, err)
	}
	if spec.Name == "" {
		spec.Name = name
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpecInvalid, path, err)
	}
	return &spec, nil
}
