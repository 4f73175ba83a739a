// Package collab defines the contracts of the external collaborators the
// pipeline delegates to: code generation, test generation, formatting,
// test running, and documentation generation. The coordinator only knows
// these interfaces; the engines behind them live elsewhere.
package collab

import (
	"context"

	"toolforge/internal/catalog"
)

// Request carries everything a collaborator needs about one tool
type Request struct {
	Tool     string
	Category string
	Spec     *catalog.ToolSpec
	MockMode bool
}

// Generator produces implementation content for a tool specification
type Generator interface {
	GenerateImplementation(ctx context.Context, req Request) (string, error)
}

// TestGenerator produces test content for an implementation
type TestGenerator interface {
	GenerateTests(ctx context.Context, req Request, implementation string) (string, error)
}

// Formatter formats a written file in place. Formatting failures are
// non-fatal everywhere in the pipeline: callers log and move on.
type Formatter interface {
	Format(ctx context.Context, path string) error
}

// FileWriter persists generated content
type FileWriter interface {
	WriteTool(ctx context.Context, tool, category, implementation, tests string) (implPath, testPath string, err error)
}

// TestReport is what the external test runner reports for a tool
type TestReport struct {
	Passed   bool     `json:"passed"`
	Coverage float64  `json:"coverage"`
	Errors   []string `json:"errors,omitempty"`
}

// TestRunner executes a tool's tests and reports coverage
type TestRunner interface {
	Run(ctx context.Context, tool, category string) (*TestReport, error)
}

// DocReport is what the external doc generator reports for a tool
type DocReport struct {
	Generated bool     `json:"generated"`
	Files     []string `json:"files,omitempty"`
}

// DocGenerator produces documentation for a completed tool
type DocGenerator interface {
	Generate(ctx context.Context, tool, category string) (*DocReport, error)
}

// Set bundles the development-stage collaborators a worker lane needs
type Set struct {
	Generator     Generator
	TestGenerator TestGenerator
	Formatter     Formatter
	Writer        FileWriter
}
