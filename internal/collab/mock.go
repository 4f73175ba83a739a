package collab

import (
	"context"
	"fmt"
	"strings"
)

// Mock collaborators produce deterministic placeholder artifacts. They back
// two things: tools the orchestrator has switched into mock mode to work
// around a blocker, and full-pipeline runs in tests where no external
// engine is available.

// MockGenerator produces a stub implementation from the spec alone
type MockGenerator struct{}

func (MockGenerator) GenerateImplementation(ctx context.Context, req Request) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "\"\"\"%s: %s\"\"\"\n\n", req.Tool, specDescription(req))
	fmt.Fprintf(&b, "def %s(**kwargs):\n", identifier(req.Tool))
	b.WriteString("    # Mock implementation pending a real generator run\n")
	fmt.Fprintf(&b, "    return {\"tool\": %q, \"mock\": True, \"args\": kwargs}\n", req.Tool)
	return b.String(), nil
}

// MockTestGenerator produces a smoke test for the stub
type MockTestGenerator struct{}

func (MockTestGenerator) GenerateTests(ctx context.Context, req Request, implementation string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "from %s import %s\n\n\n", identifier(req.Tool), identifier(req.Tool))
	fmt.Fprintf(&b, "def test_%s_returns_mock_result():\n", identifier(req.Tool))
	fmt.Fprintf(&b, "    result = %s()\n", identifier(req.Tool))
	b.WriteString("    assert result[\"mock\"] is True\n")
	return b.String(), nil
}

// MockFormatter accepts every file untouched
type MockFormatter struct{}

func (MockFormatter) Format(ctx context.Context, path string) error { return nil }

// MockTestRunner reports a fixed verdict, configurable per test scenario
type MockTestRunner struct {
	Passed   bool
	Coverage float64
	Errors   []string
}

func (m MockTestRunner) Run(ctx context.Context, tool, category string) (*TestReport, error) {
	return &TestReport{Passed: m.Passed, Coverage: m.Coverage, Errors: m.Errors}, nil
}

// MockDocGenerator reports a fixed outcome
type MockDocGenerator struct {
	Generated bool
}

func (m MockDocGenerator) Generate(ctx context.Context, tool, category string) (*DocReport, error) {
	if !m.Generated {
		return &DocReport{Generated: false}, nil
	}
	return &DocReport{
		Generated: true,
		Files:     []string{fmt.Sprintf("docs/%s.md", tool)},
	}, nil
}

// MockSet returns a full mock development collaborator set writing through
// the given writer.
func MockSet(writer FileWriter) Set {
	return Set{
		Generator:     MockGenerator{},
		TestGenerator: MockTestGenerator{},
		Formatter:     MockFormatter{},
		Writer:        writer,
	}
}

func specDescription(req Request) string {
	if req.Spec != nil && req.Spec.Description != "" {
		return req.Spec.Description
	}
	return "generated wrapper tool"
}

// identifier turns a tool name into a usable symbol
func identifier(name string) string {
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name)
}
