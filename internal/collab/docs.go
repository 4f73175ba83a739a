package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"toolforge/internal/catalog"
)

// MarkdownDocGenerator renders a tool's documentation page from its spec
// file. Regenerating an existing page overwrites it, so the documentation
// stage stays idempotent.
type MarkdownDocGenerator struct {
	SpecDir string
	DocDir  string
}

// NewMarkdownDocGenerator creates a generator reading specs from specDir
// and writing pages under docDir.
func NewMarkdownDocGenerator(specDir, docDir string) *MarkdownDocGenerator {
	return &MarkdownDocGenerator{SpecDir: specDir, DocDir: docDir}
}

func (g *MarkdownDocGenerator) Generate(ctx context.Context, tool, category string) (*DocReport, error) {
	spec, err := catalog.LoadSpec(g.SpecDir, tool)
	if err != nil {
		// No spec means nothing to document; report a failure verdict
		// rather than an engine error.
		return &DocReport{Generated: false}, nil
	}

	if err := os.MkdirAll(g.DocDir, 0o755); err != nil {
		return nil, &ProcessingError{Tool: tool, Op: "create doc directory", Err: err}
	}

	path := filepath.Join(g.DocDir, tool+".md")
	if err := os.WriteFile(path, []byte(renderDoc(spec, category)), 0o644); err != nil {
		return nil, &ProcessingError{Tool: tool, Op: "write documentation", Err: err}
	}
	return &DocReport{Generated: true, Files: []string{path}}, nil
}

func renderDoc(spec *catalog.ToolSpec, category string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", spec.Name)
	fmt.Fprintf(&b, "Category: `%s`\n\n", category)
	fmt.Fprintf(&b, "%s\n", spec.Description)

	if len(spec.Parameters) > 0 {
		b.WriteString("\n## Parameters\n\n```json\n")
		b.Write(spec.Parameters)
		b.WriteString("\n```\n")
	}
	if len(spec.Returns) > 0 {
		b.WriteString("\n## Returns\n\n```json\n")
		b.Write(spec.Returns)
		b.WriteString("\n```\n")
	}
	if spec.Example != "" {
		fmt.Fprintf(&b, "\n## Example\n\n```python\n%s\n```\n", spec.Example)
	}
	return b.String()
}
