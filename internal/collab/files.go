package collab

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirWriter persists generated implementations and tests under a root
// directory, one subdirectory per tool.
type DirWriter struct {
	Root string
}

// NewDirWriter creates a writer rooted at the given directory
func NewDirWriter(root string) *DirWriter {
	return &DirWriter{Root: root}
}

func (w *DirWriter) WriteTool(ctx context.Context, tool, category, implementation, tests string) (string, string, error) {
	dir := filepath.Join(w.Root, category, tool)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", &ProcessingError{Tool: tool, Op: "write", Err: err}
	}

	name := identifier(tool)
	implPath := filepath.Join(dir, name+".py")
	if err := os.WriteFile(implPath, []byte(implementation), 0o644); err != nil {
		return "", "", &ProcessingError{Tool: tool, Op: "write implementation", Err: err}
	}

	testPath := filepath.Join(dir, "test_"+name+".py")
	if err := os.WriteFile(testPath, []byte(tests), 0o644); err != nil {
		return implPath, "", &ProcessingError{Tool: tool, Op: "write tests", Err: err}
	}

	return implPath, testPath, nil
}

// Validate checks the writer's root is usable
func (w *DirWriter) Validate() error {
	if w.Root == "" {
		return fmt.Errorf("output root is required")
	}
	return nil
}
