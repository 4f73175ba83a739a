package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ExecTestRunner runs a tool's generated tests with pytest under coverage.
// The working directory is the tool's output directory, so imports resolve
// against the generated implementation.
type ExecTestRunner struct {
	// Python is the interpreter to invoke. Default "python3".
	Python string
	// Root is the generated-output root the tool directories live under
	Root string
}

// NewExecTestRunner creates a runner over the given output root
func NewExecTestRunner(root string) *ExecTestRunner {
	return &ExecTestRunner{Python: "python3", Root: root}
}

var coverageTotal = regexp.MustCompile(`(?m)^TOTAL\s+.*\s(\d+)%`)

func (r *ExecTestRunner) Run(ctx context.Context, tool, category string) (*TestReport, error) {
	dir := filepath.Join(r.Root, category, tool)

	python := r.Python
	if python == "" {
		python = "python3"
	}
	cmd := exec.CommandContext(ctx, python, "-m", "pytest", "--cov=.", "--cov-report=term", ".")
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	report := &TestReport{Passed: err == nil}

	if m := coverageTotal.FindSubmatch(out.Bytes()); m != nil {
		pct, parseErr := strconv.ParseFloat(string(m[1]), 64)
		if parseErr == nil {
			report.Coverage = pct
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			// pytest never ran at all (missing interpreter, bad dir)
			return nil, &ProcessingError{Tool: tool, Op: "run tests", Err: err}
		}
		report.Errors = tailLines(out.String(), 10)
	}
	return report, nil
}

// ExecFormatter shells out to a code formatter (black by default)
type ExecFormatter struct {
	// Command and Args form the formatter invocation; the file path is
	// appended. Defaults to "black -q".
	Command string
	Args    []string
}

// NewExecFormatter creates a formatter using black
func NewExecFormatter() *ExecFormatter {
	return &ExecFormatter{Command: "black", Args: []string{"-q"}}
}

func (f *ExecFormatter) Format(ctx context.Context, path string) error {
	command := f.Command
	if command == "" {
		command = "black"
	}
	args := append(append([]string{}, f.Args...), path)
	cmd := exec.CommandContext(ctx, command, args...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %v: %s", command, path, err, strings.TrimSpace(out.String()))
	}
	return nil
}

// tailLines returns up to n trailing non-empty lines of s
func tailLines(s string, n int) []string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := make([]string, 0, n)
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept
}
