package collab

import (
	"errors"
	"fmt"
)

// GenerationError indicates the generator collaborator failed to produce
// content. Recoverable: the worker's auto-fix policy may requeue the tool
// up to the retry ceiling.
type GenerationError struct {
	Tool string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for %s: %v", e.Tool, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ProcessingError indicates a collaborator failed while processing already
// generated content (writing, testing). Recoverable like GenerationError.
type ProcessingError struct {
	Tool string
	Op   string
	Err  error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Tool, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// BlockerError indicates an external dependency is unavailable (missing
// credentials, rate limiting, service down). The tool is parked blocked
// rather than failed, and the orchestrator's rule table decides the
// workaround.
type BlockerError struct {
	Reason string
}

func (e *BlockerError) Error() string {
	return fmt.Sprintf("blocked: %s", e.Reason)
}

// AsBlocker extracts a BlockerError from an error chain
func AsBlocker(err error) (*BlockerError, bool) {
	var be *BlockerError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
