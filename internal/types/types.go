package types

import (
	"fmt"
	"strconv"
	"time"
)

// Tool represents one work item in the catalog: a wrapper tool that must be
// developed, quality-gated, and documented before it counts as complete.
type Tool struct {
	Name         string       `json:"name"`
	Category     string       `json:"category"`
	Status       Status       `json:"status"`
	AssignedLane string       `json:"assigned_lane,omitempty"`
	RetryCount   int          `json:"retry_count"`
	Progress     int          `json:"progress"` // 0-100 checkpoint percentage
	MockMode     bool         `json:"mock_mode"`
	Error        *ErrorRecord `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	QueuedAt     *time.Time   `json:"queued_at,omitempty"`
	AssignedAt   *time.Time   `json:"assigned_at,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	DevelopedAt  *time.Time   `json:"developed_at,omitempty"`
	TestedAt     *time.Time   `json:"tested_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// Validate checks if the tool has valid field values
func (t *Tool) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	if t.RetryCount < 0 {
		return fmt.Errorf("retry_count cannot be negative (got %d)", t.RetryCount)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100 (got %d)", t.Progress)
	}
	return nil
}

// Status represents the pipeline state of a tool
type Status string

const (
	StatusPending     Status = "pending"      // Awaiting assignment (on the pending queue)
	StatusQueued      Status = "queued"       // Pushed onto a lane queue, not yet picked up
	StatusAssigned    Status = "assigned"     // Claimed by a lane
	StatusInProgress  Status = "in_progress"  // Development phases running
	StatusNeedsReview Status = "needs_review" // Development done, awaiting quality gate
	StatusTested      Status = "tested"       // Passed the quality gate, awaiting docs
	StatusTestFailed  Status = "test_failed"  // Quality gate rejected the work
	StatusDocFailed   Status = "doc_failed"   // Documentation generation failed
	StatusBlocked     Status = "blocked"      // Parked on an external obstacle
	StatusCompleted   Status = "completed"    // Terminal: fully complete
	StatusFailed      Status = "failed"       // Terminal: permanently failed
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusAssigned, StatusInProgress,
		StatusNeedsReview, StatusTested, StatusTestFailed, StatusDocFailed,
		StatusBlocked, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a terminal state. Terminal tools
// are retained as the historical record and never requeued.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidTransitions defines the allowed status transitions for the tool
// pipeline state machine.
//
// State Machine Diagram:
//
//	pending → queued → assigned → in_progress → needs_review → tested → completed
//	                      ↓          ↓    ↓          ↓            ↓
//	                   blocked    blocked failed test_failed  doc_failed
//
// test_failed and doc_failed are re-enterable: they return to pending via
// requeue (bounded by the retry ceiling) or escalate to terminal failed.
// blocked always exits back to pending once the obstacle is resolved.
// queued, assigned and in_progress may also fall back to pending when a
// silent lane's claim is reclaimed.
func (s Status) ValidTransitions() []Status {
	switch s {
	case StatusPending:
		return []Status{StatusQueued}
	case StatusQueued:
		return []Status{StatusAssigned, StatusPending}
	case StatusAssigned:
		return []Status{StatusInProgress, StatusBlocked, StatusFailed, StatusPending}
	case StatusInProgress:
		return []Status{StatusNeedsReview, StatusFailed, StatusBlocked, StatusPending}
	case StatusNeedsReview:
		return []Status{StatusTested, StatusTestFailed}
	case StatusTested:
		return []Status{StatusCompleted, StatusDocFailed}
	case StatusTestFailed:
		return []Status{StatusPending, StatusFailed}
	case StatusDocFailed:
		return []Status{StatusPending, StatusFailed}
	case StatusBlocked:
		return []Status{StatusPending}
	case StatusCompleted:
		return []Status{} // Terminal state
	case StatusFailed:
		return []Status{} // Terminal state
	default:
		return []Status{}
	}
}

// CanTransitionTo checks if a transition from this status to the target is valid
func (s Status) CanTransitionTo(target Status) bool {
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// ErrorRecord is a structured error attached to a tool
type ErrorRecord struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ErrorRecord) String() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Error kind constants recorded on tools
const (
	KindSpecNotFound    = "spec_not_found"
	KindValidation      = "validation_error"
	KindGeneration      = "generation_error"
	KindProcessing      = "processing_error"
	KindQualityGate     = "quality_gate_failure"
	KindBlocker         = "blocker_condition"
	KindStuckAssignment = "stuck_assignment"
)

// Assignment is the ephemeral record of a lane's claim on a tool. It exists
// from the moment the orchestrator hands the tool to a lane until the lane
// finishes or the claim is reclaimed.
type Assignment struct {
	Tool       string    `json:"tool"`
	Lane       string    `json:"lane"`
	Category   string    `json:"category"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Validate checks if the assignment has valid field values
func (a *Assignment) Validate() error {
	if a.Tool == "" {
		return fmt.Errorf("tool is required")
	}
	if a.Lane == "" {
		return fmt.Errorf("lane is required")
	}
	if a.AssignedAt.IsZero() {
		return fmt.Errorf("assigned_at is required")
	}
	return nil
}

// Blocker records an external obstacle preventing a tool's progress. It
// exists only while the tool cannot proceed; the orchestrator resolves it
// or applies a workaround.
type Blocker struct {
	Tool       string    `json:"tool"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

// Snapshot is the aggregate metrics view recomputed each orchestrator cycle.
// Read-only for external observers.
type Snapshot struct {
	Completed  int       `json:"completed"`
	InProgress int       `json:"in_progress"`
	Pending    int       `json:"pending"`
	Failed     int       `json:"failed"`
	Blocked    int       `json:"blocked"`
	Total      int       `json:"total"`
	TakenAt    time.Time `json:"taken_at"`
}

// Done reports whether the catalog is fully complete. Exact equality is the
// contract: duplicate counting must never signal completion via overshoot.
func (s *Snapshot) Done() bool {
	return s.Total > 0 && s.Completed == s.Total
}

// FormatTime renders a timestamp for storage in a store field
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime parses a timestamp stored by FormatTime. Returns the zero time
// for empty input.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// FormatInt renders an int for storage in a store field
func FormatInt(n int) string { return strconv.Itoa(n) }

// ParseInt parses an int stored by FormatInt. Malformed or empty values
// parse as zero since store fields are last-write-wins strings.
func ParseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
