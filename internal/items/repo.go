// Package items provides the record layer over the shared state store: one
// hash record per tool, read and written by whichever role currently owns
// the tool's pipeline stage.
package items

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"toolforge/internal/state"
	"toolforge/internal/types"
)

// ErrPrecondition is returned by Transition when the tool's current status
// is not the expected precondition. Consumers use the status field as a
// soft lock: whoever observes the stale precondition simply drops the work,
// which is what makes the event path and the reconciliation sweep safe to
// run concurrently.
var ErrPrecondition = errors.New("tool status does not match precondition")

// ErrIllegalTransition is returned when a requested transition is not in
// the pipeline's allowed graph.
var ErrIllegalTransition = errors.New("illegal status transition")

// Repo reads and writes tool records
type Repo struct {
	store state.Store
}

// NewRepo creates a record layer over the given store
func NewRepo(store state.Store) *Repo {
	return &Repo{store: store}
}

// Get loads a tool record. Returns state.ErrNotFound if no record exists.
func (r *Repo) Get(ctx context.Context, name string) (*types.Tool, error) {
	fields, err := r.store.GetAll(ctx, state.ToolKey(name))
	if err != nil {
		return nil, fmt.Errorf("failed to load tool %s: %w", name, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("tool %s: %w", name, state.ErrNotFound)
	}
	return fromFields(name, fields), nil
}

// List loads every tool record in the store
func (r *Repo) List(ctx context.Context) ([]*types.Tool, error) {
	keys, err := r.store.Scan(ctx, state.ToolKeyPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan tool records: %w", err)
	}
	tools := make([]*types.Tool, 0, len(keys))
	for _, key := range keys {
		fields, err := r.store.GetAll(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		tools = append(tools, fromFields(state.ToolNameFromKey(key), fields))
	}
	return tools, nil
}

// ListByStatus returns every tool currently in the given status. This is
// the reconciliation sweep's precondition filter.
func (r *Repo) ListByStatus(ctx context.Context, status types.Status) ([]*types.Tool, error) {
	tools, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	matched := tools[:0]
	for _, t := range tools {
		if t.Status == status {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// Status returns just the status field of a tool
func (r *Repo) Status(ctx context.Context, name string) (types.Status, error) {
	val, err := r.store.GetField(ctx, state.ToolKey(name), state.FieldStatus)
	if err != nil {
		return "", fmt.Errorf("failed to read status of %s: %w", name, err)
	}
	return types.Status(val), nil
}

// Init writes a fresh tool record. Used only during catalog
// materialization; everything later goes through field updates.
func (r *Repo) Init(ctx context.Context, tool *types.Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}
	fields := map[string]string{
		state.FieldStatus:     string(tool.Status),
		state.FieldCategory:   tool.Category,
		state.FieldRetryCount: types.FormatInt(tool.RetryCount),
		state.FieldProgress:   types.FormatInt(tool.Progress),
		state.FieldMockMode:   strconv.FormatBool(tool.MockMode),
		state.FieldCreatedAt:  types.FormatTime(tool.CreatedAt),
	}
	if err := r.store.SetFields(ctx, state.ToolKey(tool.Name), fields); err != nil {
		return fmt.Errorf("failed to initialize tool %s: %w", tool.Name, err)
	}
	return nil
}

// Transition is the single idempotent state-transition function every
// pipeline path funnels through. It verifies the tool is currently in
// `from` (the soft lock), verifies the transition is legal, then writes the
// new status and its stage-entry timestamp.
//
// A race window remains between the read and the write: two consumers can
// both observe the precondition and both transition. The pipeline tolerates
// this by requiring collaborator operations to be idempotent; duplicate
// side effects, not corruption, are the accepted failure mode.
func (r *Repo) Transition(ctx context.Context, name string, from, to types.Status) error {
	current, err := r.Status(ctx, name)
	if err != nil {
		return err
	}
	if current != from {
		return fmt.Errorf("tool %s is %s, expected %s: %w", name, current, from, ErrPrecondition)
	}
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("tool %s: %s -> %s: %w", name, from, to, ErrIllegalTransition)
	}

	fields := map[string]string{state.FieldStatus: string(to)}
	if tsField := timestampField(to); tsField != "" {
		fields[tsField] = types.FormatTime(time.Now())
	}
	if err := r.store.SetFields(ctx, state.ToolKey(name), fields); err != nil {
		return fmt.Errorf("failed to transition %s to %s: %w", name, to, err)
	}
	return nil
}

// ForceStatus writes a status without a precondition check. Reserved for
// the orchestrator's blocker remediation, which must be able to unstick a
// tool no matter what state the record is in.
func (r *Repo) ForceStatus(ctx context.Context, name string, to types.Status) error {
	fields := map[string]string{state.FieldStatus: string(to)}
	if tsField := timestampField(to); tsField != "" {
		fields[tsField] = types.FormatTime(time.Now())
	}
	if err := r.store.SetFields(ctx, state.ToolKey(name), fields); err != nil {
		return fmt.Errorf("failed to set status of %s: %w", name, err)
	}
	return nil
}

// SetProgress writes the progress checkpoint percentage
func (r *Repo) SetProgress(ctx context.Context, name string, pct int) error {
	if err := r.store.SetField(ctx, state.ToolKey(name), state.FieldProgress, types.FormatInt(pct)); err != nil {
		return fmt.Errorf("failed to set progress of %s: %w", name, err)
	}
	return nil
}

// SetLane records which lane holds the tool (empty clears it)
func (r *Repo) SetLane(ctx context.Context, name, lane string) error {
	if err := r.store.SetField(ctx, state.ToolKey(name), state.FieldLane, lane); err != nil {
		return fmt.Errorf("failed to set lane of %s: %w", name, err)
	}
	return nil
}

// RecordError attaches a structured error to the tool record
func (r *Repo) RecordError(ctx context.Context, name, kind, message string) error {
	fields := map[string]string{
		state.FieldErrorKind: kind,
		state.FieldErrorMsg:  message,
	}
	if err := r.store.SetFields(ctx, state.ToolKey(name), fields); err != nil {
		return fmt.Errorf("failed to record error on %s: %w", name, err)
	}
	return nil
}

// ClearError removes any recorded error from the tool record
func (r *Repo) ClearError(ctx context.Context, name string) error {
	fields := map[string]string{
		state.FieldErrorKind: "",
		state.FieldErrorMsg:  "",
	}
	if err := r.store.SetFields(ctx, state.ToolKey(name), fields); err != nil {
		return fmt.Errorf("failed to clear error on %s: %w", name, err)
	}
	return nil
}

// SetMockMode flips the tool's mock-mode flag
func (r *Repo) SetMockMode(ctx context.Context, name string, on bool) error {
	if err := r.store.SetField(ctx, state.ToolKey(name), state.FieldMockMode, strconv.FormatBool(on)); err != nil {
		return fmt.Errorf("failed to set mock mode on %s: %w", name, err)
	}
	return nil
}

// IncrRetry increments the retry counter and returns the new value
func (r *Repo) IncrRetry(ctx context.Context, name string) (int, error) {
	count := types.ParseInt(mustField(ctx, r, name, state.FieldRetryCount)) + 1
	if err := r.store.SetField(ctx, state.ToolKey(name), state.FieldRetryCount, types.FormatInt(count)); err != nil {
		return 0, fmt.Errorf("failed to increment retry count of %s: %w", name, err)
	}
	return count, nil
}

// ResetRetry sets the retry counter back to zero
func (r *Repo) ResetRetry(ctx context.Context, name string) error {
	if err := r.store.SetField(ctx, state.ToolKey(name), state.FieldRetryCount, "0"); err != nil {
		return fmt.Errorf("failed to reset retry count of %s: %w", name, err)
	}
	return nil
}

func mustField(ctx context.Context, r *Repo, name, field string) string {
	val, err := r.store.GetField(ctx, state.ToolKey(name), field)
	if err != nil {
		return ""
	}
	return val
}

// timestampField maps a status to the stage-entry timestamp it stamps
func timestampField(s types.Status) string {
	switch s {
	case types.StatusQueued:
		return state.FieldQueuedAt
	case types.StatusAssigned:
		return state.FieldAssignedAt
	case types.StatusInProgress:
		return state.FieldStartedAt
	case types.StatusNeedsReview:
		return state.FieldDevelopedAt
	case types.StatusTested:
		return state.FieldTestedAt
	case types.StatusCompleted:
		return state.FieldCompletedAt
	default:
		return ""
	}
}

// fromFields rebuilds a Tool from its hash record
func fromFields(name string, fields map[string]string) *types.Tool {
	tool := &types.Tool{
		Name:         name,
		Category:     fields[state.FieldCategory],
		Status:       types.Status(fields[state.FieldStatus]),
		AssignedLane: fields[state.FieldLane],
		RetryCount:   types.ParseInt(fields[state.FieldRetryCount]),
		Progress:     types.ParseInt(fields[state.FieldProgress]),
	}
	tool.MockMode, _ = strconv.ParseBool(fields[state.FieldMockMode])
	if kind := fields[state.FieldErrorKind]; kind != "" {
		tool.Error = &types.ErrorRecord{Kind: kind, Message: fields[state.FieldErrorMsg]}
	}
	tool.CreatedAt, _ = types.ParseTime(fields[state.FieldCreatedAt])
	tool.QueuedAt = parseOptionalTime(fields[state.FieldQueuedAt])
	tool.AssignedAt = parseOptionalTime(fields[state.FieldAssignedAt])
	tool.StartedAt = parseOptionalTime(fields[state.FieldStartedAt])
	tool.DevelopedAt = parseOptionalTime(fields[state.FieldDevelopedAt])
	tool.TestedAt = parseOptionalTime(fields[state.FieldTestedAt])
	tool.CompletedAt = parseOptionalTime(fields[state.FieldCompletedAt])
	return tool
}

func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := types.ParseTime(s)
	if err != nil || t.IsZero() {
		return nil
	}
	return &t
}
