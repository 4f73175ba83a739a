package state

import "fmt"

// Key and channel namespace shared by all roles. Everything the pipeline
// coordinates through lives under these names, so they are defined once here
// rather than scattered across the role packages.
const (
	// Queues
	QueuePending  = "queue:pending"  // tools awaiting assignment
	QueueOverflow = "queue:overflow" // retry/overflow queue any lane may drain
	QueueReview   = "queue:review"   // tools that passed gates, awaiting merge into completed

	// Sets
	SetBlocked = "blocked" // names of tools currently parked on a blocker

	// Event channels
	ChannelDevComplete  = "events:dev-complete"
	ChannelTested       = "events:tested"
	ChannelToolComplete = "events:complete"

	// Counters
	CounterCompleted   = "metrics:completed"
	CounterDocFailures = "metrics:doc-failures"

	// Aggregate snapshot record
	KeySnapshot = "metrics:snapshot"

	// Orchestrator liveness marker (TTL key)
	KeyOrchestratorHeartbeat = "orchestrator:heartbeat"
)

// ToolKey returns the hash record key for a tool
func ToolKey(name string) string {
	return "tool:" + name
}

// ToolKeyPattern matches every tool record
const ToolKeyPattern = "tool:*"

// ToolNameFromKey recovers the tool name from a tool record key
func ToolNameFromKey(key string) string {
	const prefix = "tool:"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}

// LaneQueue returns the per-lane assignment queue name
func LaneQueue(lane string) string {
	return "queue:lane:" + lane
}

// LaneClaimKey returns the busy-marker key for a lane. Its presence means
// the lane holds an active claim; clearing it is the reclamation guard.
func LaneClaimKey(lane string) string {
	return "lane:" + lane + ":claim"
}

// AssignmentKey returns the hash record key for a lane's current assignment
func AssignmentKey(lane string) string {
	return "assignment:" + lane
}

// BlockerKey returns the hash record key describing a tool's blocker
func BlockerKey(tool string) string {
	return "blocker:" + tool
}

// HistoryKey returns the metrics history record for an hour bucket
func HistoryKey(hour string) string {
	return fmt.Sprintf("metrics:history:%s", hour)
}

// HistoryKeyPattern matches every metrics history bucket
const HistoryKeyPattern = "metrics:history:*"

// Tool record field names
const (
	FieldStatus      = "status"
	FieldCategory    = "category"
	FieldLane        = "assigned_lane"
	FieldRetryCount  = "retry_count"
	FieldProgress    = "progress"
	FieldMockMode    = "mock_mode"
	FieldErrorKind   = "error_kind"
	FieldErrorMsg    = "error_message"
	FieldCreatedAt   = "created_at"
	FieldQueuedAt    = "queued_at"
	FieldAssignedAt  = "assigned_at"
	FieldStartedAt   = "started_at"
	FieldDevelopedAt = "developed_at"
	FieldTestedAt    = "tested_at"
	FieldCompletedAt = "completed_at"
)
