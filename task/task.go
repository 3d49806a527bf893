package task

import (
	"maps"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusCreated is the initial state, visible only inside Create.
	StatusCreated Status = "created"
	// StatusPending indicates the task awaits a claim by a capable responder.
	StatusPending Status = "pending"
	// StatusInProgress indicates a responder has claimed the task.
	StatusInProgress Status = "in_progress"
	// StatusCompleted indicates the responder delivered an output.
	StatusCompleted Status = "completed"
	// StatusFailed indicates a responder-reported error or a timeout.
	StatusFailed Status = "failed"
	// StatusCancelled indicates a caller-initiated cancellation.
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true for statuses no task ever leaves.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// validTransition reports whether from -> to is an edge of the lifecycle
// graph. Cancel is valid from any non-terminal state; Fail covers both
// responder-reported errors and the timeout sweep, so it is valid from
// Pending as well as InProgress.
func validTransition(from, to Status) bool {
	switch from {
	case StatusCreated:
		return to == StatusPending || to == StatusCancelled
	case StatusPending:
		return to == StatusInProgress || to == StatusFailed || to == StatusCancelled
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// Task is one unit of requested work between two agents. Instances
// handed out by the Manager are snapshots; the authoritative copy never
// leaves the Manager.
type Task struct {
	// ID is the unique identifier, generated at creation, immutable.
	ID string `json:"task_id"`

	// Type is the capability tag being invoked.
	Type string `json:"type"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// RequesterID is the agent that created the task.
	RequesterID string `json:"requester_agent_id"`

	// ResponderID is the agent that claimed the task, empty until claimed.
	ResponderID string `json:"responder_agent_id,omitempty"`

	// Input is the request payload.
	Input map[string]any `json:"input,omitempty"`

	// Output is the result payload, nil until the task completes.
	Output map[string]any `json:"output,omitempty"`

	// Err is the failure reason, empty unless the task failed.
	Err string `json:"error,omitempty"`

	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped on every accepted transition.
	UpdatedAt time.Time `json:"updated_at"`

	// Revision increments by exactly one per accepted transition and
	// orders events within the task.
	Revision uint64 `json:"revision"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	out := *t
	if t.Input != nil {
		out.Input = maps.Clone(t.Input)
	}
	if t.Output != nil {
		out.Output = maps.Clone(t.Output)
	}
	return &out
}
