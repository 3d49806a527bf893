package broadcast

import "time"

// EventType identifies the kind of state change an Event records.
type EventType string

const (
	// EventAgentRegistered indicates a new agent card entered the directory.
	EventAgentRegistered EventType = "agent-registered"
	// EventTaskCreated indicates a task was created and reached Pending.
	EventTaskCreated EventType = "task-created"
	// EventTaskTransitioned indicates a non-terminal task transition.
	EventTaskTransitioned EventType = "task-transitioned"
	// EventTaskTerminal indicates a task reached a terminal status.
	EventTaskTerminal EventType = "task-terminal"
	// EventMessageRouted indicates a message was validated and delivered.
	EventMessageRouted EventType = "message-routed"
)

// Event is an immutable, globally ordered record of a state change.
// Sequence is assigned by the Broadcaster at publish time, is strictly
// increasing for the lifetime of the process and is never reused.
// Payload carries a snapshot of the task, message or agent card taken
// at emission time.
type Event struct {
	Sequence  uint64    `json:"sequence"`
	ID        string    `json:"event_id"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	EmittedAt time.Time `json:"emitted_at"`
}
