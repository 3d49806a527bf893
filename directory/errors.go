package directory

import "errors"

// Card validation errors.
var (
	// ErrMissingAgentID indicates a card is missing an agent id.
	ErrMissingAgentID = errors.New("agent card: missing agent_id")
	// ErrMissingName indicates a card is missing a display name.
	ErrMissingName = errors.New("agent card: missing name")
)

// Directory errors.
var (
	// ErrDuplicateAgent indicates the agent id is already registered and active.
	ErrDuplicateAgent = errors.New("directory: agent already registered")
	// ErrUnknownAgent indicates the agent id is not registered.
	ErrUnknownAgent = errors.New("directory: agent not found")
)
