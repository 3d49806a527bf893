package task

import "errors"

var (
	// ErrUnknownTask indicates the task id is not in the table.
	ErrUnknownTask = errors.New("task: task not found")
	// ErrInvalidTransition indicates the requested transition is not an
	// edge of the lifecycle graph. The task is left untouched.
	ErrInvalidTransition = errors.New("task: invalid transition")
	// ErrNotAuthorized indicates a claim by an agent lacking the task's
	// capability tag.
	ErrNotAuthorized = errors.New("task: responder lacks capability")
	// ErrNoCapableAgent indicates no active agent advertises the task's
	// capability tag; the task is never stored.
	ErrNoCapableAgent = errors.New("task: no capable agent registered")
	// ErrInvalidTask indicates a create call with missing fields.
	ErrInvalidTask = errors.New("task: missing type or requester")
	// ErrManagerClosed indicates the manager has been closed.
	ErrManagerClosed = errors.New("task: manager is closed")
)

// TimeoutReason is the Err value set by the timeout sweep when a task is
// failed for exceeding its deadline.
const TimeoutReason = "timeout: task exceeded deadline"
