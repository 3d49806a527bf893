package exchange

import "errors"

var (
	// ErrMalformedMessage indicates a message failed envelope validation.
	ErrMalformedMessage = errors.New("exchange: malformed message")

	// ErrUnknownAgent indicates the sender or recipient is not registered.
	ErrUnknownAgent = errors.New("exchange: unknown agent")

	// ErrInvalidCorrelation indicates the correlation id does not resolve
	// to an active task.
	ErrInvalidCorrelation = errors.New("exchange: correlation does not resolve to an active task")

	// ErrDeliveryFailed indicates the recipient has no handler attached or
	// its handler failed.
	ErrDeliveryFailed = errors.New("exchange: delivery failed")
)
