package broadcast

import "errors"

var (
	// ErrReplayUnavailable indicates the requested start sequence predates
	// the retention window; the caller must resynchronize from a snapshot.
	ErrReplayUnavailable = errors.New("broadcast: replay window expired")

	// ErrSubscriberOverflow indicates a subscriber's delivery buffer
	// overflowed and the subscriber was detached.
	ErrSubscriberOverflow = errors.New("broadcast: subscriber buffer overflow")

	// ErrClosed indicates the broadcaster has been closed.
	ErrClosed = errors.New("broadcast: broadcaster is closed")
)
