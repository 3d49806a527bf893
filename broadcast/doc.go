// Package broadcast implements the protocol event bus: a multi-producer,
// multi-consumer fan-out with a globally ordered sequence, a bounded
// in-memory retention window for replay, and per-subscriber bounded
// delivery buffers.
//
// Delivery favors liveness over completeness: a subscriber that cannot
// keep up is detached with an overflow reason instead of back-pressuring
// the publisher or the other subscribers.
package broadcast
