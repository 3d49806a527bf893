// Package exchange routes messages between registered agents.
//
// A message may carry a correlation id tying it to a task; when set it
// must resolve to an active task, and when empty the message is
// delivered outside any conversation. Routing validates the envelope,
// both endpoints and the correlation before handing the message to the
// recipient's handler. Delivery is at-least-once with a bounded dedup
// window, so handlers must tolerate replays of recently seen message
// ids.
package exchange
