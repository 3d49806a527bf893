// Package protocol wires the agent directory, task lifecycle manager,
// message exchange and event broadcaster into one runtime.
//
// The orchestrator owns the composition rules: task transitions become
// sequenced events, task creation binds the message correlation, and a
// terminal task releases it. Components never call each other directly;
// everything crosses through here.
package protocol
