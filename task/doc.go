// Package task implements the task lifecycle manager: the authoritative
// state machine for units of work requested between agents.
//
// Transitions on a single task are serialized and totally ordered by the
// task's revision counter; transitions on different tasks proceed
// independently. Every accepted transition is handed, exactly once, to a
// constructor-injected sink.
package task
