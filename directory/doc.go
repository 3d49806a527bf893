// Package directory implements the agent card directory: a keyed store of
// capability descriptors with a secondary capability index for task
// routing, plus a periodic liveness sweep that marks stale agents
// inactive. Cards are never hard-deleted.
package directory
