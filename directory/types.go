package directory

import (
	"slices"
	"time"
)

// AgentStatus represents the liveness state of a registered agent.
type AgentStatus string

const (
	// AgentActive indicates the agent has been seen within the liveness window.
	AgentActive AgentStatus = "active"
	// AgentInactive indicates the agent missed the liveness window. The card
	// is retained and reactivates on the next observed activity.
	AgentInactive AgentStatus = "inactive"
)

// AgentCard describes one agent: its immutable identity, the capability
// tags it advertises and where it can be reached.
type AgentCard struct {
	// AgentID is the unique, immutable identifier of the agent.
	AgentID string `json:"agent_id"`

	// Name is a human-readable display name.
	Name string `json:"name"`

	// Capabilities is the set of capability tags the agent advertises.
	Capabilities []string `json:"capabilities"`

	// Endpoint is the network endpoint the agent can be reached at.
	Endpoint string `json:"endpoint,omitempty"`

	// Status is the current liveness state.
	Status AgentStatus `json:"status"`

	// RegisteredAt is when the card first entered the directory.
	RegisteredAt time.Time `json:"registered_at"`

	// LastSeen is updated on any observed activity of the agent.
	LastSeen time.Time `json:"last_seen"`
}

// HasCapability reports whether the card advertises the given tag.
func (c *AgentCard) HasCapability(tag string) bool {
	return slices.Contains(c.Capabilities, tag)
}

// Validate checks that the card has all required fields.
func (c *AgentCard) Validate() error {
	if c.AgentID == "" {
		return ErrMissingAgentID
	}
	if c.Name == "" {
		return ErrMissingName
	}
	return nil
}

// clone returns a deep copy of the card.
func (c *AgentCard) clone() AgentCard {
	out := *c
	out.Capabilities = slices.Clone(c.Capabilities)
	return out
}
