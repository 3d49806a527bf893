package exchange

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// PartKind identifies the payload shape of a message part.
type PartKind string

const (
	PartText PartKind = "text"
	PartData PartKind = "data"
	PartFile PartKind = "file"
)

var validPartKinds = []PartKind{PartText, PartData, PartFile}

// Part is one typed segment of a message body.
type Part struct {
	Kind    PartKind `json:"kind"`
	Content any      `json:"content"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Content: text}
}

// DataPart builds a structured data part.
func DataPart(data map[string]any) Part {
	return Part{Kind: PartData, Content: data}
}

// FilePart builds a file reference part.
func FilePart(uri string) Part {
	return Part{Kind: PartFile, Content: uri}
}

// Message is the envelope exchanged between two agents. CorrelationID,
// when set, ties the message to the task the conversation is about;
// messages outside any task leave it empty.
type Message struct {
	ID            string    `json:"message_id"`
	CorrelationID string    `json:"correlation_id"`
	FromAgentID   string    `json:"from_agent_id"`
	ToAgentID     string    `json:"to_agent_id"`
	Parts         []Part    `json:"parts"`
	SentAt        time.Time `json:"sent_at"`
}

// NewMessage builds a message with a generated id and timestamp.
func NewMessage(correlationID, fromAgentID, toAgentID string, parts ...Part) *Message {
	return &Message{
		ID:            uuid.New().String(),
		CorrelationID: correlationID,
		FromAgentID:   fromAgentID,
		ToAgentID:     toAgentID,
		Parts:         parts,
		SentAt:        time.Now().UTC(),
	}
}

// Validate checks the envelope. All failures wrap ErrMalformedMessage.
func (m *Message) Validate() error {
	switch {
	case m == nil:
		return fmt.Errorf("%w: nil message", ErrMalformedMessage)
	case m.ID == "":
		return fmt.Errorf("%w: missing message_id", ErrMalformedMessage)
	case m.FromAgentID == "":
		return fmt.Errorf("%w: missing from_agent_id", ErrMalformedMessage)
	case m.ToAgentID == "":
		return fmt.Errorf("%w: missing to_agent_id", ErrMalformedMessage)
	case m.FromAgentID == m.ToAgentID:
		return fmt.Errorf("%w: sender and recipient are the same agent", ErrMalformedMessage)
	case len(m.Parts) == 0:
		return fmt.Errorf("%w: message has no parts", ErrMalformedMessage)
	}
	for i, p := range m.Parts {
		if !slices.Contains(validPartKinds, p.Kind) {
			return fmt.Errorf("%w: part %d has unknown kind %q", ErrMalformedMessage, i, p.Kind)
		}
	}
	return nil
}

// Clone returns a copy safe to mutate. Part contents are shared; parts
// slices are not.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Parts = slices.Clone(m.Parts)
	return &cp
}
