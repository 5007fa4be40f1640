package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Well-known participant identifiers.
const (
	// ManagerID is the sender id used for messages originating from the
	// collaboration manager rather than a registered participant.
	ManagerID = "__manager__"

	// Broadcast is the recipient sentinel that fans a message out to every
	// registered participant except the sender.
	Broadcast = "__broadcast__"
)

// Common message types. The Type field is an open tag; protocols constrain
// which tags are legal and in what order, but participants may use any value.
const (
	TypeTask     = "task"
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeCFP      = "cfp"
	TypeProposal = "proposal"
	TypeAward    = "award"
	TypeReject   = "reject"
	TypeBid      = "bid"
	TypeAccept   = "accept"
)

// Message is the immutable unit of communication between participants.
// A message is queued into exactly one mailbox (or fanned out for broadcast),
// consumed exactly once by its recipient, and never mutated after enqueue.
type Message struct {
	// ID is a unique identifier for this message, generated at creation.
	ID string

	// From is the sender's participant id, or ManagerID.
	From string

	// To is the recipient's participant id, or Broadcast.
	To string

	// Type identifies the message kind (e.g. "request", "cfp", "proposal").
	// Protocols validate legality of Type against accumulated phase state.
	Type string

	// Content is the opaque payload. The core never interprets it.
	Content any

	// Metadata holds optional annotations (priority, correlation ids, ...).
	Metadata map[string]any

	// Timestamp is the creation time; monotonically non-decreasing within
	// a run.
	Timestamp time.Time
}

// NewMessage creates a message with a generated ID and timestamp.
func NewMessage(from, to, msgType string, content any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Type:      msgType,
		Content:   content,
		Metadata:  make(map[string]any),
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata sets a metadata key and returns the message for chaining.
// It must only be used during construction, before the message is sent.
func (m *Message) WithMetadata(key string, value any) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
	return m
}

// GetMetadata retrieves a metadata value, returning def if absent.
func (m *Message) GetMetadata(key string, def any) any {
	if m.Metadata == nil {
		return def
	}
	if v, ok := m.Metadata[key]; ok {
		return v
	}
	return def
}

// GetMetadataString retrieves a metadata value as a string.
func (m *Message) GetMetadataString(key, def string) string {
	if s, ok := m.GetMetadata(key, def).(string); ok {
		return s
	}
	return def
}

// IsBroadcast reports whether the message targets all participants.
func (m *Message) IsBroadcast() bool {
	return m.To == Broadcast
}

// Clone returns a deep copy of the message metadata and a shallow copy of
// the content. Mailboxes hand out the original; Clone exists for callers
// that want to derive a new message from a received one.
func (m *Message) Clone() *Message {
	clone := &Message{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Type:      m.Type,
		Content:   m.Content,
		Metadata:  make(map[string]any, len(m.Metadata)),
		Timestamp: m.Timestamp,
	}
	for k, v := range m.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

// Reply constructs a response message addressed back to the sender.
func (m *Message) Reply(from, msgType string, content any) *Message {
	r := NewMessage(from, m.From, msgType, content)
	r.Metadata["in_reply_to"] = m.ID
	return r
}

// String returns a compact representation for logs.
func (m *Message) String() string {
	return fmt.Sprintf("Message{ID:%s, %s->%s, Type:%s}", m.ID, m.From, m.To, m.Type)
}
