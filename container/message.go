package container

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a message on the container network.
type Kind int

const (
	KindNormal Kind = iota
	KindSystem
	KindError
	KindDebug
)

// String returns the kind's wire name.
func (k Kind) String() string {
	switch k {
	case KindNormal:
		return "normal"
	case KindSystem:
		return "system"
	case KindError:
		return "error"
	case KindDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// Priority is advisory metadata carried with a message. Delivery order is
// always send order; priority is for consumers that want to triage.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the priority's wire name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Message is one unit of inter-container communication. An empty To marks a
// broadcast.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Kind      Kind      `json:"kind"`
	Content   string    `json:"content"`
	Priority  Priority  `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a directed message with a fresh id, normal priority and
// the current time.
func NewMessage(from, to string, kind Kind, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Kind:      kind,
		Content:   content,
		Priority:  PriorityNormal,
		Timestamp: time.Now(),
	}
}

// NewBroadcast creates a message addressed to every registered container.
func NewBroadcast(from string, kind Kind, content string) Message {
	return NewMessage(from, "", kind, content)
}

// IsBroadcast reports whether the message has no single recipient.
func (m Message) IsBroadcast() bool {
	return m.To == ""
}

// WithPriority returns a copy carrying the given priority.
func (m Message) WithPriority(p Priority) Message {
	m.Priority = p
	return m
}
