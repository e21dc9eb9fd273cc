package models

import (
	"time"

	"github.com/lib/pq"
)

// MessageType enumerates the supported message content kinds. For every kind
// except text, Content holds a URL to externally stored media.
type MessageType string

const (
	MessageTypeText    MessageType = "text"
	MessageTypeImage   MessageType = "image"
	MessageTypeVideo   MessageType = "video"
	MessageTypeAudio   MessageType = "audio"
	MessageTypeStories MessageType = "stories"
)

// Direction says whether a message was sent by the local viewer or received
// from the other participant. It is derived, never persisted.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Message represents one unit of conversation content. Before the store
// acknowledges a send, ID carries a client-generated UUID and Pending is
// true; once acknowledged the window swaps it for the persisted row.
type Message struct {
	ID             string         `db:"id" json:"id"`
	ConversationID string         `db:"conversation_id" json:"conversation_id"`
	SenderID       string         `db:"sender_id" json:"sender_id"`
	Content        string         `db:"content" json:"content"`
	Type           MessageType    `db:"message_type" json:"message_type"`
	SeenBy         pq.StringArray `db:"seen_by" json:"seen_by"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	Pending        bool           `db:"-" json:"pending,omitempty"`
}

// DirectionFor derives the message direction for a viewer.
func (m Message) DirectionFor(viewerID string) Direction {
	if m.SenderID == viewerID {
		return DirectionSent
	}
	return DirectionReceived
}

// SeenByUser reports whether the viewer is already in the seen set.
func (m Message) SeenByUser(viewerID string) bool {
	for _, id := range m.SeenBy {
		if id == viewerID {
			return true
		}
	}
	return false
}

// MessagePatch carries the fields a partial update may change. Nil pointers
// mean "leave as is", so re-applying the same patch is idempotent.
type MessagePatch struct {
	Content   *string      `json:"content,omitempty"`
	Type      *MessageType `json:"message_type,omitempty"`
	CreatedAt *time.Time   `json:"created_at,omitempty"`
	SeenBy    *[]string    `json:"seen_by,omitempty"`
}

// SeenState is one row of the batched consistency sweep.
type SeenState struct {
	MessageID string         `db:"id" json:"id"`
	Content   string         `db:"content" json:"content"`
	SeenBy    pq.StringArray `db:"seen_by" json:"seen_by"`
}
