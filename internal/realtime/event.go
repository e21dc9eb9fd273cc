package realtime

import (
	"encoding/json"
	"errors"
	"time"
)

// Change event types delivered by the feed.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Table names carried on change events.
const (
	TableMessages      = "messages"
	TableConversations = "conversations"
)

var ErrMalformedEvent = errors.New("malformed change event")

// Event is one row-change notification, mirroring the wire shape of the
// backing store's change feed: the event type plus the new and/or old row
// images as raw JSON.
type Event struct {
	Type  string          `json:"type"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// MessageRow is the partial decode of a message row image. Upstream payloads
// are inconsistent about which fields they carry, so everything beyond the
// identifying pair is optional.
type MessageRow struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        *string    `json:"content"`
	Type           *string    `json:"message_type"`
	CreatedAt      *time.Time `json:"created_at"`
	SeenBy         *[]string  `json:"seen_by"`
}

// DecodeMessageRow decodes a row image, rejecting payloads without the
// identifying fields.
func DecodeMessageRow(raw json.RawMessage) (MessageRow, error) {
	if len(raw) == 0 {
		return MessageRow{}, ErrMalformedEvent
	}
	var row MessageRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return MessageRow{}, ErrMalformedEvent
	}
	if row.ID == "" || row.ConversationID == "" {
		return MessageRow{}, ErrMalformedEvent
	}
	return row, nil
}

// DeletedRow is the minimal decode of a DELETE event's old image.
type DeletedRow struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

// DecodeDeletedRow decodes the old image of a DELETE event.
func DecodeDeletedRow(raw json.RawMessage) (DeletedRow, error) {
	if len(raw) == 0 {
		return DeletedRow{}, ErrMalformedEvent
	}
	var row DeletedRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return DeletedRow{}, ErrMalformedEvent
	}
	if row.ID == "" {
		return DeletedRow{}, ErrMalformedEvent
	}
	return row, nil
}
