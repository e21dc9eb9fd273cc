package models

import (
	"database/sql"
	"time"
)

// Conversation represents a private conversation between exactly two users.
// CreatorID is the user who initiated it; Accepted records the recipient's
// consent. BlockedBy is set when either side blocks the other.
type Conversation struct {
	ID        string         `db:"id" json:"id"`
	CreatorID string         `db:"creator_id" json:"creator_id"`
	MemberID  string         `db:"member_id" json:"member_id"`
	Accepted  bool           `db:"accepted" json:"accepted"`
	Blocked   bool           `db:"blocked" json:"blocked"`
	BlockedBy sql.NullString `db:"blocked_by" json:"blocked_by,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// PeerFor returns the other participant's id.
func (c Conversation) PeerFor(viewerID string) string {
	if c.CreatorID == viewerID {
		return c.MemberID
	}
	return c.CreatorID
}

// ConversationSummary is the list-view projection of a conversation: the
// last message preview plus its timestamp, kept ordered by recency.
type ConversationSummary struct {
	ConversationID string      `db:"conversation_id" json:"conversation_id"`
	PeerID         string      `db:"peer_id" json:"peer_id"`
	LastContent    string      `db:"last_content" json:"last_content"`
	LastType       MessageType `db:"last_type" json:"last_type"`
	LastSenderID   string      `db:"last_sender_id" json:"last_sender_id"`
	LastAt         time.Time   `db:"last_at" json:"last_at"`
}

// Gating holds the per-conversation policy flags the session controller
// derives from conversation metadata and the loaded window.
type Gating struct {
	IsCreator bool   `json:"is_creator"`
	Accepted  bool   `json:"accepted"`
	Blocked   bool   `json:"blocked"`
	BlockedBy string `json:"blocked_by,omitempty"`
	SendLock  bool   `json:"send_lock"`
}

// CanSend reports whether the viewer may send at all under current gating.
func (g Gating) CanSend() bool {
	if g.Blocked {
		return false
	}
	if !g.Accepted && !g.IsCreator {
		return false
	}
	return !g.SendLock
}

// ClearMarker hides, for one viewer only, everything at or before the marked
// message. The underlying rows stay in the store.
type ClearMarker struct {
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	MessageID      string    `db:"message_id" json:"message_id"`
	ClearedAt      time.Time `db:"cleared_at" json:"cleared_at"`
}
