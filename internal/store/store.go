package store

import (
	"context"
	"errors"
	"time"

	"aguacachat-sync/internal/models"
)

var (
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
)

// MessagePageQuery describes one descending page fetch. Before bounds the
// page to rows strictly older than the cursor; After (the clearance pivot)
// bounds it to rows strictly newer. Limit is the raw row cap, so callers may
// over-fetch by one to probe for more history.
type MessagePageQuery struct {
	ConversationID string
	Before         *time.Time
	After          *time.Time
	Limit          int
}

// ChatStore is the remote data gateway: row CRUD plus the cursor-filterable
// page query the pagination controller drives.
type ChatStore interface {
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	ListSummaries(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	SetAccepted(ctx context.Context, conversationID string, accepted bool) error
	SetBlocked(ctx context.Context, conversationID string, blocked bool, blockedBy string) error

	MessagePage(ctx context.Context, q MessagePageQuery) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	InsertMessage(ctx context.Context, msg models.Message) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID string, senderID string) error

	AddSeenBy(ctx context.Context, messageID string, viewerID string) error
	SeenStates(ctx context.Context, messageIDs []string) ([]models.SeenState, error)

	ClearMarker(ctx context.Context, conversationID string, userID string) (*models.ClearMarker, error)
	UpsertClearMarker(ctx context.Context, marker models.ClearMarker) error
}
