package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"aguacachat-sync/internal/identity"
	"aguacachat-sync/internal/models"
	"aguacachat-sync/internal/realtime"
	"aguacachat-sync/internal/storage"
	"aguacachat-sync/internal/store"
	"aguacachat-sync/internal/telemetry"
)

type ChatStoreMock struct {
	mock.Mock
}

func (m *ChatStoreMock) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ChatStoreMock) ListSummaries(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ChatStoreMock) SetAccepted(ctx context.Context, conversationID string, accepted bool) error {
	args := m.Called(ctx, conversationID, accepted)
	return args.Error(0)
}

func (m *ChatStoreMock) SetBlocked(ctx context.Context, conversationID string, blocked bool, blockedBy string) error {
	args := m.Called(ctx, conversationID, blocked, blockedBy)
	return args.Error(0)
}

func (m *ChatStoreMock) MessagePage(ctx context.Context, q store.MessagePageQuery) ([]models.Message, error) {
	args := m.Called(ctx, q)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatStoreMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatStoreMock) InsertMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	return stored, args.Error(1)
}

func (m *ChatStoreMock) DeleteMessage(ctx context.Context, messageID string, senderID string) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

func (m *ChatStoreMock) AddSeenBy(ctx context.Context, messageID string, viewerID string) error {
	args := m.Called(ctx, messageID, viewerID)
	return args.Error(0)
}

func (m *ChatStoreMock) SeenStates(ctx context.Context, messageIDs []string) ([]models.SeenState, error) {
	args := m.Called(ctx, messageIDs)
	var states []models.SeenState
	if val := args.Get(0); val != nil {
		states = val.([]models.SeenState)
	}
	return states, args.Error(1)
}

func (m *ChatStoreMock) ClearMarker(ctx context.Context, conversationID string, userID string) (*models.ClearMarker, error) {
	args := m.Called(ctx, conversationID, userID)
	var marker *models.ClearMarker
	if val := args.Get(0); val != nil {
		marker = val.(*models.ClearMarker)
	}
	return marker, args.Error(1)
}

func (m *ChatStoreMock) UpsertClearMarker(ctx context.Context, marker models.ClearMarker) error {
	args := m.Called(ctx, marker)
	return args.Error(0)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type FeedMock struct {
	mock.Mock
}

func (m *FeedMock) Subscribe(ctx context.Context, userID string, handler realtime.Handler) (func(), error) {
	args := m.Called(ctx, userID, handler)
	var cancel func()
	if val := args.Get(0); val != nil {
		cancel = val.(func())
	}
	return cancel, args.Error(1)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Upload(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, key, contentType, data)
	return args.String(0), args.Error(1)
}

// IdentityStub is a fixed-user identity for tests that never changes.
type IdentityStub struct {
	ID      string
	changes chan string
}

func NewIdentityStub(id string) *IdentityStub {
	return &IdentityStub{ID: id, changes: make(chan string, 1)}
}

func (s *IdentityStub) UserID() string         { return s.ID }
func (s *IdentityStub) Changes() <-chan string { return s.changes }
func (s *IdentityStub) Emit(id string)         { s.ID = id; s.changes <- id }

var (
	_ identity.Provider   = (*IdentityStub)(nil)
	_ store.ChatStore     = (*ChatStoreMock)(nil)
	_ telemetry.Publisher = (*PublisherMock)(nil)
	_ realtime.Feed       = (*FeedMock)(nil)
	_ storage.Uploader    = (*UploaderMock)(nil)
)
