package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"aguacachat-sync/internal/cache"
	"aguacachat-sync/internal/mocks"
	"aguacachat-sync/internal/models"
	"aguacachat-sync/internal/realtime"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// viewStub is a fixed session view recording summary bumps.
type viewStub struct {
	mu      sync.Mutex
	convID  string
	userID  string
	bumped  []models.Message
}

func (v *viewStub) CurrentConversationID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.convID
}

func (v *viewStub) LocalUserID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.userID
}

func (v *viewStub) BumpSummary(msg models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bumped = append(v.bumped, msg)
}

func (v *viewStub) bumpCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.bumped)
}

func newTestReconciler(convID, userID string) (*Reconciler, *cache.Window, *mocks.ChatStoreMock, *viewStub) {
	window := cache.New()
	st := new(mocks.ChatStoreMock)
	view := &viewStub{convID: convID, userID: userID}
	return New(window, st, view, zap.NewNop().Sugar()), window, st, view
}

func insertEvent(id, convID, senderID, content string, at time.Time) realtime.Event {
	payload, _ := json.Marshal(map[string]any{
		"id":              id,
		"conversation_id": convID,
		"sender_id":       senderID,
		"content":         content,
		"message_type":    "text",
		"created_at":      at,
	})
	return realtime.Event{Type: realtime.EventInsert, Table: realtime.TableMessages, New: payload}
}

func TestInsertFromPeerAppends(t *testing.T) {
	r, window, _, view := newTestReconciler("conv-1", "alice")

	r.Apply(context.Background(), insertEvent("m1", "conv-1", "bob", "hey", base))

	require.Equal(t, 1, window.Len())
	got, _ := window.Get("m1")
	assert.Equal(t, "bob", got.SenderID)
	assert.Equal(t, 1, view.bumpCount())
}

func TestInsertFromLocalUserIsDiscarded(t *testing.T) {
	r, window, _, view := newTestReconciler("conv-1", "alice")

	// The optimistic entry already represents this row; appending the echo
	// would duplicate it.
	r.Apply(context.Background(), insertEvent("m1", "conv-1", "alice", "hey", base))

	assert.Equal(t, 0, window.Len())
	assert.Equal(t, 1, view.bumpCount())
}

func TestInsertForOtherConversationOnlyBumpsSummary(t *testing.T) {
	r, window, _, view := newTestReconciler("conv-1", "alice")

	r.Apply(context.Background(), insertEvent("m1", "conv-2", "bob", "hey", base))

	assert.Equal(t, 0, window.Len())
	assert.Equal(t, 1, view.bumpCount())
}

func TestUpdateWithSeenByPatchesPresentFieldsOnly(t *testing.T) {
	r, window, st, _ := newTestReconciler("conv-1", "alice")
	window.Append(models.Message{
		ID: "m1", ConversationID: "conv-1", SenderID: "bob",
		Content: "original", Type: models.MessageTypeText, CreatedAt: base,
	})

	payload, _ := json.Marshal(map[string]any{
		"id":              "m1",
		"conversation_id": "conv-1",
		"sender_id":       "bob",
		"seen_by":         []string{"alice"},
	})
	r.Apply(context.Background(), realtime.Event{
		Type: realtime.EventUpdate, Table: realtime.TableMessages, New: payload,
	})

	got, _ := window.Get("m1")
	assert.Equal(t, "original", got.Content)
	assert.Equal(t, []string{"alice"}, []string(got.SeenBy))
	st.AssertNotCalled(t, "GetMessage")
}

func TestUpdateWithoutSeenByFetchRepairs(t *testing.T) {
	r, window, st, _ := newTestReconciler("conv-1", "alice")
	window.Append(models.Message{
		ID: "m1", ConversationID: "conv-1", SenderID: "bob",
		Content: "stale", Type: models.MessageTypeText, CreatedAt: base,
	})

	st.On("GetMessage", context.Background(), "m1").Return(models.Message{
		ID: "m1", ConversationID: "conv-1", SenderID: "bob",
		Content: "repaired", Type: models.MessageTypeText, CreatedAt: base,
		SeenBy: []string{"alice", "carol"},
	}, nil)

	payload, _ := json.Marshal(map[string]any{
		"id":              "m1",
		"conversation_id": "conv-1",
		"sender_id":       "bob",
	})
	r.Apply(context.Background(), realtime.Event{
		Type: realtime.EventUpdate, Table: realtime.TableMessages, New: payload,
	})

	got, _ := window.Get("m1")
	assert.Equal(t, "repaired", got.Content)
	assert.ElementsMatch(t, []string{"alice", "carol"}, []string(got.SeenBy))
	st.AssertExpectations(t)
}

func TestUpdateFetchRepairSkippedAfterConversationSwitch(t *testing.T) {
	r, window, st, view := newTestReconciler("conv-1", "alice")
	window.Append(models.Message{
		ID: "m1", ConversationID: "conv-1", Content: "stale",
		Type: models.MessageTypeText, CreatedAt: base,
	})

	// The view switches away while the point fetch is in flight.
	st.On("GetMessage", context.Background(), "m1").
		Run(func(args mock.Arguments) {
			view.mu.Lock()
			view.convID = "conv-2"
			view.mu.Unlock()
		}).
		Return(models.Message{
			ID: "m1", ConversationID: "conv-1", Content: "repaired",
			Type: models.MessageTypeText, CreatedAt: base,
		}, nil)

	payload, _ := json.Marshal(map[string]any{
		"id":              "m1",
		"conversation_id": "conv-1",
		"sender_id":       "bob",
	})
	r.Apply(context.Background(), realtime.Event{
		Type: realtime.EventUpdate, Table: realtime.TableMessages, New: payload,
	})

	got, _ := window.Get("m1")
	assert.Equal(t, "stale", got.Content)
}

func TestUpdateNeverShrinksSeenBy(t *testing.T) {
	r, window, _, _ := newTestReconciler("conv-1", "alice")
	window.Append(models.Message{
		ID: "m1", ConversationID: "conv-1", SenderID: "bob",
		Content: "hi", Type: models.MessageTypeText, CreatedAt: base,
		SeenBy: []string{"alice"},
	})

	payload, _ := json.Marshal(map[string]any{
		"id":              "m1",
		"conversation_id": "conv-1",
		"sender_id":       "bob",
		"seen_by":         []string{"carol"},
	})
	r.Apply(context.Background(), realtime.Event{
		Type: realtime.EventUpdate, Table: realtime.TableMessages, New: payload,
	})

	got, _ := window.Get("m1")
	assert.ElementsMatch(t, []string{"alice", "carol"}, []string(got.SeenBy))
}

func TestDeleteRemovesFromOpenConversation(t *testing.T) {
	r, window, _, _ := newTestReconciler("conv-1", "alice")
	window.Append(models.Message{
		ID: "m1", ConversationID: "conv-1", Type: models.MessageTypeText, CreatedAt: base,
	})

	old, _ := json.Marshal(map[string]any{"id": "m1", "conversation_id": "conv-1"})
	r.Apply(context.Background(), realtime.Event{
		Type: realtime.EventDelete, Table: realtime.TableMessages, Old: old,
	})

	assert.Equal(t, 0, window.Len())
}

func TestMalformedEventsAreNoops(t *testing.T) {
	r, window, st, view := newTestReconciler("conv-1", "alice")
	window.Append(models.Message{
		ID: "m1", ConversationID: "conv-1", Type: models.MessageTypeText, CreatedAt: base,
	})

	events := []realtime.Event{
		{Type: realtime.EventInsert, Table: realtime.TableMessages},
		{Type: realtime.EventInsert, Table: realtime.TableMessages, New: json.RawMessage(`{"id":"x"}`)},
		{Type: realtime.EventUpdate, Table: realtime.TableMessages, New: json.RawMessage(`not json`)},
		{Type: realtime.EventDelete, Table: realtime.TableMessages, Old: json.RawMessage(`{}`)},
		{Type: "TRUNCATE", Table: realtime.TableMessages},
		{Type: realtime.EventInsert, Table: realtime.TableConversations, New: json.RawMessage(`{"id":"c"}`)},
	}
	for i, ev := range events {
		r.Apply(context.Background(), ev)
		assert.Equal(t, 1, window.Len(), fmt.Sprintf("event %d mutated the window", i))
	}
	assert.Equal(t, 0, view.bumpCount())
	st.AssertNotCalled(t, "GetMessage")
}

func TestRunConsumesQueueInOrder(t *testing.T) {
	r, window, _, _ := newTestReconciler("conv-1", "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for i := 0; i < 5; i++ {
		r.Enqueue(insertEvent(fmt.Sprintf("m%d", i), "conv-1", "bob", "hey", base.Add(time.Duration(i)*time.Second)))
	}

	require.Eventually(t, func() bool {
		return window.Len() == 5
	}, time.Second, 5*time.Millisecond)

	snap := window.Snapshot()
	for i, m := range snap {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.ID)
	}
}
