package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aguacachat-sync/internal/models"
)

func msgAt(id string, offset int) models.Message {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return models.Message{
		ID:             id,
		ConversationID: "conv-1",
		SenderID:       "alice",
		Content:        "m-" + id,
		Type:           models.MessageTypeText,
		CreatedAt:      base.Add(time.Duration(offset) * time.Second),
	}
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestWindowAppendKeepsAscendingOrder(t *testing.T) {
	w := New()
	w.Append(msgAt("b", 2))
	w.Append(msgAt("a", 1))
	w.Append(msgAt("d", 4))
	w.Append(msgAt("c", 3))

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(w.Snapshot()))
}

func TestWindowAppendIgnoresDuplicateID(t *testing.T) {
	w := New()
	w.Append(msgAt("a", 1))

	dup := msgAt("a", 99)
	dup.Content = "changed"
	w.Append(dup)

	require.Equal(t, 1, w.Len())
	got, ok := w.Get("a")
	require.True(t, ok)
	assert.Equal(t, "m-a", got.Content)
}

func TestWindowPrependMergesAndDedupes(t *testing.T) {
	w := New()
	w.Append(msgAt("c", 3))
	w.Append(msgAt("d", 4))

	w.Prepend([]models.Message{msgAt("a", 1), msgAt("b", 2), msgAt("c", 3)})

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(w.Snapshot()))
}

func TestWindowSnapshotIsNotAliased(t *testing.T) {
	w := New()
	w.Append(msgAt("a", 1))
	snap := w.Snapshot()

	w.AddSeen("a", "bob")

	assert.Empty(t, snap[0].SeenBy)
	got, _ := w.Get("a")
	assert.Equal(t, []string{"bob"}, []string(got.SeenBy))
}

func TestWindowPatchAppliesOnlyPresentFields(t *testing.T) {
	w := New()
	w.Append(msgAt("a", 1))

	content := "edited"
	require.True(t, w.Patch("a", models.MessagePatch{Content: &content}))

	got, _ := w.Get("a")
	assert.Equal(t, "edited", got.Content)
	assert.Equal(t, models.MessageTypeText, got.Type)
	assert.Equal(t, msgAt("a", 1).CreatedAt, got.CreatedAt)
}

func TestWindowPatchUnknownIDIsNoop(t *testing.T) {
	w := New()
	w.Append(msgAt("a", 1))

	content := "edited"
	assert.False(t, w.Patch("missing", models.MessagePatch{Content: &content}))
	assert.Equal(t, 1, w.Len())
}

func TestWindowPatchCreatedAtKeepsOrder(t *testing.T) {
	w := New()
	w.Append(msgAt("a", 1))
	w.Append(msgAt("b", 2))
	w.Append(msgAt("c", 3))

	// An edit may move a message's timestamp; the window must stay sorted.
	later := msgAt("a", 1).CreatedAt.Add(10 * time.Second)
	require.True(t, w.Patch("a", models.MessagePatch{CreatedAt: &later}))
	assert.Equal(t, []string{"b", "c", "a"}, ids(w.Snapshot()))

	earlier := msgAt("b", 2).CreatedAt.Add(-time.Minute)
	require.True(t, w.Patch("c", models.MessagePatch{CreatedAt: &earlier}))
	assert.Equal(t, []string{"c", "b", "a"}, ids(w.Snapshot()))
}

func TestWindowPatchSeenByIsMonotonicUnion(t *testing.T) {
	w := New()
	m := msgAt("a", 1)
	m.SeenBy = []string{"bob"}
	w.Append(m)

	// A stale snapshot missing bob must not shrink the set.
	stale := []string{"carol"}
	require.True(t, w.Patch("a", models.MessagePatch{SeenBy: &stale}))

	got, _ := w.Get("a")
	assert.ElementsMatch(t, []string{"bob", "carol"}, []string(got.SeenBy))
}

func TestWindowReplacePreservesSlot(t *testing.T) {
	w := New()
	w.Append(msgAt("a", 1))
	pending := msgAt("temp", 2)
	pending.Pending = true
	w.Append(pending)
	w.Append(msgAt("c", 3))

	confirmed := msgAt("real", 2)
	require.True(t, w.Replace("temp", confirmed))

	assert.Equal(t, []string{"a", "real", "c"}, ids(w.Snapshot()))
	got, _ := w.Get("real")
	assert.False(t, got.Pending)
}

func TestWindowReplaceCollapsesRacedDuplicate(t *testing.T) {
	w := New()
	pending := msgAt("temp", 1)
	pending.Pending = true
	w.Append(pending)
	// The realtime INSERT for the same row landed before the ack.
	w.Append(msgAt("real", 2))

	require.True(t, w.Replace("temp", msgAt("real", 2)))

	assert.Equal(t, []string{"real"}, ids(w.Snapshot()))
}

func TestWindowRecentIDs(t *testing.T) {
	w := New()
	for i := 0; i < 5; i++ {
		w.Append(msgAt(fmt.Sprintf("m%d", i), i))
	}

	assert.Equal(t, []string{"m3", "m4"}, w.RecentIDs(2))
	assert.Len(t, w.RecentIDs(50), 5)
}

func TestWindowRemove(t *testing.T) {
	w := New()
	w.Append(msgAt("a", 1))
	w.Append(msgAt("b", 2))

	assert.True(t, w.Remove("a"))
	assert.False(t, w.Remove("a"))
	assert.Equal(t, []string{"b"}, ids(w.Snapshot()))
}
