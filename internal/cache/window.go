package cache

import (
	"sort"
	"sync"

	"aguacachat-sync/internal/models"
)

// Window is the in-memory slice of the open conversation's history, always
// sorted ascending by CreatedAt. Every mutation installs a fresh backing
// slice so snapshots handed to callers are never aliased by later updates.
type Window struct {
	mu   sync.RWMutex
	msgs []models.Message
}

// New creates an empty window.
func New() *Window {
	return &Window{}
}

// Reset discards all loaded messages.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = nil
}

// Snapshot returns a copy of the current ordered message list.
func (w *Window) Snapshot() []models.Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]models.Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}

// Len returns the number of loaded messages.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.msgs)
}

// Get looks a message up by id.
func (w *Window) Get(id string) (models.Message, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, m := range w.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return models.Message{}, false
}

// Oldest returns the first (oldest) loaded message.
func (w *Window) Oldest() (models.Message, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.msgs) == 0 {
		return models.Message{}, false
	}
	return w.msgs[0], true
}

// Newest returns the last (most recent) loaded message.
func (w *Window) Newest() (models.Message, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.msgs) == 0 {
		return models.Message{}, false
	}
	return w.msgs[len(w.msgs)-1], true
}

// RecentIDs returns the ids of the most recent n messages, newest last.
func (w *Window) RecentIDs(n int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	start := len(w.msgs) - n
	if start < 0 {
		start = 0
	}
	ids := make([]string, 0, len(w.msgs)-start)
	for _, m := range w.msgs[start:] {
		ids = append(ids, m.ID)
	}
	return ids
}

// Append inserts a message, keeping ascending CreatedAt order. New messages
// are chronologically newest almost always, so the common case is a plain
// append; an out-of-order arrival is placed by binary search. A message whose
// id is already present is ignored.
func (w *Window) Append(msg models.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.indexOf(msg.ID) >= 0 {
		return
	}
	next := make([]models.Message, len(w.msgs), len(w.msgs)+1)
	copy(next, w.msgs)
	pos := sort.Search(len(next), func(i int) bool {
		return next[i].CreatedAt.After(msg.CreatedAt)
	})
	next = append(next, models.Message{})
	copy(next[pos+1:], next[pos:])
	next[pos] = msg
	w.msgs = next
}

// Prepend inserts an older page (already ascending) in front of the loaded
// window, dropping any ids the window already holds.
func (w *Window) Prepend(page []models.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fresh := make([]models.Message, 0, len(page))
	for _, m := range page {
		if w.indexOf(m.ID) < 0 {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return
	}
	next := make([]models.Message, 0, len(fresh)+len(w.msgs))
	next = append(next, fresh...)
	next = append(next, w.msgs...)
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].CreatedAt.Before(next[j].CreatedAt)
	})
	w.msgs = next
}

// Patch applies the non-nil fields of a partial update to the message with
// the given id. SeenBy is merged as a union: members are never dropped while
// the message stays loaded. Unknown ids are a no-op.
func (w *Window) Patch(id string, patch models.MessagePatch) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.indexOf(id)
	if i < 0 {
		return false
	}
	next := make([]models.Message, len(w.msgs))
	copy(next, w.msgs)
	msg := next[i]
	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.Type != nil {
		msg.Type = *patch.Type
	}
	moved := false
	if patch.CreatedAt != nil && !patch.CreatedAt.Equal(msg.CreatedAt) {
		msg.CreatedAt = *patch.CreatedAt
		moved = true
	}
	if patch.SeenBy != nil {
		msg.SeenBy = unionSeen(msg.SeenBy, *patch.SeenBy)
	}
	if moved {
		// The new timestamp may not belong at the old slot; re-insert at the
		// sorted position.
		next = append(next[:i], next[i+1:]...)
		pos := sort.Search(len(next), func(j int) bool {
			return next[j].CreatedAt.After(msg.CreatedAt)
		})
		next = append(next, models.Message{})
		copy(next[pos+1:], next[pos:])
		next[pos] = msg
	} else {
		next[i] = msg
	}
	w.msgs = next
	return true
}

// AddSeen adds one viewer to a message's seen set.
func (w *Window) AddSeen(id, viewerID string) bool {
	seen := []string{viewerID}
	return w.Patch(id, models.MessagePatch{SeenBy: &seen})
}

// Remove deletes a message by id. Unknown ids are a no-op.
func (w *Window) Remove(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.indexOf(id)
	if i < 0 {
		return false
	}
	next := make([]models.Message, 0, len(w.msgs)-1)
	next = append(next, w.msgs[:i]...)
	next = append(next, w.msgs[i+1:]...)
	w.msgs = next
	return true
}

// Replace swaps a pending entry for its confirmed counterpart, preserving
// the slot the temp entry occupied so the UI does not jump.
func (w *Window) Replace(tempID string, confirmed models.Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.indexOf(tempID)
	if i < 0 {
		return false
	}
	// The confirmed row may race its own realtime INSERT; drop the duplicate
	// slot if the persisted id is already present.
	if j := w.indexOf(confirmed.ID); j >= 0 && confirmed.ID != tempID {
		next := make([]models.Message, 0, len(w.msgs)-1)
		next = append(next, w.msgs[:i]...)
		next = append(next, w.msgs[i+1:]...)
		w.msgs = next
		return true
	}
	next := make([]models.Message, len(w.msgs))
	copy(next, w.msgs)
	confirmed.Pending = false
	next[i] = confirmed
	w.msgs = next
	return true
}

func (w *Window) indexOf(id string) int {
	for i, m := range w.msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func unionSeen(current []string, incoming []string) []string {
	merged := make([]string, 0, len(current)+len(incoming))
	seen := make(map[string]struct{}, len(current)+len(incoming))
	for _, id := range current {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	for _, id := range incoming {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	return merged
}
