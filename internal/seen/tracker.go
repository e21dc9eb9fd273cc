package seen

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"aguacachat-sync/internal/cache"
	"aguacachat-sync/internal/observability"
	"aguacachat-sync/internal/store"
)

type key struct {
	messageID string
	viewerID  string
}

// Tracker issues at-most-once mark-seen mutations for messages that became
// visible on screen. A (message, viewer) pair enters the dedup buffer before
// its mutation is sent; on failure the pair is rolled back so a later
// visibility pass may retry. Mutations run sequentially, one awaited at a
// time, because concurrent read-modify-writes of the same row's seen array
// would lose entries under last-writer-wins.
type Tracker struct {
	st     store.ChatStore
	window *cache.Window
	log    *zap.SugaredLogger

	mu      sync.Mutex
	buffer  map[key]struct{}
	marking sync.Mutex
}

// NewTracker builds a tracker over the window and store.
func NewTracker(st store.ChatStore, window *cache.Window, log *zap.SugaredLogger) *Tracker {
	return &Tracker{
		st:     st,
		window: window,
		log:    log,
		buffer: make(map[key]struct{}),
	}
}

// Reset clears the dedup buffer, for a conversation switch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffer = make(map[key]struct{})
}

// Buffered reports whether the pair was already submitted this session.
func (t *Tracker) Buffered(messageID, viewerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.buffer[key{messageID, viewerID}]
	return ok
}

// MarkVisible processes one visibility pass: for every visible message that
// is not the viewer's own, not already seen, and not already buffered, issue
// a mark-seen mutation and patch the local seen set on success. Returns the
// number of mutations issued.
func (t *Tracker) MarkVisible(ctx context.Context, viewerID string, visibleIDs []string) int {
	if viewerID == "" {
		return 0
	}

	// One pass at a time keeps the mutations strictly sequential even when
	// focus and scroll events race a list change.
	t.marking.Lock()
	defer t.marking.Unlock()

	issued := 0
	for _, id := range visibleIDs {
		msg, ok := t.window.Get(id)
		if !ok {
			continue
		}
		if msg.Pending || msg.SenderID == viewerID || msg.SeenByUser(viewerID) {
			continue
		}
		if !t.claim(id, viewerID) {
			continue
		}

		if err := t.st.AddSeenBy(ctx, id, viewerID); err != nil {
			t.release(id, viewerID)
			t.log.Warnw("mark seen failed", "message_id", id, "error", err)
			observability.IncSeenMark("error")
			continue
		}
		t.window.AddSeen(id, viewerID)
		observability.IncSeenMark("ok")
		issued++
	}
	return issued
}

func (t *Tracker) claim(messageID, viewerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{messageID, viewerID}
	if _, ok := t.buffer[k]; ok {
		return false
	}
	t.buffer[k] = struct{}{}
	return true
}

func (t *Tracker) release(messageID, viewerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buffer, key{messageID, viewerID})
}
