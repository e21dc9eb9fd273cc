package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"aguacachat-sync/internal/cache"
	"aguacachat-sync/internal/models"
	"aguacachat-sync/internal/observability"
	"aguacachat-sync/internal/realtime"
	"aguacachat-sync/internal/store"
)

// View is the slice of session state the reconciler reads and notifies. It
// is passed in explicitly so the reconciler never consults ambient globals.
type View interface {
	// CurrentConversationID returns the open conversation, or "" when none.
	CurrentConversationID() string
	// LocalUserID returns the viewer, or "" when logged out.
	LocalUserID() string
	// BumpSummary refreshes the conversation-list preview for any
	// conversation a message landed in.
	BumpSummary(msg models.Message)
}

// Reconciler applies change-feed events to the message window. Events enter
// a buffered queue consumed by one goroutine, which makes the at-most-one
// in-flight apply explicit: the UPDATE fetch-repair (a point read of the
// authoritative row) happens inline before the next event is touched.
type Reconciler struct {
	window *cache.Window
	st     store.ChatStore
	view   View
	log    *zap.SugaredLogger

	queue    chan realtime.Event
	applying atomic.Bool
}

const queueDepth = 256

// New builds a reconciler over the window and store.
func New(window *cache.Window, st store.ChatStore, view View, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		window: window,
		st:     st,
		view:   view,
		log:    log,
		queue:  make(chan realtime.Event, queueDepth),
	}
}

// Enqueue hands an event to the consumer loop. It is the realtime feed's
// Handler, so delivery order is preserved. A full queue drops the event and
// logs; the consistency sweep repairs whatever was missed.
func (r *Reconciler) Enqueue(ev realtime.Event) {
	select {
	case r.queue <- ev:
	default:
		r.log.Warnw("reconcile queue full, dropping event", "type", ev.Type)
		observability.IncRealtimeEvent(ev.Type, "dropped")
	}
}

// Run consumes the queue until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			r.Apply(ctx, ev)
		}
	}
}

// Apply processes one event. Exported so tests can drive the reconciler
// synchronously.
func (r *Reconciler) Apply(ctx context.Context, ev realtime.Event) {
	if !r.applying.CompareAndSwap(false, true) {
		// The queue has a single consumer; overlapping applies mean the
		// reconciler is being driven from two places at once.
		r.log.Warnw("overlapping reconcile apply", "type", ev.Type)
	}
	defer r.applying.Store(false)

	if ev.Table != realtime.TableMessages {
		observability.IncRealtimeEvent(ev.Type, "skipped")
		return
	}

	switch ev.Type {
	case realtime.EventInsert:
		r.applyInsert(ev)
	case realtime.EventUpdate:
		r.applyUpdate(ctx, ev)
	case realtime.EventDelete:
		r.applyDelete(ev)
	default:
		observability.IncRealtimeEvent(ev.Type, "malformed")
	}
}

// applyInsert bumps the conversation summary for any conversation, then
// appends to the window only when the insert targets the open conversation
// and the sender is not the local user. A local-sender insert is already
// represented by the optimistic entry, so it is discarded.
func (r *Reconciler) applyInsert(ev realtime.Event) {
	row, err := realtime.DecodeMessageRow(ev.New)
	if err != nil {
		r.log.Warnw("discarding malformed insert event", "error", err)
		observability.IncRealtimeEvent(ev.Type, "malformed")
		return
	}
	msg := rowToMessage(row)
	r.view.BumpSummary(msg)

	if row.ConversationID != r.view.CurrentConversationID() {
		observability.IncRealtimeEvent(ev.Type, "skipped")
		return
	}
	if local := r.view.LocalUserID(); local != "" && row.SenderID == local {
		observability.IncRealtimeEvent(ev.Type, "skipped")
		return
	}
	r.window.Append(msg)
	observability.IncRealtimeEvent(ev.Type, "applied")
}

// applyUpdate patches the targeted message with whichever fields the payload
// carries. Upstream update payloads are inconsistent: some carry only the
// seen mutation, some omit it entirely. When seen_by is absent the row is
// point-fetched and the authoritative result applied instead, still gated on
// the conversation being open at resumption.
func (r *Reconciler) applyUpdate(ctx context.Context, ev realtime.Event) {
	row, err := realtime.DecodeMessageRow(ev.New)
	if err != nil {
		r.log.Warnw("discarding malformed update event", "error", err)
		observability.IncRealtimeEvent(ev.Type, "malformed")
		return
	}
	if row.ConversationID != r.view.CurrentConversationID() {
		observability.IncRealtimeEvent(ev.Type, "skipped")
		return
	}

	if row.SeenBy == nil {
		fetched, err := r.st.GetMessage(ctx, row.ID)
		if err != nil {
			r.log.Warnw("update fetch-repair failed", "message_id", row.ID, "error", err)
			observability.IncRealtimeEvent(ev.Type, "error")
			return
		}
		if fetched.ConversationID != r.view.CurrentConversationID() {
			observability.IncRealtimeEvent(ev.Type, "skipped")
			return
		}
		seen := []string(fetched.SeenBy)
		r.window.Patch(row.ID, models.MessagePatch{
			Content:   &fetched.Content,
			Type:      &fetched.Type,
			CreatedAt: &fetched.CreatedAt,
			SeenBy:    &seen,
		})
		observability.IncRealtimeEvent(ev.Type, "applied")
		return
	}

	patch := models.MessagePatch{
		Content:   row.Content,
		CreatedAt: row.CreatedAt,
		SeenBy:    row.SeenBy,
	}
	if row.Type != nil {
		t := models.MessageType(*row.Type)
		patch.Type = &t
	}
	r.window.Patch(row.ID, patch)
	observability.IncRealtimeEvent(ev.Type, "applied")
}

func (r *Reconciler) applyDelete(ev realtime.Event) {
	row, err := realtime.DecodeDeletedRow(ev.Old)
	if err != nil {
		r.log.Warnw("discarding malformed delete event", "error", err)
		observability.IncRealtimeEvent(ev.Type, "malformed")
		return
	}
	if row.ConversationID != r.view.CurrentConversationID() {
		observability.IncRealtimeEvent(ev.Type, "skipped")
		return
	}
	r.window.Remove(row.ID)
	observability.IncRealtimeEvent(ev.Type, "applied")
}

func rowToMessage(row realtime.MessageRow) models.Message {
	msg := models.Message{
		ID:             row.ID,
		ConversationID: row.ConversationID,
		SenderID:       row.SenderID,
		Type:           models.MessageTypeText,
	}
	if row.Content != nil {
		msg.Content = *row.Content
	}
	if row.Type != nil {
		msg.Type = models.MessageType(*row.Type)
	}
	if row.CreatedAt != nil {
		msg.CreatedAt = *row.CreatedAt
	} else {
		msg.CreatedAt = time.Now().UTC()
	}
	if row.SeenBy != nil {
		msg.SeenBy = *row.SeenBy
	}
	return msg
}
