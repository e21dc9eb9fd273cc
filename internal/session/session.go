package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"aguacachat-sync/internal/cache"
	"aguacachat-sync/internal/identity"
	"aguacachat-sync/internal/models"
	"aguacachat-sync/internal/observability"
	"aguacachat-sync/internal/paging"
	"aguacachat-sync/internal/realtime"
	"aguacachat-sync/internal/reconcile"
	"aguacachat-sync/internal/seen"
	"aguacachat-sync/internal/storage"
	"aguacachat-sync/internal/store"
	"aguacachat-sync/internal/telemetry"
	"aguacachat-sync/internal/viewport"
)

// State is the conversation session lifecycle.
type State string

const (
	StateUnselected      State = "unselected"
	StateLoadingMetadata State = "loading_metadata"
	StateLoadingMessages State = "loading_messages"
	StateReady           State = "ready"
	StateBlocked         State = "blocked"
)

// Validation errors, rejected before any store call.
var (
	ErrNoConversation = errors.New("no conversation selected")
	ErrNoUser         = errors.New("no local user")
	ErrEmptyMessage   = errors.New("empty message")
	ErrBlocked        = errors.New("conversation is blocked")
	ErrNotAccepted    = errors.New("conversation not accepted")
	ErrSendLocked     = errors.New("waiting for the recipient to reply")
	ErrNoUploader     = errors.New("media uploads not configured")
)

// Options tunes the controller.
type Options struct {
	PageSize   int
	SweepEvery time.Duration
}

// Controller orchestrates one open conversation: selection, pagination,
// realtime reconciliation, seen receipts, scroll anchoring and gating. All
// cross-component state lives here and is handed to collaborators
// explicitly; there are no package-level singletons.
type Controller struct {
	st       store.ChatStore
	feed     realtime.Feed
	ident    identity.Provider
	notifier *telemetry.Notifier
	uploader storage.Uploader
	log      *zap.SugaredLogger
	opts     Options

	window  *cache.Window
	pager   *paging.Pager
	tracker *seen.Tracker
	anchor  *viewport.Anchor
	rec     *reconcile.Reconciler

	mu          sync.Mutex
	state       State
	conv        *models.Conversation
	pivot       *time.Time
	summaries   []models.ConversationSummary
	epoch       uint64
	focused     bool
	items       []viewport.Item
	metrics     viewport.Metrics
	hasViewport bool

	runCtx      context.Context
	cancelConv  context.CancelFunc
	unsubscribe func()
}

// New wires a controller. uploader may be nil when media uploads are
// disabled.
func New(st store.ChatStore, feed realtime.Feed, ident identity.Provider, notifier *telemetry.Notifier, uploader storage.Uploader, log *zap.SugaredLogger, opts Options) *Controller {
	window := cache.New()
	c := &Controller{
		st:       st,
		feed:     feed,
		ident:    ident,
		notifier: notifier,
		uploader: uploader,
		log:      log,
		opts:     opts,
		window:   window,
		pager:    paging.New(st, opts.PageSize),
		tracker:  seen.NewTracker(st, window, log),
		anchor:   viewport.NewAnchor(),
		state:    StateUnselected,
	}
	c.rec = reconcile.New(window, st, c, log)
	return c
}

// Start launches the reconciler loop, the user-keyed feed subscription and
// the identity watcher. It returns once the goroutines are running; ctx
// bounds the controller's whole lifetime.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	go c.rec.Run(ctx)
	go c.watchIdentity(ctx)

	if userID := c.ident.UserID(); userID != "" {
		if err := c.subscribe(ctx, userID); err != nil {
			return err
		}
		if err := c.RefreshSummaries(ctx); err != nil {
			c.log.Warnw("initial summary load failed", "error", err)
		}
	}
	return nil
}

func (c *Controller) subscribe(ctx context.Context, userID string) error {
	cancel, err := c.feed.Subscribe(ctx, userID, c.rec.Enqueue)
	if err != nil {
		return fmt.Errorf("subscribe realtime feed: %w", err)
	}
	c.mu.Lock()
	c.unsubscribe = cancel
	c.mu.Unlock()
	return nil
}

func (c *Controller) watchIdentity(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-c.ident.Changes():
			c.log.Infow("session identity changed", "user_id", userID)
			c.teardownAll()
			if userID != "" {
				if err := c.subscribe(ctx, userID); err != nil {
					c.log.Warnw("feed resubscribe failed", "error", err)
				}
				if err := c.RefreshSummaries(ctx); err != nil {
					c.log.Warnw("summary reload failed", "error", err)
				}
			}
		}
	}
}

// teardownAll drops every piece of open-conversation state, for logout or
// identity switch.
func (c *Controller) teardownAll() {
	c.mu.Lock()
	c.epoch++
	if c.cancelConv != nil {
		c.cancelConv()
		c.cancelConv = nil
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.conv = nil
	c.pivot = nil
	c.summaries = nil
	c.items = nil
	c.hasViewport = false
	c.setStateLocked(StateUnselected)
	c.mu.Unlock()

	c.window.Reset()
	c.pager.Reset()
	c.tracker.Reset()
	c.anchor.ForceBottom()
}

// Select opens a conversation: previous state is torn down, metadata is
// fetched, a blocked conversation short-circuits before any message load,
// otherwise the clearance pivot is resolved and the first page loaded. Any
// async result that resumes after another Select is discarded via the
// request epoch.
func (c *Controller) Select(ctx context.Context, conversationID string) error {
	ctx, span := otel.Tracer("aguacachat-sync/session").Start(ctx, "session.select")
	defer span.End()

	userID := c.ident.UserID()
	if userID == "" {
		return ErrNoUser
	}

	c.mu.Lock()
	c.epoch++
	myEpoch := c.epoch
	if c.cancelConv != nil {
		c.cancelConv()
		c.cancelConv = nil
	}
	c.conv = nil
	c.pivot = nil
	c.items = nil
	c.hasViewport = false
	c.setStateLocked(StateLoadingMetadata)
	c.mu.Unlock()

	c.window.Reset()
	c.pager.Reset()
	c.tracker.Reset()

	conv, err := c.st.GetConversation(ctx, conversationID)
	if err != nil {
		c.failSelect(myEpoch, "loading the conversation failed")
		return fmt.Errorf("load conversation: %w", err)
	}
	if c.stale(myEpoch) {
		return nil
	}

	if conv.Blocked {
		// Do not load messages at all: content must not leak to a blocked
		// party before access is re-evaluated.
		c.mu.Lock()
		if c.epoch == myEpoch {
			c.conv = &conv
			c.setStateLocked(StateBlocked)
		}
		c.mu.Unlock()
		return nil
	}

	pivot, err := c.resolvePivot(ctx, conversationID, userID)
	if err != nil {
		c.failSelect(myEpoch, "loading the conversation failed")
		return fmt.Errorf("resolve clear marker: %w", err)
	}
	if c.stale(myEpoch) {
		return nil
	}

	c.mu.Lock()
	if c.epoch != myEpoch {
		c.mu.Unlock()
		return nil
	}
	c.conv = &conv
	c.pivot = pivot
	c.setStateLocked(StateLoadingMessages)
	c.mu.Unlock()

	if err := c.loadInitial(ctx, myEpoch, conversationID, pivot); err != nil {
		c.failSelect(myEpoch, "loading messages failed")
		return err
	}
	if c.stale(myEpoch) {
		return nil
	}

	c.startSweep(myEpoch)
	c.anchor.ForceBottom()

	c.mu.Lock()
	if c.epoch == myEpoch {
		c.setStateLocked(StateReady)
	}
	c.mu.Unlock()

	c.markSeenPass(ctx)
	return nil
}

// resolvePivot resolves the viewer's clearance marker to a timestamp, once.
// When the marked message no longer exists, the clear time stands in.
func (c *Controller) resolvePivot(ctx context.Context, conversationID, userID string) (*time.Time, error) {
	marker, err := c.st.ClearMarker(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if marker == nil {
		return nil, nil
	}
	msg, err := c.st.GetMessage(ctx, marker.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			at := marker.ClearedAt
			return &at, nil
		}
		return nil, err
	}
	at := msg.CreatedAt
	return &at, nil
}

func (c *Controller) loadInitial(ctx context.Context, myEpoch uint64, conversationID string, pivot *time.Time) error {
	page, err := c.pager.LoadInitial(ctx, conversationID, pivot)
	if err != nil {
		return err
	}
	if c.stale(myEpoch) {
		return nil
	}
	c.window.Reset()
	c.window.Prepend(page)
	observability.IncPageLoad("initial")
	return nil
}

func (c *Controller) startSweep(myEpoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != myEpoch || c.runCtx == nil {
		return
	}
	convCtx, cancel := context.WithCancel(c.runCtx)
	c.cancelConv = cancel
	sweeper := seen.NewSweeper(c.st, c.window, c.opts.SweepEvery, c.log)
	go sweeper.Run(convCtx)
}

func (c *Controller) failSelect(myEpoch uint64, notice string) {
	c.mu.Lock()
	if c.epoch == myEpoch {
		c.setStateLocked(StateUnselected)
	}
	c.mu.Unlock()
	c.notify(notice)
}

// LoadOlder pages older history in. pre is the scroll measurement taken
// before the fetch, so the anchor can keep the reading position stable once
// the UI reflects the prepended page. Calls while a fetch is in flight are
// no-ops.
func (c *Controller) LoadOlder(ctx context.Context, pre viewport.Metrics) (loaded bool, err error) {
	c.mu.Lock()
	if c.conv == nil || c.state != StateReady {
		c.mu.Unlock()
		return false, nil
	}
	conversationID := c.conv.ID
	myEpoch := c.epoch
	c.mu.Unlock()

	page, loaded, err := c.pager.LoadOlder(ctx, conversationID)
	if err != nil {
		c.notify("loading older messages failed")
		return false, err
	}
	if !loaded || c.stale(myEpoch) {
		return false, nil
	}

	c.anchor.BeforePrepend(pre)
	c.window.Prepend(page)
	observability.IncPageLoad("older")
	return true, nil
}

// Send validates, appends an optimistic pending entry, then persists it.
// The pending entry is swapped for the stored row on success and rolled
// back on failure, leaving no partial state behind.
func (c *Controller) Send(ctx context.Context, content string) (models.Message, error) {
	return c.send(ctx, content, models.MessageTypeText)
}

// SendMedia uploads a blob and sends a message whose content is the public
// URL of the uploaded object.
func (c *Controller) SendMedia(ctx context.Context, filename, contentType string, data []byte, msgType models.MessageType) (models.Message, error) {
	if c.uploader == nil {
		return models.Message{}, ErrNoUploader
	}
	userID := c.ident.UserID()
	if userID == "" {
		return models.Message{}, ErrNoUser
	}
	key := fmt.Sprintf("media/%s/%s-%s", userID, uuid.NewString(), filename)
	url, err := c.uploader.Upload(ctx, key, contentType, data)
	if err != nil {
		c.notify("uploading media failed")
		return models.Message{}, fmt.Errorf("upload media: %w", err)
	}
	return c.send(ctx, url, msgType)
}

func (c *Controller) send(ctx context.Context, content string, msgType models.MessageType) (models.Message, error) {
	ctx, span := otel.Tracer("aguacachat-sync/session").Start(ctx, "session.send")
	defer span.End()

	userID := c.ident.UserID()
	if userID == "" {
		return models.Message{}, ErrNoUser
	}
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.conv == nil {
		c.mu.Unlock()
		return models.Message{}, ErrNoConversation
	}
	conversationID := c.conv.ID
	myEpoch := c.epoch
	gating := c.gatingLocked(userID)
	c.mu.Unlock()

	if err := sendError(gating); err != nil {
		return models.Message{}, err
	}

	pending := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        content,
		Type:           msgType,
		CreatedAt:      time.Now().UTC(),
		Pending:        true,
	}
	c.window.Append(pending)

	stored, err := c.st.InsertMessage(ctx, pending)
	if err != nil {
		// Roll the optimistic entry back; the window sized before the send
		// is exactly the window after.
		c.window.Remove(pending.ID)
		c.notify("sending the message failed")
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if c.stale(myEpoch) {
		// The conversation switched mid-send; the optimistic entry is
		// already gone with the reset window.
		return stored, nil
	}
	c.window.Replace(pending.ID, stored)
	c.BumpSummary(stored)
	return stored, nil
}

func sendError(g models.Gating) error {
	if g.Blocked {
		return ErrBlocked
	}
	if !g.Accepted && !g.IsCreator {
		return ErrNotAccepted
	}
	if g.SendLock {
		return ErrSendLocked
	}
	return nil
}

// DeleteMessage removes one of the viewer's own messages, locally and
// remotely.
func (c *Controller) DeleteMessage(ctx context.Context, messageID string) error {
	userID := c.ident.UserID()
	if userID == "" {
		return ErrNoUser
	}
	if err := c.st.DeleteMessage(ctx, messageID, userID); err != nil {
		c.notify("deleting the message failed")
		return fmt.Errorf("delete message: %w", err)
	}
	c.window.Remove(messageID)
	return nil
}

// Accept records the recipient's consent. No message reload is needed; the
// loaded window is already the right one.
func (c *Controller) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.conv == nil {
		c.mu.Unlock()
		return ErrNoConversation
	}
	conversationID := c.conv.ID
	c.mu.Unlock()

	if err := c.st.SetAccepted(ctx, conversationID, true); err != nil {
		c.notify("accepting the conversation failed")
		return fmt.Errorf("accept conversation: %w", err)
	}
	c.mu.Lock()
	if c.conv != nil && c.conv.ID == conversationID {
		c.conv.Accepted = true
	}
	c.mu.Unlock()
	return nil
}

// Reject declines a conversation request. There is no dedicated rejection
// mechanism upstream; rejecting blocks the conversation with the viewer as
// the block owner.
func (c *Controller) Reject(ctx context.Context) error {
	return c.Block(ctx)
}

// Block blocks the open conversation and drops into the blocked state
// without keeping any loaded messages around.
func (c *Controller) Block(ctx context.Context) error {
	userID := c.ident.UserID()
	if userID == "" {
		return ErrNoUser
	}
	c.mu.Lock()
	if c.conv == nil {
		c.mu.Unlock()
		return ErrNoConversation
	}
	conversationID := c.conv.ID
	c.mu.Unlock()

	if err := c.st.SetBlocked(ctx, conversationID, true, userID); err != nil {
		c.notify("blocking the conversation failed")
		return fmt.Errorf("block conversation: %w", err)
	}

	c.mu.Lock()
	c.epoch++
	if c.cancelConv != nil {
		c.cancelConv()
		c.cancelConv = nil
	}
	if c.conv != nil && c.conv.ID == conversationID {
		c.conv.Blocked = true
		c.conv.BlockedBy.String = userID
		c.conv.BlockedBy.Valid = true
	}
	c.setStateLocked(StateBlocked)
	c.mu.Unlock()

	c.window.Reset()
	c.pager.Reset()
	c.tracker.Reset()
	return nil
}

// Unblock lifts the block and reloads the conversation the same way a fresh
// selection would: clearance pivot re-resolved, initial page re-fetched.
func (c *Controller) Unblock(ctx context.Context) error {
	c.mu.Lock()
	if c.conv == nil {
		c.mu.Unlock()
		return ErrNoConversation
	}
	conversationID := c.conv.ID
	c.mu.Unlock()

	if err := c.st.SetBlocked(ctx, conversationID, false, ""); err != nil {
		c.notify("unblocking the conversation failed")
		return fmt.Errorf("unblock conversation: %w", err)
	}
	return c.Select(ctx, conversationID)
}

// ClearHistory sets the viewer's clearance pivot to the newest loaded
// message and reloads the initial page, hiding everything at or before it
// for this viewer only. An older concurrent marker loses the upsert.
func (c *Controller) ClearHistory(ctx context.Context) error {
	userID := c.ident.UserID()
	if userID == "" {
		return ErrNoUser
	}
	c.mu.Lock()
	if c.conv == nil {
		c.mu.Unlock()
		return ErrNoConversation
	}
	conversationID := c.conv.ID
	myEpoch := c.epoch
	c.mu.Unlock()

	newest, ok := c.window.Newest()
	if !ok {
		return nil
	}
	marker := models.ClearMarker{
		ConversationID: conversationID,
		UserID:         userID,
		MessageID:      newest.ID,
		ClearedAt:      time.Now().UTC(),
	}
	if err := c.st.UpsertClearMarker(ctx, marker); err != nil {
		c.notify("clearing the chat failed")
		return fmt.Errorf("upsert clear marker: %w", err)
	}

	pivot := newest.CreatedAt
	c.mu.Lock()
	if c.epoch == myEpoch {
		c.pivot = &pivot
	}
	c.mu.Unlock()

	c.pager.Reset()
	if err := c.loadInitial(ctx, myEpoch, conversationID, &pivot); err != nil {
		// The marker is already persisted; the session stays where it is and
		// the window simply has not been reloaded yet.
		c.notify("reloading the cleared chat failed")
		return err
	}
	return nil
}

// Gating derives the current policy flags, including the creator send-lock:
// an unaccepted conversation's creator who has already sent a message may
// not send again until a received-direction message shows up in the window.
func (c *Controller) Gating() models.Gating {
	userID := c.ident.UserID()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gatingLocked(userID)
}

func (c *Controller) gatingLocked(userID string) models.Gating {
	if c.conv == nil {
		return models.Gating{}
	}
	g := models.Gating{
		IsCreator: c.conv.CreatorID == userID,
		Accepted:  c.conv.Accepted,
		Blocked:   c.conv.Blocked,
		BlockedBy: c.conv.BlockedBy.String,
	}
	if g.IsCreator && !g.Accepted {
		sent, received := 0, 0
		for _, m := range c.window.Snapshot() {
			switch m.DirectionFor(userID) {
			case models.DirectionSent:
				sent++
			case models.DirectionReceived:
				received++
			}
		}
		g.SendLock = sent >= 1 && received == 0
	}
	return g
}

// OnFocus reports window focus; gaining focus triggers a seen pass.
func (c *Controller) OnFocus(ctx context.Context, focused bool) {
	c.mu.Lock()
	c.focused = focused
	c.mu.Unlock()
	if focused {
		c.markSeenPass(ctx)
	}
}

// OnScroll feeds a scroll measurement to the anchor and runs a seen pass
// over the currently reported layout.
func (c *Controller) OnScroll(ctx context.Context, m viewport.Metrics) {
	c.anchor.OnScroll(m)
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
	c.markSeenPass(ctx)
}

// OnLayout is the UI's post-render callback: it records the new geometry,
// resolves the scroll position (prepend restore beats stick-to-bottom) and
// runs a seen pass. The returned scrollTop applies only when ok is true.
func (c *Controller) OnLayout(ctx context.Context, items []viewport.Item, m viewport.Metrics, appended bool) (scrollTop float64, ok bool) {
	c.mu.Lock()
	c.items = items
	c.metrics = m
	c.hasViewport = true
	c.mu.Unlock()

	scrollTop, ok = c.anchor.AfterLayout(m, appended)
	c.markSeenPass(ctx)
	return scrollTop, ok
}

// markSeenPass enumerates visible, unseen, non-own messages and marks them,
// skipping entirely when the window is unfocused or nobody is logged in.
func (c *Controller) markSeenPass(ctx context.Context) {
	userID := c.ident.UserID()
	c.mu.Lock()
	focused := c.focused
	hasViewport := c.hasViewport
	items := c.items
	metrics := c.metrics
	c.mu.Unlock()

	if !focused || userID == "" || !hasViewport {
		return
	}
	visible := viewport.VisibleIDs(items, metrics)
	if len(visible) == 0 {
		return
	}
	c.tracker.MarkVisible(ctx, userID, visible)
}

// RefreshSummaries reloads the conversation list projection.
func (c *Controller) RefreshSummaries(ctx context.Context) error {
	userID := c.ident.UserID()
	if userID == "" {
		return ErrNoUser
	}
	summaries, err := c.st.ListSummaries(ctx, userID)
	if err != nil {
		return fmt.Errorf("list summaries: %w", err)
	}
	c.mu.Lock()
	c.summaries = summaries
	c.mu.Unlock()
	return nil
}

// Summaries returns the conversation list, most recent first.
func (c *Controller) Summaries() []models.ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ConversationSummary, len(c.summaries))
	copy(out, c.summaries)
	return out
}

// Messages returns a snapshot of the open conversation's window.
func (c *Controller) Messages() []models.Message {
	return c.window.Snapshot()
}

// HasMoreOlder reports whether older history may still be paged in.
func (c *Controller) HasMoreOlder() bool {
	return c.pager.HasMore()
}

// State returns the session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Conversation returns the open conversation's metadata, if any.
func (c *Controller) Conversation() (models.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil {
		return models.Conversation{}, false
	}
	return *c.conv, true
}

// CurrentConversationID implements reconcile.View.
func (c *Controller) CurrentConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil || c.state == StateBlocked {
		return ""
	}
	return c.conv.ID
}

// LocalUserID implements reconcile.View.
func (c *Controller) LocalUserID() string {
	return c.ident.UserID()
}

// BumpSummary implements reconcile.View: refresh the preview row for the
// conversation a message landed in and keep the list ordered by recency.
func (c *Controller) BumpSummary(msg models.Message) {
	userID := c.ident.UserID()
	c.mu.Lock()
	defer c.mu.Unlock()

	found := false
	for i := range c.summaries {
		if c.summaries[i].ConversationID != msg.ConversationID {
			continue
		}
		found = true
		if msg.CreatedAt.After(c.summaries[i].LastAt) {
			c.summaries[i].LastContent = msg.Content
			c.summaries[i].LastType = msg.Type
			c.summaries[i].LastSenderID = msg.SenderID
			c.summaries[i].LastAt = msg.CreatedAt
		}
		break
	}
	if !found {
		peer := msg.SenderID
		if peer == userID {
			peer = ""
		}
		c.summaries = append(c.summaries, models.ConversationSummary{
			ConversationID: msg.ConversationID,
			PeerID:         peer,
			LastContent:    msg.Content,
			LastType:       msg.Type,
			LastSenderID:   msg.SenderID,
			LastAt:         msg.CreatedAt,
		})
	}
	sort.SliceStable(c.summaries, func(i, j int) bool {
		return c.summaries[i].LastAt.After(c.summaries[j].LastAt)
	})
}

func (c *Controller) setStateLocked(next State) {
	if c.state == next {
		return
	}
	c.state = next
	observability.IncSessionTransition(string(next))
}

func (c *Controller) stale(myEpoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch != myEpoch
}

func (c *Controller) notify(text string) {
	userID := c.ident.UserID()
	var uid *string
	if userID != "" {
		uid = &userID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.notifier.Notify(ctx, "WARN", text, uid)
}

var _ reconcile.View = (*Controller)(nil)
