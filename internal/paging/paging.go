package paging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"aguacachat-sync/internal/models"
	"aguacachat-sync/internal/store"
)

// DefaultPageSize matches the page the UI renders per history load.
const DefaultPageSize = 20

// Pager drives cursor-based "load older" pagination for one conversation at
// a time. Pages are fetched descending, over-fetched by one row to learn
// whether more history exists, then reversed to ascending for the window.
type Pager struct {
	store store.ChatStore
	size  int

	mu      sync.Mutex
	busy    bool
	hasMore bool
	oldest  time.Time
	primed  bool
	gen     uint64
}

// New builds a pager over the store. size <= 0 selects DefaultPageSize.
func New(st store.ChatStore, size int) *Pager {
	if size <= 0 {
		size = DefaultPageSize
	}
	return &Pager{store: st, size: size}
}

// Reset clears all cursor state, for a conversation switch. Bumping the
// generation invalidates any fetch still in flight: its result is discarded
// when it resolves instead of polluting the new conversation's cursor.
func (p *Pager) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = false
	p.hasMore = false
	p.oldest = time.Time{}
	p.primed = false
	p.gen++
}

// HasMore reports whether older history may still be fetched.
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// OldestCursor returns the timestamp of the oldest loaded message.
func (p *Pager) OldestCursor() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.oldest, p.primed
}

// LoadInitial fetches the newest page. clearPivot, when set, bounds the
// fetch to rows strictly newer than the viewer's clearance cutoff. Only the
// initial load honors the pivot: scrolling back may intentionally walk into
// cleared history.
func (p *Pager) LoadInitial(ctx context.Context, conversationID string, clearPivot *time.Time) ([]models.Message, error) {
	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	rows, err := p.store.MessagePage(ctx, store.MessagePageQuery{
		ConversationID: conversationID,
		After:          clearPivot,
		Limit:          p.size + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("load initial page: %w", err)
	}
	page, more := trimProbe(rows, p.size)

	p.mu.Lock()
	if p.gen == gen {
		p.hasMore = more
		p.primed = len(page) > 0
		if p.primed {
			p.oldest = page[0].CreatedAt
		}
	}
	p.mu.Unlock()
	return page, nil
}

// LoadOlder fetches the page preceding the oldest loaded message. While a
// fetch is in flight further calls are no-ops (loaded=false), so rapid
// scrolling cannot issue duplicate page fetches. The clearance pivot is
// deliberately not applied here.
func (p *Pager) LoadOlder(ctx context.Context, conversationID string) (msgs []models.Message, loaded bool, err error) {
	p.mu.Lock()
	if p.busy || !p.hasMore || !p.primed {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.busy = true
	before := p.oldest
	gen := p.gen
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.gen == gen {
			p.busy = false
		}
		p.mu.Unlock()
	}()

	rows, err := p.store.MessagePage(ctx, store.MessagePageQuery{
		ConversationID: conversationID,
		Before:         &before,
		Limit:          p.size + 1,
	})
	if err != nil {
		return nil, false, fmt.Errorf("load older page: %w", err)
	}
	page, more := trimProbe(rows, p.size)

	p.mu.Lock()
	if p.gen != gen {
		// Reset ran while the fetch was in flight; this page belongs to the
		// previous conversation.
		p.mu.Unlock()
		return nil, false, nil
	}
	p.hasMore = more
	if len(page) > 0 {
		p.oldest = page[0].CreatedAt
	}
	p.mu.Unlock()
	return page, true, nil
}

// trimProbe drops the probe row of an over-fetched descending page and
// reverses it to ascending order.
func trimProbe(rows []models.Message, size int) ([]models.Message, bool) {
	more := len(rows) > size
	if more {
		rows = rows[:size]
	}
	page := make([]models.Message, len(rows))
	for i, m := range rows {
		page[len(rows)-1-i] = m
	}
	return page, more
}
