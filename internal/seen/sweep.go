package seen

import (
	"context"
	"time"

	"go.uber.org/zap"

	"aguacachat-sync/internal/cache"
	"aguacachat-sync/internal/models"
	"aguacachat-sync/internal/observability"
	"aguacachat-sync/internal/store"
)

// SweepBatch caps how many recent messages one sweep refetches.
const SweepBatch = 50

// DefaultSweepInterval is how often the sweep runs while a conversation is
// open.
const DefaultSweepInterval = 2500 * time.Millisecond

// Sweeper is the polling fallback beside the push feed: it periodically
// refetches seen state for the most recent loaded messages and folds any
// drift into the window. Missed realtime deliveries converge within one
// interval. The caller ties the context to the conversation's lifetime, so
// a switch cancels the ticker instead of leaking it.
type Sweeper struct {
	st       store.ChatStore
	window   *cache.Window
	interval time.Duration
	log      *zap.SugaredLogger
}

// NewSweeper builds a sweeper. interval <= 0 selects DefaultSweepInterval.
func NewSweeper(st store.ChatStore, window *cache.Window, interval time.Duration, log *zap.SugaredLogger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{st: st, window: window, interval: interval, log: log}
}

// Run ticks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single consistency pass. Exported for tests.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	ids := s.window.RecentIDs(SweepBatch)
	if len(ids) == 0 {
		return
	}
	states, err := s.st.SeenStates(ctx, ids)
	if err != nil {
		s.log.Warnw("seen sweep fetch failed", "error", err)
		return
	}
	observability.IncSeenSweep()

	for _, state := range states {
		cached, ok := s.window.Get(state.MessageID)
		if !ok {
			continue
		}
		if seenEqual(cached.SeenBy, state.SeenBy) && cached.Content == state.Content {
			continue
		}
		seen := []string(state.SeenBy)
		s.window.Patch(state.MessageID, models.MessagePatch{
			Content: &state.Content,
			SeenBy:  &seen,
		})
	}
}

func seenEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
