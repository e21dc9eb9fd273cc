package viewport

import "sync"

// NearBottomThreshold is how close (in pixels) to the bottom edge the
// viewport may sit and still count as "reading the latest messages".
const NearBottomThreshold = 60.0

// visibilityBand caps the intersection height a message must show before it
// counts as visible; short messages only need half their own height.
const visibilityBand = 36.0

// Metrics are the layout measurements the UI host reports. The engine never
// touches a DOM; it only does the arithmetic.
type Metrics struct {
	ScrollTop      float64
	ScrollHeight   float64
	ViewportHeight float64
}

// Item is one rendered message's geometry in scroll-content coordinates.
type Item struct {
	MessageID string
	Top       float64
	Height    float64
}

// Anchor arbitrates two mutually exclusive scroll goals: keep the reading
// position pixel-stable when older history is prepended above it, and stick
// to the bottom when a new message is appended while the user is already
// there. A pending prepend always wins the layout pass.
type Anchor struct {
	mu             sync.Mutex
	nearBottom     bool
	pendingPrepend bool
	pre            Metrics
}

// NewAnchor starts stuck to the bottom, the state of a freshly opened
// conversation.
func NewAnchor() *Anchor {
	return &Anchor{nearBottom: true}
}

// OnScroll records whether the viewport is near the bottom. Call on every
// scroll event.
func (a *Anchor) OnScroll(m Metrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nearBottom = m.ScrollHeight-(m.ScrollTop+m.ViewportHeight) <= NearBottomThreshold
}

// NearBottom reports the last observed bottom proximity.
func (a *Anchor) NearBottom() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nearBottom
}

// BeforePrepend captures the pre-measurement right before older messages are
// inserted above the current content.
func (a *Anchor) BeforePrepend(m Metrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pre = m
	a.pendingPrepend = true
}

// AfterLayout resolves the scroll position once the UI reflects a content
// change. appended says the change added messages at the end. The returned
// scrollTop applies only when ok is true; otherwise the position is left
// alone (the user scrolled up on purpose).
func (a *Anchor) AfterLayout(m Metrics, appended bool) (scrollTop float64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pendingPrepend {
		a.pendingPrepend = false
		delta := m.ScrollHeight - a.pre.ScrollHeight
		return a.pre.ScrollTop + delta, true
	}
	if appended && a.nearBottom {
		return m.ScrollHeight, true
	}
	return 0, false
}

// ForceBottom resets the anchor to the bottom, used on conversation open.
func (a *Anchor) ForceBottom() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nearBottom = true
	a.pendingPrepend = false
}

// Visible reports whether an item shows enough of itself inside the
// viewport to count as read: at least half of min(itemHeight, 36px) must
// intersect the viewport's bounds.
func Visible(item Item, m Metrics) bool {
	viewTop := m.ScrollTop
	viewBottom := m.ScrollTop + m.ViewportHeight

	top := item.Top
	bottom := item.Top + item.Height
	if top < viewTop {
		top = viewTop
	}
	if bottom > viewBottom {
		bottom = viewBottom
	}
	intersection := bottom - top
	if intersection <= 0 {
		return false
	}

	band := item.Height
	if band > visibilityBand {
		band = visibilityBand
	}
	return intersection >= band/2
}

// VisibleIDs filters the rendered items down to the visible message ids.
func VisibleIDs(items []Item, m Metrics) []string {
	var ids []string
	for _, item := range items {
		if Visible(item, m) {
			ids = append(ids, item.MessageID)
		}
	}
	return ids
}
