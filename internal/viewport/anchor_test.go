package viewport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrependRestoresReadingPosition(t *testing.T) {
	a := NewAnchor()
	a.OnScroll(Metrics{ScrollTop: 200, ScrollHeight: 1000, ViewportHeight: 400})

	a.BeforePrepend(Metrics{ScrollTop: 200, ScrollHeight: 1000, ViewportHeight: 400})

	// The prepended page added 400px of content above the viewport.
	scrollTop, ok := a.AfterLayout(Metrics{ScrollTop: 200, ScrollHeight: 1400, ViewportHeight: 400}, false)
	require.True(t, ok)
	assert.Equal(t, 600.0, scrollTop)
}

func TestAppendSticksToBottomWhenNearIt(t *testing.T) {
	a := NewAnchor()
	// 40px from the bottom: still reading the latest messages.
	a.OnScroll(Metrics{ScrollTop: 560, ScrollHeight: 1000, ViewportHeight: 400})

	scrollTop, ok := a.AfterLayout(Metrics{ScrollTop: 560, ScrollHeight: 1080, ViewportHeight: 400}, true)
	require.True(t, ok)
	assert.Equal(t, 1080.0, scrollTop)
}

func TestAppendLeavesPositionWhenScrolledUp(t *testing.T) {
	a := NewAnchor()
	// 400px from the bottom: the user is reading history.
	a.OnScroll(Metrics{ScrollTop: 200, ScrollHeight: 1000, ViewportHeight: 400})

	_, ok := a.AfterLayout(Metrics{ScrollTop: 200, ScrollHeight: 1080, ViewportHeight: 400}, true)
	assert.False(t, ok)
}

func TestNearBottomBoundary(t *testing.T) {
	a := NewAnchor()

	// Exactly at the threshold counts as near.
	a.OnScroll(Metrics{ScrollTop: 540, ScrollHeight: 1000, ViewportHeight: 400})
	assert.True(t, a.NearBottom())

	// One pixel past it does not.
	a.OnScroll(Metrics{ScrollTop: 539, ScrollHeight: 1000, ViewportHeight: 400})
	assert.False(t, a.NearBottom())
}

func TestPendingPrependBeatsStickToBottom(t *testing.T) {
	a := NewAnchor()
	a.OnScroll(Metrics{ScrollTop: 580, ScrollHeight: 1000, ViewportHeight: 400})
	require.True(t, a.NearBottom())

	a.BeforePrepend(Metrics{ScrollTop: 580, ScrollHeight: 1000, ViewportHeight: 400})

	// Both a prepend and an append landed in the same layout pass; position
	// restore must win or the prepended page would yank the view around.
	scrollTop, ok := a.AfterLayout(Metrics{ScrollTop: 580, ScrollHeight: 1500, ViewportHeight: 400}, true)
	require.True(t, ok)
	assert.Equal(t, 1080.0, scrollTop)

	// The pending flag is consumed; the next append sticks to bottom again.
	scrollTop, ok = a.AfterLayout(Metrics{ScrollTop: 1080, ScrollHeight: 1540, ViewportHeight: 400}, true)
	require.True(t, ok)
	assert.Equal(t, 1540.0, scrollTop)
}

func TestForceBottomResetsState(t *testing.T) {
	a := NewAnchor()
	a.OnScroll(Metrics{ScrollTop: 0, ScrollHeight: 1000, ViewportHeight: 400})
	a.BeforePrepend(Metrics{ScrollTop: 0, ScrollHeight: 1000, ViewportHeight: 400})

	a.ForceBottom()

	scrollTop, ok := a.AfterLayout(Metrics{ScrollTop: 0, ScrollHeight: 1100, ViewportHeight: 400}, true)
	require.True(t, ok)
	assert.Equal(t, 1100.0, scrollTop)
}

func TestVisibleTallMessageNeedsEighteenPixels(t *testing.T) {
	m := Metrics{ScrollTop: 0, ScrollHeight: 1000, ViewportHeight: 400}

	// 100px tall, 18px peeking in from below: exactly half the 36px band.
	assert.True(t, Visible(Item{MessageID: "m1", Top: 382, Height: 100}, m))
	assert.False(t, Visible(Item{MessageID: "m1", Top: 383, Height: 100}, m))
}

func TestVisibleShortMessageNeedsHalfItsHeight(t *testing.T) {
	m := Metrics{ScrollTop: 0, ScrollHeight: 1000, ViewportHeight: 400}

	// 20px tall: 10px visible suffices.
	assert.True(t, Visible(Item{MessageID: "m1", Top: 390, Height: 20}, m))
	assert.False(t, Visible(Item{MessageID: "m1", Top: 391, Height: 20}, m))
}

func TestVisibleOutsideViewport(t *testing.T) {
	m := Metrics{ScrollTop: 500, ScrollHeight: 2000, ViewportHeight: 400}

	assert.False(t, Visible(Item{MessageID: "above", Top: 100, Height: 40}, m))
	assert.False(t, Visible(Item{MessageID: "below", Top: 1500, Height: 40}, m))
	assert.True(t, Visible(Item{MessageID: "inside", Top: 600, Height: 40}, m))
}

func TestVisibleIDsFilters(t *testing.T) {
	m := Metrics{ScrollTop: 0, ScrollHeight: 1000, ViewportHeight: 400}
	items := []Item{
		{MessageID: "a", Top: 0, Height: 40},
		{MessageID: "b", Top: 360, Height: 40},
		{MessageID: "c", Top: 700, Height: 40},
	}

	assert.Equal(t, []string{"a", "b"}, VisibleIDs(items, m))
}
