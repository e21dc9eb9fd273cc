package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{}

func feedServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		handle(conn, r)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSubscribeDeliversEventsInOrder(t *testing.T) {
	frames := []string{
		`{"type":"INSERT","table":"messages","new":{"id":"m1","conversation_id":"c1","sender_id":"bob"}}`,
		`garbage frame`,
		`{"type":"UPDATE","table":"messages","new":{"id":"m1","conversation_id":"c1","sender_id":"bob"}}`,
	}
	srv := feedServer(t, func(conn *websocket.Conn, r *http.Request) {
		assert.Equal(t, "alice", r.URL.Query().Get("user_id"))
		for _, frame := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		}
		// Hold the connection open until the client goes away.
		conn.ReadMessage()
	})
	defer srv.Close()

	received := make(chan Event, 8)
	feed := NewWSFeed(wsURL(srv), zap.NewNop().Sugar())
	cancel, err := feed.Subscribe(context.Background(), "alice", func(ev Event) {
		received <- ev
	})
	require.NoError(t, err)
	defer cancel()

	var got []Event
	for len(got) < 2 {
		select {
		case ev := <-received:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}

	// The undecodable frame is dropped; order is preserved around it.
	assert.Equal(t, EventInsert, got[0].Type)
	assert.Equal(t, EventUpdate, got[1].Type)
}

func TestSubscribeCancelStopsReadLoop(t *testing.T) {
	srv := feedServer(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.ReadMessage()
	})
	defer srv.Close()

	feed := NewWSFeed(wsURL(srv), zap.NewNop().Sugar())
	cancel, err := feed.Subscribe(context.Background(), "alice", func(Event) {})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		// cancel blocks until the read loop has fully wound down.
		cancel()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not stop the subscription")
	}
}

func TestSubscribeReconnectsAfterDrop(t *testing.T) {
	dials := make(chan struct{}, 4)
	first := true
	srv := feedServer(t, func(conn *websocket.Conn, _ *http.Request) {
		dials <- struct{}{}
		if first {
			first = false
			return // drop the first connection immediately
		}
		conn.ReadMessage()
	})
	defer srv.Close()

	feed := NewWSFeed(wsURL(srv), zap.NewNop().Sugar())
	cancel, err := feed.Subscribe(context.Background(), "alice", func(Event) {})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < 2; i++ {
		select {
		case <-dials:
		case <-time.After(5 * time.Second):
			t.Fatalf("expected dial %d", i+1)
		}
	}
}

func TestSubscribeRejectsBadURL(t *testing.T) {
	feed := NewWSFeed("://not-a-url", zap.NewNop().Sugar())
	_, err := feed.Subscribe(context.Background(), "alice", func(Event) {})
	assert.Error(t, err)
}
