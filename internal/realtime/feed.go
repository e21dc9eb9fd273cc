package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"aguacachat-sync/internal/observability"
)

// Handler consumes change events. The feed invokes it sequentially from a
// single goroutine, so events for one subscription are applied in arrival
// order with no internal reordering.
type Handler func(ev Event)

// Feed is a change-event subscription keyed by user: one stream carries the
// row changes for every conversation the user participates in.
type Feed interface {
	Subscribe(ctx context.Context, userID string, handler Handler) (func(), error)
}

// WSFeed subscribes over a websocket endpoint that relays store change
// events as JSON. Dropped connections are re-dialed with bounded backoff;
// the handler keeps its single-goroutine ordering guarantee across
// reconnects because only one read loop exists per subscription.
type WSFeed struct {
	baseURL string
	log     *zap.SugaredLogger
	dialer  *websocket.Dialer
}

// NewWSFeed builds a feed client for the realtime endpoint.
func NewWSFeed(baseURL string, log *zap.SugaredLogger) *WSFeed {
	return &WSFeed{
		baseURL: baseURL,
		log:     log,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Subscribe starts the read loop and returns a cancel function that tears
// the subscription down.
func (f *WSFeed) Subscribe(ctx context.Context, userID string, handler Handler) (func(), error) {
	endpoint, err := f.endpoint(userID)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.run(subCtx, endpoint, handler)
	}()

	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func (f *WSFeed) endpoint(userID string) (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *WSFeed) run(ctx context.Context, endpoint string, handler Handler) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.readOnce(ctx, endpoint, handler); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.log.Warnw("realtime feed dropped, reconnecting", "error", err, "backoff", backoff)
			observability.IncFeedReconnect()
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (f *WSFeed) readOnce(ctx context.Context, endpoint string, handler Handler) error {
	dialCtx, span := otel.Tracer("aguacachat-sync/realtime").Start(ctx, "feed.dial")
	conn, _, err := f.dialer.DialContext(dialCtx, endpoint, nil)
	span.End()
	if err != nil {
		return fmt.Errorf("dial realtime: %w", err)
	}
	defer conn.Close()

	// Close the socket when the subscription is cancelled so ReadMessage
	// unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	f.log.Infow("realtime feed connected", "endpoint", f.baseURL)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read realtime frame: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			f.log.Warnw("discarding undecodable realtime frame", "error", err)
			observability.IncRealtimeEvent("unknown", "malformed")
			continue
		}
		handler(ev)
	}
}

var _ Feed = (*WSFeed)(nil)
