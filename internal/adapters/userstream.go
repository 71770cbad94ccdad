package adapters

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"sentinel/internal/bus"
	"sentinel/pkg/exchanges/binance/spot"
)

// keepAliveInterval must stay under Binance's 60-minute listen-key
// expiry; 20 minutes leaves ample margin for a missed tick.
const keepAliveInterval = 20 * time.Minute

// executionReportEvent is the subset of Binance's "executionReport"
// user-data-stream payload the supervisor cares about: a fill arriving
// out of band from the order submission that caused it.
type executionReportEvent struct {
	EventType       string `json:"e"`
	Symbol          string `json:"s"`
	Side            string `json:"S"`
	OrderStatus     string `json:"X"`
	OrderID         int64  `json:"i"`
	LastFilledQty   string `json:"l"`
	LastFilledPrice string `json:"L"`
}

// UserStream listens to a Binance spot account's user-data stream and
// republishes fill notifications on the bus — a side channel for orders
// that finish filling after SubmitOrder's synchronous response already
// returned (partial fills completing later, or fills triggered by a
// order placed outside this process). Grounded on the teacher's
// order/user_stream_spot.go gorilla/websocket user-data-stream client,
// generalized from updating an in-process position ledger to publishing
// on the event bus, since this supervisor has no local position ledger
// to update directly.
type UserStream struct {
	client *spot.Client
	bus    *bus.Bus
}

// NewUserStream builds a listener for client's account.
func NewUserStream(client *spot.Client, b *bus.Bus) *UserStream {
	return &UserStream{client: client, bus: b}
}

// Run connects, keeps the listen key alive, and forwards fills until ctx
// is canceled or the connection drops, reconnecting with a fixed
// backoff on either outcome. A fill published here carries the decoded
// executionReportEvent (the subset of report fields declared on it) as
// its payload; the bus has no opinion on format beyond "JSON-shaped".
func (u *UserStream) Run(ctx context.Context) {
	for {
		if err := u.runOnce(ctx); err != nil {
			log.Printf("[userstream] %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}

func (u *UserStream) runOnce(ctx context.Context) error {
	listenKey, err := u.client.CreateListenKey(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.client.StreamBaseURL()+"/"+listenKey, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			u.handle(msg)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-keepAlive.C:
			if err := u.client.KeepAliveListenKey(ctx, listenKey); err != nil {
				log.Printf("[userstream] keepalive failed: %v", err)
			}
		}
	}
}

func (u *UserStream) handle(msg []byte) {
	var evt executionReportEvent
	if err := json.Unmarshal(msg, &evt); err != nil {
		return
	}
	if evt.EventType != "executionReport" {
		return
	}
	if u.bus != nil {
		u.bus.Publish(bus.TopicTradeResult, evt)
	}
}
