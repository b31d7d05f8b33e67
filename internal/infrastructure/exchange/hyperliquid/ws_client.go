package hyperliquid

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"hyperarb/internal/application/port"
)

// SubscribeL2Book opens a dedicated websocket connection for coin and
// streams merged book snapshots until ctx is cancelled. Every call opens
// its own connection; the engine is responsible for reconnecting across
// calls (see Engine.runFeed), so this method returns on any read error.
func (c *Client) SubscribeL2Book(ctx context.Context, coin string) (<-chan port.L2Book, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.wsURL, nil)
	if err != nil {
		return nil, err
	}

	sub := wsSubscribeMsg{Method: "subscribe", Subscription: l2Subscription{Type: "l2Book", Coin: coin}}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, err
	}

	out := make(chan port.L2Book, 64)
	go c.readL2Book(ctx, conn, out)
	return out, nil
}

func (c *Client) readL2Book(ctx context.Context, conn *websocket.Conn, out chan<- port.L2Book) {
	defer close(out)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	msgs := make(chan []byte, 16)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			select {
			case msgs <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			if err != nil {
				log.Warn().Err(err).Msg("hyperliquid l2book feed closed")
			}
			return
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		case b := <-msgs:
			book, ok := parseL2Envelope(b)
			if !ok {
				continue
			}
			select {
			case out <- book:
			case <-ctx.Done():
				return
			}
		}
	}
}

func parseL2Envelope(b []byte) (port.L2Book, bool) {
	var env wsEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return port.L2Book{}, false
	}
	if env.Channel != "l2Book" {
		return port.L2Book{}, false
	}
	return port.L2Book{
		Bids:   parseLevels(env.Data.Levels[0]),
		Asks:   parseLevels(env.Data.Levels[1]),
		SendMs: env.Data.Time,
	}, true
}

func parseLevels(levels []l2Level) []port.BookLevel {
	out := make([]port.BookLevel, 0, len(levels))
	for _, l := range levels {
		px, err1 := strconv.ParseFloat(l.Px, 64)
		sz, err2 := strconv.ParseFloat(l.Sz, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, port.BookLevel{Px: px, Sz: sz})
	}
	return out
}
