package ws

import (
	"context"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/sejoga/game-loans-backend/internal/loans"
	"github.com/sejoga/game-loans-backend/internal/types"
)

// ClientSub is a change-feed subscription over a real socket. It
// satisfies the synchronizer's Subscription port: events come out in
// delivery order and the channel closes when the socket drops. There is
// no reconnect; the owner has to dial again and refetch.
type ClientSub struct {
	conn   *websocket.Conn
	events chan loans.Event
	cancel context.CancelFunc
}

// Dial subscribes to one change channel, e.g.
// ws://host/ws?channel=game_loans.
func Dial(ctx context.Context, url string, log *zap.Logger) (*ClientSub, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &ClientSub{
		conn:   conn,
		events: make(chan loans.Event, 64),
		cancel: cancel,
	}

	go func() {
		defer close(c.events)
		for {
			_, data, err := conn.Read(readCtx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if readCtx.Err() == nil {
						log.Warn("change feed read failed", zap.Error(err))
					}
				}
				return
			}

			var msg types.ServerMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn("bad change feed payload", zap.Error(err))
				continue
			}
			if msg.Type != types.MsgChangeEvent || msg.Event == nil {
				continue
			}

			select {
			case c.events <- *msg.Event:
			case <-readCtx.Done():
				return
			}
		}
	}()

	return c, nil
}

func (c *ClientSub) Events() <-chan loans.Event { return c.events }

func (c *ClientSub) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
