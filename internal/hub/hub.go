package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/sejoga/game-loans-backend/internal/feed"
)

type HubMsg interface{ isHubMsg() }

type GetChannel struct {
	Name  string
	Reply chan *feed.Feed
}

// EnsureChannel returns the feed for Name, creating it first if needed.
type EnsureChannel struct {
	Name  string
	Reply chan *feed.Feed
}

type RemoveChannel struct {
	Name string
}

type ShutdownHub struct{}

func (GetChannel) isHubMsg()    {}
func (EnsureChannel) isHubMsg() {}
func (RemoveChannel) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

// Hub owns the set of named change channels. One feed per watched
// table: "game_loans" for loan rows, "profiles" for profile rows.
type Hub struct {
	inbox    chan HubMsg
	channels map[string]*feed.Feed
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
}

func NewHub(parent context.Context, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		channels: make(map[string]*feed.Feed),
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Ensure is a convenience wrapper for wiring channels at startup.
func (h *Hub) Ensure(name string) *feed.Feed {
	reply := make(chan *feed.Feed, 1)
	h.inbox <- EnsureChannel{Name: name, Reply: reply}
	return <-reply
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetChannel:
				msg.Reply <- h.channels[msg.Name] // May be nil

			case EnsureChannel:
				if f := h.channels[msg.Name]; f != nil {
					msg.Reply <- f
					break
				}
				f := feed.New(h.ctx, msg.Name, h.log)
				h.channels[msg.Name] = f
				msg.Reply <- f

			case RemoveChannel:
				if f := h.channels[msg.Name]; f != nil {
					f.Inbox() <- feed.Shutdown{}
				}
				delete(h.channels, msg.Name)

			case ShutdownHub:
				for _, f := range h.channels {
					f.Inbox() <- feed.Shutdown{}
				}
				clear(h.channels)
				h.cancel()
			}
		}
	}
}
