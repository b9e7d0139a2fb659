package feed

import (
	"context"

	"go.uber.org/zap"

	"github.com/sejoga/game-loans-backend/internal/loans"
)

type Msg interface{ isFeedMsg() }

// Subscribe registers a session outbox; every event published after
// registration is delivered to it in publish order.
type Subscribe struct {
	ClientID string
	Outbox   chan loans.Event
}

func (Subscribe) isFeedMsg() {}

type Unsubscribe struct{ ClientID string }

func (Unsubscribe) isFeedMsg() {}

// Publish stamps the event with the next sequence number and fans it
// out. Reply (optional) receives the assigned sequence.
type Publish struct {
	Event loans.Event
	Reply chan uint64
}

func (Publish) isFeedMsg() {}

// CurrentSeq reports the sequence of the last published event, so bulk
// reads can stamp their snapshots against the feed.
type CurrentSeq struct {
	Reply chan uint64
}

func (CurrentSeq) isFeedMsg() {}

type Shutdown struct{}

func (Shutdown) isFeedMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isFeedMsg() {}

// View reflects internal state for tests without data races.
type View struct {
	Seq        uint64
	NumClients int
}

// Feed is the broadcast side of one change channel: a single goroutine
// owns the subscriber map and the sequence counter, and everything else
// talks to it through the inbox.
type Feed struct {
	name    string
	inbox   chan Msg
	seq     uint64
	clients map[string]chan loans.Event
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
}

func New(parent context.Context, name string, log *zap.Logger) *Feed {
	ctx, cancel := context.WithCancel(parent)

	f := &Feed{
		name:    name,
		inbox:   make(chan Msg, 64),
		clients: make(map[string]chan loans.Event),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With(zap.String("channel", name)),
	}

	go f.loop()
	return f
}

func (f *Feed) Inbox() chan<- Msg { return f.inbox }

func (f *Feed) Name() string { return f.name }

// PublishWait publishes and blocks until the event has been stamped,
// returning the assigned sequence. Convenience for the store layer.
// Returns 0 without blocking once the feed has shut down.
func (f *Feed) PublishWait(e loans.Event) uint64 {
	reply := make(chan uint64, 1)
	select {
	case f.inbox <- Publish{Event: e, Reply: reply}:
	case <-f.ctx.Done():
		return 0
	}
	select {
	case seq := <-reply:
		return seq
	case <-f.ctx.Done():
		return 0
	}
}

// Seq returns the sequence of the last published event, or 0 once the
// feed has shut down.
func (f *Feed) Seq() uint64 {
	reply := make(chan uint64, 1)
	select {
	case f.inbox <- CurrentSeq{Reply: reply}:
	case <-f.ctx.Done():
		return 0
	}
	select {
	case seq := <-reply:
		return seq
	case <-f.ctx.Done():
		return 0
	}
}

func (f *Feed) loop() {
	for {
		select {
		case <-f.ctx.Done():
			f.shutdown()
			return

		case m := <-f.inbox:
			switch msg := m.(type) {
			case Subscribe:
				f.clients[msg.ClientID] = msg.Outbox

			case Unsubscribe:
				// Close as well as delete: the session's writer drains
				// the outbox until it closes, so leaving it open would
				// strand that goroutine for the life of the server.
				if ch, ok := f.clients[msg.ClientID]; ok {
					close(ch)
					delete(f.clients, msg.ClientID)
				}

			case Publish:
				f.seq++
				e := msg.Event
				e.Seq = f.seq
				f.broadcast(e)
				if msg.Reply != nil {
					msg.Reply <- f.seq
				}

			case CurrentSeq:
				msg.Reply <- f.seq

			case GetState:
				msg.Reply <- View{Seq: f.seq, NumClients: len(f.clients)}

			case Shutdown:
				f.shutdown()
				return
			}
		}
	}
}

func (f *Feed) shutdown() {
	for id, ch := range f.clients {
		close(ch) // Tell the session no more events are coming
		delete(f.clients, id)
	}
	f.cancel()
}

func (f *Feed) broadcast(e loans.Event) {
	for id, ch := range f.clients {
		select {
		case ch <- e:
			// ok
		default:
			// Session is slow/full - drop it. It will notice the closed
			// channel and has to resubscribe plus refetch.
			f.log.Warn("dropping slow subscriber", zap.String("client_id", id))
			close(ch)
			delete(f.clients, id)
		}
	}
}
