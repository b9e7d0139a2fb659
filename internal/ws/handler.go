package ws

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/coder/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/sejoga/game-loans-backend/internal/feed"
	"github.com/sejoga/game-loans-backend/internal/hub"
	"github.com/sejoga/game-loans-backend/internal/loans"
	"github.com/sejoga/game-loans-backend/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler upgrades the connection and streams change events for the
// requested channel until the session goes away. Events are pushed in
// publish order; a session that can't keep up is dropped by the feed
// and sees its stream end.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := r.URL.Query().Get("channel")
		if channel == "" {
			http.Error(w, "missing channel", http.StatusBadRequest)
			return
		}

		reply := make(chan *feed.Feed, 1)
		h.Inbox() <- hub.GetChannel{Name: channel, Reply: reply}
		f := <-reply
		if f == nil {
			http.Error(w, "unknown channel", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan loans.Event, 8)
		clientID := randID(6)

		f.Inbox() <- feed.Subscribe{ClientID: clientID, Outbox: out}
		defer func() { f.Inbox() <- feed.Unsubscribe{ClientID: clientID} }()

		log.Debug("subscriber connected",
			zap.String("channel", channel), zap.String("client_id", clientID))

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			for e := range out {
				msg := types.ServerMessage{Type: types.MsgChangeEvent, Event: &e}
				payload, _ := json.Marshal(msg)
				ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
				_ = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
			}
		}()

		// Reader loop: sessions never send anything meaningful, but
		// reading is how we notice the close.
		for {
			_, _, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}
		}
	}
}

func randID(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}
