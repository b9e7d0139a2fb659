package types

import "github.com/sejoga/game-loans-backend/internal/loans"

// ServerMessage is the envelope pushed to subscribed sessions.
type ServerMessage struct {
	Type  string       `json:"type"` // "ChangeEvent" | "Error"
	Event *loans.Event `json:"event,omitempty"`
	Error string       `json:"error,omitempty"`
}

const (
	MsgChangeEvent = "ChangeEvent"
	MsgError       = "Error"
)
