package loans

import (
	"errors"
	"time"
)

var ErrAlreadyOnLoan = errors.New("game already on loan")
var ErrNotOnLoan = errors.New("game is not on loan")
var ErrLoanNotFound = errors.New("loan not found")
var ErrProfileNotFound = errors.New("profile not found")
var ErrUnsupportedEvent = errors.New("unsupported event type")

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleMonitor Role = "monitor"
	RoleUser    Role = "user"
)

// Loan is one borrow of a game copy. ReturnedAt set means the loan is
// closed and the game is back on the shelf.
type Loan struct {
	ID          string     `json:"id"`
	BoardgameID string     `json:"boardgame_id"`
	UserID      string     `json:"user_id"`
	BorrowedAt  time.Time  `json:"borrowed_at"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
}

func (l Loan) Open() bool { return l.ReturnedAt == nil }

type Profile struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Role          Role   `json:"role"`
	BackgroundURL string `json:"background_url,omitempty"`
}

type EventType string

const (
	EvtInsert EventType = "INSERT"
	EvtUpdate EventType = "UPDATE"
	EvtDelete EventType = "DELETE"
)

// Event is one row-level change pushed over a change channel. Seq is
// assigned by the feed and increases monotonically per channel. For the
// game_loans channel New carries the row after the change and Old the
// row before (only Old is populated for deletes); the profiles channel
// uses the Profile payload instead.
type Event struct {
	Type    EventType `json:"type"`
	Seq     uint64    `json:"seq"`
	New     *Loan     `json:"new,omitempty"`
	Old     *Loan     `json:"old,omitempty"`
	Profile *Profile  `json:"profile,omitempty"`
}

// Cache is the client-local view of which games are on loan: one entry
// per boardgame with an open loan. Seq is the sequence stamp of the
// snapshot or of the last applied event, whichever is newer.
type Cache struct {
	Loans map[string]Loan
	Seq   uint64
}

func NewCache() Cache {
	return Cache{Loans: map[string]Loan{}}
}

// Snapshot replaces the whole cache with the result of a bulk read.
// Closed loans in the result are skipped; if the backend ever returns
// two open loans for the same game, the last one in result order wins.
func Snapshot(records []Loan, seq uint64) Cache {
	c := Cache{Loans: make(map[string]Loan, len(records)), Seq: seq}
	for _, l := range records {
		if !l.Open() {
			continue
		}
		c.Loans[l.BoardgameID] = l
	}
	return c
}

// Apply folds one change-feed event into the cache, in delivery order.
// An event stamped at or before the cache's current Seq is stale
// (already reflected by the snapshot) and is dropped. Deletes remove
// the entry for the game unconditionally, even if the deleted row's id
// is not the one currently cached.
func Apply(c Cache, e Event) (Cache, error) {
	if e.Seq != 0 && e.Seq <= c.Seq {
		return c, nil
	}
	if e.Seq != 0 {
		c.Seq = e.Seq
	}

	switch e.Type {
	case EvtInsert:
		if e.New == nil {
			return c, nil
		}
		if !e.New.Open() {
			// An already-closed loan must not show up as borrowed.
			return c, nil
		}
		c.Loans[e.New.BoardgameID] = *e.New

	case EvtUpdate:
		if e.New == nil {
			return c, nil
		}
		if e.New.Open() {
			c.Loans[e.New.BoardgameID] = *e.New
		} else if cur, ok := c.Loans[e.New.BoardgameID]; !ok || cur.ID == e.New.ID {
			// A close only clears the slot it belongs to. If the slot
			// already holds a different loan, this close was overtaken
			// by a newer borrow of the same game and must not hide it.
			delete(c.Loans, e.New.BoardgameID)
		}

	case EvtDelete:
		if e.Old == nil {
			return c, nil
		}
		delete(c.Loans, e.Old.BoardgameID)

	default:
		return c, ErrUnsupportedEvent
	}

	return c, nil
}
