package loans

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLoan(id, gameID, userID string) Loan {
	return Loan{
		ID:          id,
		BoardgameID: gameID,
		UserID:      userID,
		BorrowedAt:  time.Date(2025, 3, 1, 19, 0, 0, 0, time.UTC),
	}
}

func closedLoan(id, gameID, userID string) Loan {
	l := openLoan(id, gameID, userID)
	ret := l.BorrowedAt.Add(48 * time.Hour)
	l.ReturnedAt = &ret
	return l
}

func TestSnapshot(t *testing.T) {
	cases := []struct {
		name    string
		records []Loan
		want    []string // boardgame ids expected in the cache
	}{
		{
			name:    "open loans are keyed by boardgame",
			records: []Loan{openLoan("l1", "G1", "U1"), openLoan("l2", "G2", "U2")},
			want:    []string{"G1", "G2"},
		},
		{
			name:    "closed loans are skipped",
			records: []Loan{openLoan("l1", "G1", "U1"), closedLoan("l2", "G2", "U2")},
			want:    []string{"G1"},
		},
		{
			name:    "duplicate open loans: last in result order wins",
			records: []Loan{openLoan("l1", "G1", "U1"), openLoan("l2", "G1", "U2")},
			want:    []string{"G1"},
		},
		{
			name:    "empty result",
			records: nil,
			want:    nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Snapshot(tc.records, 7)
			assert.Equal(t, uint64(7), c.Seq)
			assert.Len(t, c.Loans, len(tc.want))
			for _, gameID := range tc.want {
				assert.Contains(t, c.Loans, gameID)
			}
		})
	}

	t.Run("last write wins picks the later record", func(t *testing.T) {
		c := Snapshot([]Loan{openLoan("l1", "G1", "U1"), openLoan("l2", "G1", "U2")}, 1)
		require.Contains(t, c.Loans, "G1")
		assert.Equal(t, "l2", c.Loans["G1"].ID)
	})
}

func TestApply(t *testing.T) {
	l1 := openLoan("l1", "G1", "U1")
	l1Closed := closedLoan("l1", "G1", "U1")
	l2 := openLoan("l2", "G1", "U2")
	lx := openLoan("lX", "G1", "U9")

	cases := []struct {
		name   string
		start  []Loan
		event  Event
		want   []string
		wantID map[string]string // boardgame id -> expected loan id
	}{
		{
			name:  "insert of open loan sets the entry",
			event: Event{Type: EvtInsert, Seq: 1, New: &l1},
			want:  []string{"G1"},
		},
		{
			name:  "insert of already-closed loan is a no-op",
			event: Event{Type: EvtInsert, Seq: 1, New: &l1Closed},
			want:  nil,
		},
		{
			name:  "update to returned removes the entry",
			start: []Loan{l1},
			event: Event{Type: EvtUpdate, Seq: 2, New: &l1Closed},
			want:  nil,
		},
		{
			name:  "update keeping the loan open overwrites",
			start: []Loan{l1},
			event: Event{Type: EvtUpdate, Seq: 2, New: &l2},
			want:  []string{"G1"},
			wantID: map[string]string{
				"G1": "l2",
			},
		},
		{
			name:  "delete removes unconditionally",
			start: []Loan{l1},
			event: Event{Type: EvtDelete, Seq: 2, Old: &l1},
			want:  nil,
		},
		{
			name:  "delete of a different loan id still clears the game",
			start: []Loan{l1},
			event: Event{Type: EvtDelete, Seq: 2, Old: &lx},
			want:  nil,
		},
		{
			name:  "insert without payload is ignored",
			event: Event{Type: EvtInsert, Seq: 1},
			want:  nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Snapshot(tc.start, 0)
			c, err := Apply(c, tc.event)
			require.NoError(t, err)
			assert.Len(t, c.Loans, len(tc.want))
			for _, gameID := range tc.want {
				assert.Contains(t, c.Loans, gameID)
			}
			for gameID, loanID := range tc.wantID {
				assert.Equal(t, loanID, c.Loans[gameID].ID)
			}
		})
	}
}

func TestApply_ReturnedUpdateIsIdempotent(t *testing.T) {
	l1 := openLoan("l1", "G1", "U1")
	l1Closed := closedLoan("l1", "G1", "U1")

	c := Snapshot([]Loan{l1}, 0)

	c, err := Apply(c, Event{Type: EvtUpdate, Seq: 1, New: &l1Closed})
	require.NoError(t, err)
	assert.NotContains(t, c.Loans, "G1")

	// Applying the same close a second time leaves the cache unchanged.
	c, err = Apply(c, Event{Type: EvtUpdate, Seq: 2, New: &l1Closed})
	require.NoError(t, err)
	assert.NotContains(t, c.Loans, "G1")
	assert.Equal(t, uint64(2), c.Seq)
}

func TestApply_OvertakenCloseDoesNotHideNewerBorrow(t *testing.T) {
	l1Closed := closedLoan("l1", "G1", "U1")
	l2 := openLoan("l2", "G1", "U2")

	// G1's first loan is closed and immediately re-borrowed, but the
	// events arrive inverted: the new borrow first, the old close
	// second. The close belongs to l1, so it must not clear l2.
	c := NewCache()
	c, err := Apply(c, Event{Type: EvtInsert, Seq: 1, New: &l2})
	require.NoError(t, err)

	c, err = Apply(c, Event{Type: EvtUpdate, Seq: 2, New: &l1Closed})
	require.NoError(t, err)

	require.Contains(t, c.Loans, "G1")
	assert.Equal(t, "l2", c.Loans["G1"].ID)

	// In order, the same pair behaves as before: close then borrow.
	c2 := Snapshot([]Loan{openLoan("l1", "G1", "U1")}, 0)
	c2, err = Apply(c2, Event{Type: EvtUpdate, Seq: 1, New: &l1Closed})
	require.NoError(t, err)
	assert.NotContains(t, c2.Loans, "G1")
	c2, err = Apply(c2, Event{Type: EvtInsert, Seq: 2, New: &l2})
	require.NoError(t, err)
	assert.Equal(t, "l2", c2.Loans["G1"].ID)
}

func TestApply_StaleEventIsDiscarded(t *testing.T) {
	l1 := openLoan("l1", "G1", "U1")

	// Snapshot stamped at seq 10; an insert from seq 4 raced ahead of
	// the bulk read and arrives late. It must not resurrect the entry.
	c := Snapshot(nil, 10)
	c, err := Apply(c, Event{Type: EvtInsert, Seq: 4, New: &l1})
	require.NoError(t, err)
	assert.Empty(t, c.Loans)
	assert.Equal(t, uint64(10), c.Seq)

	// A genuinely newer event still applies.
	c, err = Apply(c, Event{Type: EvtInsert, Seq: 11, New: &l1})
	require.NoError(t, err)
	assert.Contains(t, c.Loans, "G1")
}

func TestApply_UnstampedEventAlwaysApplies(t *testing.T) {
	l1 := openLoan("l1", "G1", "U1")

	c := Snapshot(nil, 10)
	c, err := Apply(c, Event{Type: EvtInsert, New: &l1})
	require.NoError(t, err)
	assert.Contains(t, c.Loans, "G1")
	assert.Equal(t, uint64(10), c.Seq)
}

func TestApply_UnsupportedEventType(t *testing.T) {
	c := NewCache()
	_, err := Apply(c, Event{Type: "TRUNCATE", Seq: 1})
	assert.ErrorIs(t, err, ErrUnsupportedEvent)
}

func TestEventSequenceConvergence(t *testing.T) {
	// The cache after a sequence of events contains exactly the games
	// whose most recent event left an open loan.
	g1 := openLoan("l1", "G1", "U1")
	g1Closed := closedLoan("l1", "G1", "U1")
	g2 := openLoan("l2", "G2", "U2")
	g3 := openLoan("l3", "G3", "U3")

	events := []Event{
		{Type: EvtInsert, Seq: 1, New: &g1},
		{Type: EvtInsert, Seq: 2, New: &g2},
		{Type: EvtUpdate, Seq: 3, New: &g1Closed},
		{Type: EvtInsert, Seq: 4, New: &g3},
		{Type: EvtDelete, Seq: 5, Old: &g2},
	}

	c := NewCache()
	var err error
	for _, e := range events {
		c, err = Apply(c, e)
		require.NoError(t, err)
	}

	assert.Len(t, c.Loans, 1)
	assert.Contains(t, c.Loans, "G3")
	assert.Equal(t, uint64(5), c.Seq)
}
