// Package loansync keeps a session-local view of which games are currently
// on loan consistent with the shared game_loans table. One LoanSync per
// session; many sessions converge against the same table through the
// change feed.
package loansync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sejoga/game-loans-backend/internal/loans"
)

// Backend is the data-access port: the bulk read plus the mutations and
// the borrower point read. Implemented by the store layer in-process
// and by the HTTP client against a remote server.
type Backend interface {
	OpenLoans(ctx context.Context) ([]loans.Loan, uint64, error)
	CreateLoan(ctx context.Context, boardgameID, userID string, dueDate *time.Time) (loans.Loan, error)
	CloseLoan(ctx context.Context, loanID string, returnedAt time.Time) (loans.Loan, error)
	Profile(ctx context.Context, userID string) (loans.Profile, error)
}

// Subscription is the change-feed port. Events arrives in delivery
// order and is closed when the channel drops; there is no reconnect
// here - a dropped subscription leaves the cache stale until the owner
// stops and restarts the synchronizer.
type Subscription interface {
	Events() <-chan loans.Event
	Close() error
}

type msg interface{ isSyncMsg() }

type lookup struct {
	BoardgameID string
	Reply       chan lookupReply
}

type lookupReply struct {
	Loan loans.Loan
	OK   bool
}

type replace struct {
	Cache loans.Cache
	Reply chan struct{}
}

type listAll struct {
	Reply chan map[string]loans.Loan
}

func (lookup) isSyncMsg()  {}
func (replace) isSyncMsg() {}
func (listAll) isSyncMsg() {}

// LoanSync owns the boardgameID -> open-loan cache. The cache is only
// ever touched by the actor goroutine; mutations reach it through the
// change feed (or a Refetch), never through the mutation calls
// themselves, so a rejected write can never leave a phantom entry.
type LoanSync struct {
	backend Backend
	sub     Subscription
	inbox   chan msg
	events  <-chan loans.Event
	cache   loans.Cache
	ctx     context.Context
	cancel  context.CancelFunc
	log     *zap.Logger
}

func New(parent context.Context, backend Backend, sub Subscription, log *zap.Logger) *LoanSync {
	ctx, cancel := context.WithCancel(parent)
	return &LoanSync{
		backend: backend,
		sub:     sub,
		inbox:   make(chan msg, 64),
		events:  sub.Events(),
		cache:   loans.NewCache(),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.Named("loan_sync"),
	}
}

// Start performs the initial bulk read and then begins consuming the
// change feed. The snapshot carries the feed sequence observed before
// the read, so feed events racing the bulk read are re-applied on top
// of it rather than lost.
func (s *LoanSync) Start(ctx context.Context) error {
	records, seq, err := s.backend.OpenLoans(ctx)
	if err != nil {
		return err
	}
	s.cache = loans.Snapshot(records, seq)
	go s.loop()
	return nil
}

// Stop tears down the subscription and the actor goroutine. In-flight
// borrow/return calls are not cancelled; their responses simply have no
// cache left to land in.
func (s *LoanSync) Stop() {
	s.cancel()
	if err := s.sub.Close(); err != nil {
		s.log.Warn("closing subscription", zap.Error(err))
	}
}

func (s *LoanSync) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case e, ok := <-s.events:
			if !ok {
				// Feed dropped. No replay or reconnect: the cache goes
				// stale until the owning session restarts.
				s.log.Warn("change feed closed, cache no longer updating")
				s.events = nil
				continue
			}
			next, err := loans.Apply(s.cache, e)
			if err != nil {
				s.log.Error("dropping change event", zap.Error(err), zap.String("type", string(e.Type)))
				continue
			}
			s.cache = next

		case m := <-s.inbox:
			switch msg := m.(type) {
			case lookup:
				l, ok := s.cache.Loans[msg.BoardgameID]
				msg.Reply <- lookupReply{Loan: l, OK: ok}

			case replace:
				s.cache = msg.Cache
				msg.Reply <- struct{}{}

			case listAll:
				out := make(map[string]loans.Loan, len(s.cache.Loans))
				for k, v := range s.cache.Loans {
					out[k] = v
				}
				msg.Reply <- out
			}
		}
	}
}

func (s *LoanSync) find(boardgameID string) (loans.Loan, bool) {
	reply := make(chan lookupReply, 1)
	select {
	case s.inbox <- lookup{BoardgameID: boardgameID, Reply: reply}:
	case <-s.ctx.Done():
		return loans.Loan{}, false
	}
	select {
	case r := <-reply:
		return r.Loan, r.OK
	case <-s.ctx.Done():
		return loans.Loan{}, false
	}
}

// IsOnLoan reports whether the game currently has an open loan.
func (s *LoanSync) IsOnLoan(boardgameID string) bool {
	_, ok := s.find(boardgameID)
	return ok
}

// LoanedBy reports whether the game's open loan belongs to userID.
func (s *LoanSync) LoanedBy(boardgameID, userID string) bool {
	if userID == "" {
		return false
	}
	l, ok := s.find(boardgameID)
	return ok && l.UserID == userID
}

// ActiveLoans returns a copy of the cache for listing consumers.
func (s *LoanSync) ActiveLoans() map[string]loans.Loan {
	reply := make(chan map[string]loans.Loan, 1)
	select {
	case s.inbox <- listAll{Reply: reply}:
	case <-s.ctx.Done():
		return map[string]loans.Loan{}
	}
	select {
	case r := <-reply:
		return r
	case <-s.ctx.Done():
		return map[string]loans.Loan{}
	}
}

// Borrow opens a loan for the game. The cache is not optimistically
// updated: the new entry appears when the insert's change event comes
// back around, or on an explicit Refetch. A rejected insert (game
// already on loan, permission denied, network failure) leaves the cache
// untouched and is returned to the caller; there is no automatic retry.
func (s *LoanSync) Borrow(ctx context.Context, boardgameID, userID string, dueDate *time.Time) (loans.Loan, error) {
	l, err := s.backend.CreateLoan(ctx, boardgameID, userID, dueDate)
	if err != nil {
		if !errors.Is(err, loans.ErrAlreadyOnLoan) {
			s.log.Error("borrow failed", zap.String("boardgame_id", boardgameID), zap.Error(err))
		}
		return loans.Loan{}, err
	}
	return l, nil
}

// Return closes the game's open loan. The loan is resolved from the
// local cache; a game with no cached open loan fails with ErrNotOnLoan
// and the cache is left unchanged.
func (s *LoanSync) Return(ctx context.Context, boardgameID string) (loans.Loan, error) {
	l, ok := s.find(boardgameID)
	if !ok {
		return loans.Loan{}, loans.ErrNotOnLoan
	}

	closed, err := s.backend.CloseLoan(ctx, l.ID, time.Now().UTC())
	if err != nil {
		if !errors.Is(err, loans.ErrLoanNotFound) {
			s.log.Error("return failed", zap.String("loan_id", l.ID), zap.Error(err))
		}
		return loans.Loan{}, err
	}
	return closed, nil
}

// LoanDetails resolves the game's open loan together with the
// borrower's profile. The profile is a read-through point read, never
// cached; when it fails the loan is still returned, with a nil
// borrower, matching how the availability screens degrade.
func (s *LoanSync) LoanDetails(ctx context.Context, boardgameID string) (loans.Loan, *loans.Profile, error) {
	l, ok := s.find(boardgameID)
	if !ok {
		return loans.Loan{}, nil, loans.ErrNotOnLoan
	}

	p, err := s.backend.Profile(ctx, l.UserID)
	if err != nil {
		s.log.Warn("borrower profile lookup failed",
			zap.String("user_id", l.UserID), zap.Error(err))
		return l, nil, nil
	}
	return l, &p, nil
}

// Refetch re-runs the bulk read and fully replaces the cache. This is
// the manual reconciliation hammer: push events may race a caller's own
// expectations, and a stale cache after a feed drop has no other way
// back.
func (s *LoanSync) Refetch(ctx context.Context) error {
	records, seq, err := s.backend.OpenLoans(ctx)
	if err != nil {
		s.log.Error("refetch failed", zap.Error(err))
		return err
	}

	reply := make(chan struct{}, 1)
	select {
	case s.inbox <- replace{Cache: loans.Snapshot(records, seq), Reply: reply}:
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}
