package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sejoga/game-loans-backend/internal/loans"
)

// EventSink is where committed mutations are announced. Satisfied by
// *feed.Feed; stamped sequence is returned for logging.
type EventSink interface {
	PublishWait(e loans.Event) uint64
	Seq() uint64
}

// LoanRecord is the game_loans row.
type LoanRecord struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	BoardgameID string    `gorm:"type:uuid;not null;index"`
	UserID      string    `gorm:"type:uuid;not null"`
	BorrowedAt  time.Time `gorm:"not null"`
	DueDate     *time.Time
	ReturnedAt  *time.Time `gorm:"index"`
}

func (LoanRecord) TableName() string { return "game_loans" }

type ProfileRecord struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	Name          string `gorm:"not null"`
	Email         string `gorm:"not null"`
	Role          string `gorm:"not null;default:user"`
	BackgroundURL string
}

func (ProfileRecord) TableName() string { return "profiles" }

func Connect(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}

// Migrate creates the tables plus the partial unique index that backs
// the one-open-loan-per-game invariant at the database level.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&LoanRecord{}, &ProfileRecord{}); err != nil {
		return err
	}
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_game_loans_one_open
		 ON game_loans (boardgame_id) WHERE returned_at IS NULL`,
	).Error
}

// LoanStore persists game_loans rows and announces every committed
// mutation on the loans change channel. mu serializes commit+publish:
// the feed assigns Seq in publish order, so two mutations on the same
// game must not commit in one order and publish in the other (a close
// overtaking a fresh borrow would wrongly clear the new cache entry on
// every session).
type LoanStore struct {
	db   *gorm.DB
	feed EventSink
	mu   sync.Mutex
	log  *zap.Logger
}

func NewLoanStore(db *gorm.DB, feed EventSink, log *zap.Logger) *LoanStore {
	return &LoanStore{db: db, feed: feed, log: log.Named("loan_store")}
}

// OpenLoans is the bulk read backing cache initialization: every loan
// not yet returned, plus the feed sequence the snapshot is stamped
// with. The sequence is read before the query, so an event published
// during the query is re-applied on top of the snapshot (a harmless
// idempotent overwrite) instead of being discarded as stale.
func (s *LoanStore) OpenLoans(ctx context.Context) ([]loans.Loan, uint64, error) {
	seq := s.feed.Seq()

	var recs []LoanRecord
	if err := s.db.WithContext(ctx).
		Where("returned_at IS NULL").
		Order("borrowed_at").
		Find(&recs).Error; err != nil {
		return nil, 0, translate(err)
	}

	out := make([]loans.Loan, 0, len(recs))
	for _, r := range recs {
		out = append(out, toLoan(r))
	}
	return out, seq, nil
}

// CreateLoan opens a loan for a game. The one-open-loan invariant is
// enforced here, not left to the caller: inside the transaction any
// existing open loan for the game is locked and checked, and the
// partial unique index catches whatever slips past concurrent
// transactions (surfaced as ErrAlreadyOnLoan either way).
func (s *LoanStore) CreateLoan(ctx context.Context, boardgameID, userID string, dueDate *time.Time) (loans.Loan, error) {
	rec := LoanRecord{
		ID:          uuid.NewString(),
		BoardgameID: boardgameID,
		UserID:      userID,
		BorrowedAt:  time.Now().UTC(),
		DueDate:     dueDate,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []LoanRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("boardgame_id = ? AND returned_at IS NULL", boardgameID).
			Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) > 0 {
			return loans.ErrAlreadyOnLoan
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return loans.Loan{}, translate(err)
	}

	l := toLoan(rec)
	seq := s.feed.PublishWait(loans.Event{Type: loans.EvtInsert, New: &l})
	s.log.Info("loan created",
		zap.String("loan_id", l.ID),
		zap.String("boardgame_id", l.BoardgameID),
		zap.Uint64("seq", seq))
	return l, nil
}

// CloseLoan marks a loan returned. Closing an unknown or
// already-closed loan reports ErrLoanNotFound.
func (s *LoanStore) CloseLoan(ctx context.Context, loanID string, returnedAt time.Time) (loans.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).
		Model(&LoanRecord{}).
		Where("id = ? AND returned_at IS NULL", loanID).
		Update("returned_at", returnedAt.UTC())
	if res.Error != nil {
		return loans.Loan{}, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return loans.Loan{}, loans.ErrLoanNotFound
	}

	var rec LoanRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", loanID).Error; err != nil {
		return loans.Loan{}, translate(err)
	}

	l := toLoan(rec)
	seq := s.feed.PublishWait(loans.Event{Type: loans.EvtUpdate, New: &l})
	s.log.Info("loan closed",
		zap.String("loan_id", l.ID),
		zap.String("boardgame_id", l.BoardgameID),
		zap.Uint64("seq", seq))
	return l, nil
}

// DeleteLoan removes a loan row outright (admin cleanup of a loan
// recorded by mistake).
func (s *LoanStore) DeleteLoan(ctx context.Context, loanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec LoanRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", loanID).Error; err != nil {
		return translate(err)
	}

	res := s.db.WithContext(ctx).Delete(&LoanRecord{}, "id = ?", loanID)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return loans.ErrLoanNotFound
	}

	l := toLoan(rec)
	s.feed.PublishWait(loans.Event{Type: loans.EvtDelete, Old: &l})
	s.log.Info("loan deleted", zap.String("loan_id", l.ID))
	return nil
}

// ProfileStore resolves borrower identities and carries the profile
// change channel (background image updates follow the same push
// pattern as loans).
type ProfileStore struct {
	db   *gorm.DB
	feed EventSink
	log  *zap.Logger
}

func NewProfileStore(db *gorm.DB, feed EventSink, log *zap.Logger) *ProfileStore {
	return &ProfileStore{db: db, feed: feed, log: log.Named("profile_store")}
}

func (s *ProfileStore) Profile(ctx context.Context, userID string) (loans.Profile, error) {
	var rec ProfileRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return loans.Profile{}, loans.ErrProfileNotFound
		}
		return loans.Profile{}, translate(err)
	}
	return toProfile(rec), nil
}

func (s *ProfileStore) SetBackground(ctx context.Context, userID, url string) (loans.Profile, error) {
	res := s.db.WithContext(ctx).
		Model(&ProfileRecord{}).
		Where("id = ?", userID).
		Update("background_url", url)
	if res.Error != nil {
		return loans.Profile{}, translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return loans.Profile{}, loans.ErrProfileNotFound
	}

	var rec ProfileRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", userID).Error; err != nil {
		return loans.Profile{}, translate(err)
	}

	p := toProfile(rec)
	s.feed.PublishWait(loans.Event{Type: loans.EvtUpdate, Profile: &p})
	return p, nil
}

func toLoan(r LoanRecord) loans.Loan {
	return loans.Loan{
		ID:          r.ID,
		BoardgameID: r.BoardgameID,
		UserID:      r.UserID,
		BorrowedAt:  r.BorrowedAt,
		DueDate:     r.DueDate,
		ReturnedAt:  r.ReturnedAt,
	}
}

func toProfile(r ProfileRecord) loans.Profile {
	return loans.Profile{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		Role:          loans.Role(r.Role),
		BackgroundURL: r.BackgroundURL,
	}
}
