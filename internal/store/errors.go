package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/sejoga/game-loans-backend/internal/loans"
)

const uniqueViolation = "23505"

// translate maps driver-level failures onto the domain sentinels the
// rest of the system matches on. A unique violation on the open-loan
// index means a concurrent transaction won the borrow race.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return loans.ErrAlreadyOnLoan
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return loans.ErrLoanNotFound
	}
	return err
}
