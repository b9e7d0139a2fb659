package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sejoga/game-loans-backend/internal/loans"
)

var validate = validator.New()

// LoanStore is what the loan endpoints need from persistence.
type LoanStore interface {
	OpenLoans(ctx context.Context) ([]loans.Loan, uint64, error)
	CreateLoan(ctx context.Context, boardgameID, userID string, dueDate *time.Time) (loans.Loan, error)
	CloseLoan(ctx context.Context, loanID string, returnedAt time.Time) (loans.Loan, error)
	DeleteLoan(ctx context.Context, loanID string) error
}

type ProfileStore interface {
	Profile(ctx context.Context, userID string) (loans.Profile, error)
	SetBackground(ctx context.Context, userID, url string) (loans.Profile, error)
}

type borrowRequest struct {
	BoardgameID string     `json:"boardgame_id" validate:"required,uuid4"`
	UserID      string     `json:"user_id" validate:"required,uuid4"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

type backgroundRequest struct {
	BackgroundURL string `json:"background_url" validate:"required,url"`
}

// openLoansResponse stamps the snapshot with the feed sequence observed
// before the read, so a subscriber can discard events the snapshot
// already covers.
type openLoansResponse struct {
	FeedSeq uint64       `json:"feed_seq"`
	Loans   []loans.Loan `json:"loans"`
}

func OpenLoans(s LoanStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, seq, err := s.OpenLoans(r.Context())
		if err != nil {
			log.Error("open loans read failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read loans")
			return
		}
		writeJSON(w, http.StatusOK, openLoansResponse{FeedSeq: seq, Loans: records})
	}
}

func BorrowGame(s LoanStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req borrowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		l, err := s.CreateLoan(r.Context(), req.BoardgameID, req.UserID, req.DueDate)
		if errors.Is(err, loans.ErrAlreadyOnLoan) {
			writeError(w, http.StatusConflict, "game is already on loan")
			return
		}
		if err != nil {
			log.Error("borrow failed", zap.String("boardgame_id", req.BoardgameID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create loan")
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

func ReturnGame(s LoanStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID := chi.URLParam(r, "id")

		l, err := s.CloseLoan(r.Context(), loanID, time.Now().UTC())
		if errors.Is(err, loans.ErrLoanNotFound) {
			writeError(w, http.StatusNotFound, "no open loan with that id")
			return
		}
		if err != nil {
			log.Error("return failed", zap.String("loan_id", loanID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to close loan")
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func DeleteLoan(s LoanStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID := chi.URLParam(r, "id")

		err := s.DeleteLoan(r.Context(), loanID)
		if errors.Is(err, loans.ErrLoanNotFound) {
			writeError(w, http.StatusNotFound, "loan not found")
			return
		}
		if err != nil {
			log.Error("delete failed", zap.String("loan_id", loanID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to delete loan")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func GetProfile(s ProfileStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		p, err := s.Profile(r.Context(), userID)
		if errors.Is(err, loans.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		if err != nil {
			log.Error("profile read failed", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read profile")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func SetBackground(s ProfileStore, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")

		var req backgroundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		p, err := s.SetBackground(r.Context(), userID, req.BackgroundURL)
		if errors.Is(err, loans.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		if err != nil {
			log.Error("background update failed", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to update background")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
