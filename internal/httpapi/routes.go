package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sejoga/game-loans-backend/internal/hub"
	"github.com/sejoga/game-loans-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, loanStore LoanStore, profileStore ProfileStore, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)

	r.Get("/loans/open", OpenLoans(loanStore, log))
	r.Post("/loans", BorrowGame(loanStore, log))
	r.Post("/loans/{id}/return", ReturnGame(loanStore, log))
	r.Delete("/loans/{id}", DeleteLoan(loanStore, log))

	r.Get("/profiles/{id}", GetProfile(profileStore, log))
	r.Patch("/profiles/{id}/background", SetBackground(profileStore, log))

	r.Get("/ws", ws.Handler(h, log))
	return r
}
