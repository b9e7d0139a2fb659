package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/sejoga/game-loans-backend/internal/config"
	"github.com/sejoga/game-loans-backend/internal/httpapi"
	"github.com/sejoga/game-loans-backend/internal/hub"
	"github.com/sejoga/game-loans-backend/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	ctx := context.Background()
	h := hub.NewHub(ctx, logger)
	loanFeed := h.Ensure("game_loans")
	profileFeed := h.Ensure("profiles")

	loanStore := store.NewLoanStore(db, loanFeed, logger)
	profileStore := store.NewProfileStore(db, profileFeed, logger)

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(h, loanStore, profileStore, logger)

	server := http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	h.Inbox() <- hub.ShutdownHub{}
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
