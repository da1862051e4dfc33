package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tabconsole/internal/devidentity"
	"github.com/pscheid92/tabconsole/internal/platform/config"
	"github.com/pscheid92/tabconsole/internal/platform/logging"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cfg, err := config.LoadIdentity()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	clock := clockwork.NewRealClock()

	directory := devidentity.NewDirectory(clock, bcrypt.DefaultCost)
	if err := directory.Seed(); err != nil {
		slog.Error("Failed to seed directory", "error", err)
		os.Exit(1)
	}

	issuer, err := devidentity.NewIssuer(cfg.Secret, clock)
	if err != nil {
		slog.Error("Failed to create credential issuer", "error", err)
		os.Exit(1)
	}

	srv := devidentity.NewServer(directory, issuer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}
	}()

	if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
