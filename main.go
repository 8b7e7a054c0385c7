package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/serroba/textsync/internal/api"
	"github.com/serroba/textsync/internal/collab"
	"github.com/serroba/textsync/internal/config"
	"github.com/serroba/textsync/internal/storage"
	"github.com/serroba/textsync/internal/ws"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := cfg.SetupLogging(os.Stderr); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}

	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	var snapshots *storage.SnapshotPolicy
	if cfg.SnapshotEvery > 0 {
		snapshots = storage.NewSnapshotPolicy(cfg.SnapshotEvery)
	}

	hub := ws.NewHub()
	manager := collab.NewManager(collab.ManagerConfig{
		Store:          store,
		Hub:            hub,
		SnapshotPolicy: snapshots,
		HistorySize:    cfg.HistorySize,
		PendingLimit:   cfg.PendingLimit,
	})

	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	server := api.NewServer(api.ServerConfig{
		Manager: manager,
		Hub:     hub,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("starting server")

		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	// Hijacked WebSocket connections outlive Shutdown; closing the
	// sessions takes the final snapshots.
	if err := manager.CloseAll(shutdownCtx); err != nil {
		return fmt.Errorf("close sessions: %w", err)
	}

	return nil
}
