package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gend/internal/config"
	"gend/internal/httpapi"
	"gend/internal/registry"
	"gend/internal/scheduler"
	"gend/internal/store"
	"gend/internal/stream"
)

func runServe(cmd *cobra.Command, args []string) error {
	// A .env next to the binary may carry GEND_* overrides; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("store close")
		}
	}()

	// Jobs left non-terminal by the previous process are failed before any
	// new submission can race them.
	n, err := st.ReconcileInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("reconcile interrupted jobs: %w", err)
	}
	if n > 0 {
		log.Warn().Int("jobs", n).Msg("failed jobs interrupted by restart")
	}

	reg, err := registry.New(cfg.Models, registry.DefaultFactory, log)
	if err != nil {
		return fmt.Errorf("load models: %w", err)
	}
	defer reg.Close()

	hub := stream.NewHub(cfg.Scheduler.SubscriberBuffer, log)
	sched := scheduler.New(st, reg, hub, scheduler.Config{
		CheckpointInterval: cfg.Scheduler.CheckpointInterval(),
		StoreRetryMax:      cfg.Scheduler.StoreRetryMax,
		StoreRetryBackoff:  cfg.Scheduler.StoreRetryBackoff(),
		QueueDepth:         cfg.Scheduler.QueueDepth,
	}, log)

	api := httpapi.New(httpapi.Config{
		Service:     sched,
		Log:         log,
		BaseContext: ctx,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Int("models", len(cfg.Models)).Msg("gend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return err
	}

	// Streams exit via the canceled base context, so the listener drains
	// quickly; then the scheduler flushes its queues and the store closes.
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.DrainTimeout())
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := sched.Close(drainCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler drain")
	}
	log.Info().Msg("gend stopped")
	return nil
}

// newLogger builds the root logger from the server config. Console format is
// for interactive use; JSON for anything that ships logs.
func newLogger(cfg config.Server) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var w io.Writer = os.Stderr
	if cfg.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
