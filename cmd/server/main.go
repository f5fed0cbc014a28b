package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/guessr-backend/internal/config"
	"github.com/DoyleJ11/guessr-backend/internal/httpapi"
	"github.com/DoyleJ11/guessr-backend/internal/hub"
	"github.com/DoyleJ11/guessr-backend/internal/logging"
	"github.com/DoyleJ11/guessr-backend/internal/metrics"
	"github.com/DoyleJ11/guessr-backend/internal/relay"
	"github.com/DoyleJ11/guessr-backend/internal/session"
	"github.com/DoyleJ11/guessr-backend/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	rec := metrics.NewRecorder()
	broker := relay.NewBroker(st, log)
	defer func() { err = multierr.Append(err, broker.Close()) }()

	// Sessions outlive the signal context until the hub is shut down below.
	h := hub.NewHub(context.Background(), func(ctx context.Context, code string) (*session.Session, error) {
		return session.New(ctx, code, broker, session.Options{
			InboxSize: cfg.SessionInbox,
			Logger:    log,
			Metrics:   rec,
		})
	}, log)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Store:   st,
			Broker:  broker,
			Hub:     h,
			Metrics: rec,
			Log:     log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		done := make(chan struct{})
		h.Inbox() <- hub.ShutdownHub{Done: done}
		select {
		case <-done:
		case <-shutdownCtx.Done():
			log.Warn("sessions did not stop in time")
		}
		return err
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info("using in-memory store")
		return store.NewMemoryStore(), func() error { return nil }, nil
	}

	st, closeDB, err := store.OpenPostgres(ctx, store.PostgresConfig{DSN: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	log.Info("connected to postgres")
	return st, closeDB, nil
}
