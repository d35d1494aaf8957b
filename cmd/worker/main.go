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

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/outreach-backend/internal/app"
	"github.com/unclebandit/outreach-backend/internal/config"
	"github.com/unclebandit/outreach-backend/internal/logger"
)

var errNoBroker = errors.New("worker requires amqp.url")

func main() {
	cfg := config.MustLoad()
	log, err := logger.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start worker")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, a); err != nil {
		log.Error().Err(err).Msg("worker stopped")
		return
	}
	log.Info().Msg("worker stopped")
}

// run consumes batch tasks and serves /metrics until ctx is done.
func run(ctx context.Context, a *app.App) error {
	if a.Queue == nil {
		return errNoBroker
	}
	if err := a.Queue.Subscribe(a.Config.AMQP.BatchQueue, a.HandleBatchMessage); err != nil {
		return err
	}

	srv := metricsServer(a)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	a.Logger.Info().
		Str("queue", a.Config.AMQP.BatchQueue).
		Str("metrics_addr", a.Config.Metrics.Addr).
		Msg("worker running, waiting for batches")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func metricsServer(a *app.App) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", a.Metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              a.Config.Metrics.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
