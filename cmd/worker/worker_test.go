package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-backend/internal/app"
	"github.com/unclebandit/outreach-backend/internal/config"
	"github.com/unclebandit/outreach-backend/internal/db"
	"github.com/unclebandit/outreach-backend/internal/queue"
)

func newApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Config{
		Database:  config.DatabaseConfig{Driver: "sqlite3", Path: filepath.Join(t.TempDir(), "worker.db"), MaxOpenConns: 2},
		Transport: config.TransportConfig{Kind: "mock"},
		AMQP:      config.AMQPConfig{BatchQueue: "campaign_batches"},
		Metrics:   config.MetricsConfig{Addr: "127.0.0.1:0"},
		Outreach:  config.OutreachConfig{SenderEmail: "outreach@example.com", SendRate: 60},
		Processor: config.ProcessorConfig{LiveBatchSize: 1, DryRunBatchSize: 100},
	}
	_, err := db.MigrateUp(cfg.Database)
	require.NoError(t, err)
	a, err := app.New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestRunRequiresBroker(t *testing.T) {
	a := newApp(t)
	err := run(context.Background(), a)
	assert.ErrorIs(t, err, errNoBroker)
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newApp(t)
	a.Queue = queue.NewInMemoryQueue(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, run(ctx, a))
}

func TestMetricsServerRoutes(t *testing.T) {
	a := newApp(t)
	h := metricsServer(a).Handler

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "outreach_")
}
