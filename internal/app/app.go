// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-backend/internal/config"
	"github.com/unclebandit/outreach-backend/internal/controller"
	"github.com/unclebandit/outreach-backend/internal/db"
	"github.com/unclebandit/outreach-backend/internal/handler"
	"github.com/unclebandit/outreach-backend/internal/logger"
	"github.com/unclebandit/outreach-backend/internal/metrics"
	"github.com/unclebandit/outreach-backend/internal/queue"
	"github.com/unclebandit/outreach-backend/internal/repository"
	"github.com/unclebandit/outreach-backend/internal/segment"
	"github.com/unclebandit/outreach-backend/internal/service"
	"github.com/unclebandit/outreach-backend/internal/transport"
)

// App is the wired process shared by the server, worker and scheduler binaries.
type App struct {
	Config  config.Config
	Logger  zerolog.Logger
	DB      *sqlx.DB
	Metrics *metrics.Metrics
	// Queue is nil when no broker is configured.
	Queue queue.Queue

	Campaigns *repository.CampaignRepository
	Emails    *repository.QueuedEmailRepository
	Templates *repository.TemplateRepository
	Customers *repository.CustomerRepository
	Settings  *repository.SettingsRepository

	CampaignService *service.CampaignService
	WebhookService  *service.WebhookService
}

// New opens the database, the transport and, when configured, the broker.
func New(cfg config.Config, log zerolog.Logger) (*App, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	tr, err := transport.New(cfg.Transport, log)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("transport: %w", err)
	}

	a := &App{
		Config:    cfg,
		Logger:    log,
		DB:        conn,
		Metrics:   metrics.New(),
		Campaigns: &repository.CampaignRepository{DB: conn},
		Emails:    &repository.QueuedEmailRepository{DB: conn, Logger: logger.Component(log, "queue_store")},
		Templates: &repository.TemplateRepository{DB: conn},
		Customers: &repository.CustomerRepository{DB: conn},
		Settings:  &repository.SettingsRepository{DB: conn},
	}
	if cfg.AMQP.Enabled() {
		q, err := queue.DialAMQP(cfg.AMQP.URL, logger.Component(log, "amqp"))
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("amqp: %w", err)
		}
		a.Queue = q
	}

	tx := repository.NewProvider(conn)
	events := &repository.EventRepository{DB: conn}
	processor := &service.BatchProcessor{
		Tx:           tx,
		CampaignRepo: a.Campaigns,
		EmailRepo:    a.Emails,
		TemplateRepo: a.Templates,
		Transport:    tr,
		Config:       cfg.Processor,
		SendTimeout:  cfg.Transport.Timeout,
		Metrics:      a.Metrics,
		Logger:       logger.Component(log, "processor"),
	}
	a.CampaignService = &service.CampaignService{
		Tx:           tx,
		CampaignRepo: a.Campaigns,
		EmailRepo:    a.Emails,
		EventRepo:    events,
		TemplateRepo: a.Templates,
		SettingsRepo: a.Settings,
		Resolver: &segment.CustomerResolver{
			Customers: a.Customers,
			Emails:    a.Emails,
			Config: segment.Config{
				VIPThreshold: cfg.Outreach.VIPThresholdDecimal(),
				ActiveDays:   cfg.Outreach.ActiveDays,
				DormantDays:  cfg.Outreach.DormantDays,
			},
		},
		Processor:  processor,
		Queue:      a.Queue,
		BatchQueue: cfg.AMQP.BatchQueue,
		Defaults:   cfg.Outreach,
		Scheduler:  cfg.Scheduler,
		Metrics:    a.Metrics,
		Logger:     logger.Component(log, "campaigns"),
	}
	a.WebhookService = &service.WebhookService{
		Tx:           tx,
		CampaignRepo: a.Campaigns,
		EmailRepo:    a.Emails,
		EventRepo:    events,
		Metrics:      a.Metrics,
		Logger:       logger.Component(log, "webhooks"),
	}
	return a, nil
}

// Router is the HTTP API.
func (a *App) Router() http.Handler {
	return handler.NewRouter(
		&controller.CampaignController{CampaignService: a.CampaignService},
		&handler.CampaignHandler{Service: a.CampaignService, Webhooks: a.WebhookService, Logger: logger.Component(a.Logger, "http")},
		a.Metrics,
		a.Logger,
	)
}

// HandleBatchMessage runs one queued batch task. Malformed tasks are dropped
// since redelivery cannot fix them.
func (a *App) HandleBatchMessage(ctx context.Context, body []byte) error {
	task, err := queue.DecodeBatchTask(body)
	if err != nil {
		a.Logger.Error().Err(err).RawJSON("body", body).Msg("dropping malformed batch task")
		return nil
	}
	_, err = a.CampaignService.HandleBatchTask(ctx, task)
	return err
}

func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
