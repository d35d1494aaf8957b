package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-backend/internal/service"
)

// Ticker runs one pass of the periodic jobs.
type Ticker interface {
	Tick(ctx context.Context) (service.TickResult, error)
}

// Scheduler drives a Ticker from a cron spec. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	ticker  Ticker
	timeout time.Duration
	logger  zerolog.Logger
}

func NewScheduler(spec string, ticker Ticker, timeout time.Duration, log zerolog.Logger) *Scheduler {
	cl := cronLogger{log: log}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		spec:    spec,
		ticker:  ticker,
		timeout: timeout,
		logger:  log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info().Str("spec", s.spec).Msg("scheduler started")
	return nil
}

// Stop halts the cron and returns a context that is done when a running pass finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce performs one pass and logs its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) service.TickResult {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := time.Now()
	res, err := s.ticker.Tick(ctx)

	ev := s.logger.Debug()
	if res.Started+res.Republished+res.Resends > 0 || res.ExpiredClaims > 0 {
		ev = s.logger.Info()
	}
	if err != nil {
		ev = s.logger.Error().Err(err)
	}
	ev.Int("started", res.Started).
		Int("republished", res.Republished).
		Int64("expired_claims", res.ExpiredClaims).
		Int("resends", res.Resends).
		Dur("took", time.Since(started)).
		Msg("scheduler tick")
	return res
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
