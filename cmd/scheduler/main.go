package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/unclebandit/outreach-backend/internal/app"
	"github.com/unclebandit/outreach-backend/internal/config"
	"github.com/unclebandit/outreach-backend/internal/logger"
	"github.com/unclebandit/outreach-backend/internal/scheduler"
)

// tickTimeout bounds one pass; inline batch processing can run long.
const tickTimeout = 10 * time.Minute

func main() {
	var once bool
	cmd := &cobra.Command{
		Use:          "scheduler",
		Short:        "start due campaigns, create resends and recover stalled sends",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Env, cfg.Log.Level)
			if err != nil {
				return err
			}
			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			s := scheduler.NewScheduler(cfg.Scheduler.Spec, a.CampaignService, tickTimeout, logger.Component(log, "scheduler"))
			if once {
				s.RunOnce(cmd.Context())
				return nil
			}

			if err := s.Start(); err != nil {
				return fmt.Errorf("scheduler spec %q: %w", cfg.Scheduler.Spec, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			log.Info().Msg("waiting for running pass")
			<-s.Stop().Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
