package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background import worker",
	Long:  `Start the worker importing every enabled venue on the configured interval`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	app, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	interval := app.cfg.Import.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	importAll := func() {
		outcomes := app.service.ImportAll(ctx)
		for origin, outcome := range outcomes {
			if !outcome.Success {
				log.Error().Str("origin", origin).Str("message", outcome.Message).Msg("Scheduled import failed")
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		var opts []gocron.JobOption
		if app.cfg.Import.OnStart {
			opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
		}
		// a slow import must not overlap with the next run
		opts = append(opts, gocron.WithSingletonMode(gocron.LimitModeReschedule))

		_, err = scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(importAll),
			opts...,
		)
		if err != nil {
			return err
		}

		log.Info().Dur("interval", interval).Strs("origins", app.service.Origins()).Msg("Starting import scheduler")
		scheduler.Start()

		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
