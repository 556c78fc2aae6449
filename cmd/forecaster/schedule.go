package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/autopo-forecast/internal/app"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
)

// cronLogger routes cron's own logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func runSchedule(c *cli.Context, a *app.App) error {
	sched := a.Config.Schedule
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return fmt.Errorf("invalid schedule timezone %q: %w", sched.Timezone, err)
	}

	clog := cronLogger{logger: log.With().Str("component", "scheduler").Logger()}
	scheduler := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	ctx := c.Context
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"reconcile", sched.ReconcileSpec, func(ctx context.Context) error {
			summary, err := a.Accuracy.ReconcileLatest(ctx)
			if err != nil {
				return err
			}
			log.Info().
				Str("month", domain.FormatMonth(summary.Month)).
				Float64("avg_mape", summary.AvgMAPE).
				Int("actuals_found", summary.ActualsFound).
				Msg("Scheduled reconciliation finished")
			return nil
		}},
		{"learn", sched.LearnSpec, func(ctx context.Context) error {
			result, err := a.Accuracy.Learn(ctx)
			if err != nil {
				return err
			}
			log.Info().
				Int("records", result.Report.RecordsAnalyzed).
				Int("inserted", result.Inserted).
				Msg("Scheduled learning pass finished")
			return nil
		}},
		{"forecast", sched.ForecastSpec, func(ctx context.Context) error {
			_, err := a.Orchestrator(0).Run(ctx, pipeline.RunRequest{})
			return err
		}},
	}

	for _, job := range jobs {
		if job.spec == "" {
			log.Info().Str("job", job.name).Msg("Job disabled, no schedule configured")
			continue
		}
		job := job
		id, err := scheduler.AddFunc(job.spec, func() {
			start := time.Now()
			if err := job.run(ctx); err != nil {
				log.Error().Err(err).Str("job", job.name).Msg("Scheduled job failed")
				return
			}
			log.Info().Str("job", job.name).Dur("duration", time.Since(start)).Msg("Scheduled job completed")
		})
		if err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", job.name, job.spec, err)
		}
		log.Info().Str("job", job.name).Str("spec", job.spec).Int("entry", int(id)).Msg("Job scheduled")
	}

	scheduler.Start()
	log.Info().Str("timezone", loc.String()).Msg("Scheduler started")

	<-ctx.Done()
	log.Info().Msg("Shutting down scheduler...")
	<-scheduler.Stop().Done()
	log.Info().Msg("Scheduler stopped")
	return nil
}
