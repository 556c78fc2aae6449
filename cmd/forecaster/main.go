package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/autopo-forecast/internal/app"
	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
	"github.com/andresuchdata/autopo-forecast/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:  "forecaster",
		Usage: "Demand forecasting, reconciliation and learning jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: func(c *cli.Context) error {
			cfg := config.Load()
			level := c.String("log-level")
			if level == "" {
				level = cfg.Log.Level
			}
			logger.SetLevel(level)
			logger.EnableFileOutput(cfg.Log.File)
			return cfg.Validate()
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema",
				Action: withApp(runMigrate),
			},
			{
				Name:  "forecast",
				Usage: "Run a batch forecast over every active SKU/warehouse",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run-id",
						Usage: "Resume (or create) the run with this id",
					},
					&cli.StringFlag{
						Name:  "anchor",
						Usage: "Anchor month YYYY-MM (default: latest month with sales)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent workers (default from FORECAST_WORKERS)",
					},
					&cli.StringSliceFlag{
						Name:  "sku",
						Usage: "Limit the run to SKU@WAREHOUSE (repeatable)",
					},
				},
				Action: withApp(runForecast),
			},
			{
				Name:  "reconcile",
				Usage: "Attach actuals to forecasts of a closed month",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "month",
						Usage: "Month YYYY-MM (default: latest month with sales)",
					},
				},
				Action: withApp(runReconcile),
			},
			{
				Name:   "learn",
				Usage:  "Analyse reconciled forecasts and store recommendations",
				Action: withApp(runLearn),
			},
			{
				Name:   "schedule",
				Usage:  "Run reconcile, learn and forecast on their cron schedules",
				Action: withApp(runSchedule),
			},
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("forecaster failed")
	}
}

func withApp(fn func(c *cli.Context, a *app.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, err := app.New(c.Context, config.Load())
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(c, a)
	}
}

func runMigrate(c *cli.Context, a *app.App) error {
	return a.DB.Migrate(c.Context)
}

func runForecast(c *cli.Context, a *app.App) error {
	req := pipeline.RunRequest{RunID: c.String("run-id")}

	if raw := c.String("anchor"); raw != "" {
		anchor, err := domain.ParseMonth(raw)
		if err != nil {
			return err
		}
		req.Anchor = anchor
	}

	keys, err := parseSeries(c.StringSlice("sku"))
	if err != nil {
		return err
	}
	req.Keys = keys

	run, err := a.Orchestrator(c.Int("workers")).Run(c.Context, req)
	if err != nil {
		return err
	}
	fmt.Printf("run %s %s: %d processed, %d failed, %d skipped of %d\n",
		run.ID, run.Status, run.ProcessedSKUs, run.FailedSKUs, run.SkippedSKUs, run.TotalSKUs)
	return nil
}

func runReconcile(c *cli.Context, a *app.App) error {
	var (
		summary *domain.ReconciliationSummary
		err     error
	)
	if raw := c.String("month"); raw != "" {
		month, perr := domain.ParseMonth(raw)
		if perr != nil {
			return perr
		}
		summary, err = a.Accuracy.Reconcile(c.Context, month)
	} else {
		summary, err = a.Accuracy.ReconcileLatest(c.Context)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d forecasts, %d actuals, %d missing, %d stockout-affected, MAPE %.2f%%\n",
		domain.FormatMonth(summary.Month), summary.TotalForecasts, summary.ActualsFound,
		summary.Missing, summary.StockoutAffectedCount, summary.AvgMAPE)
	return nil
}

func runLearn(c *cli.Context, a *app.App) error {
	result, err := a.Accuracy.Learn(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("analysed %d records since %s: %d proposed, %d new\n",
		result.Report.RecordsAnalyzed, domain.FormatMonth(result.Since),
		len(result.Report.Adjustments), result.Inserted)
	for bucket, method := range result.Report.BestMethods {
		fmt.Printf("  best method %s: %s\n", bucket, method)
	}
	return nil
}

// parseSeries accepts SKU@WAREHOUSE values.
func parseSeries(values []string) ([]domain.SKUKey, error) {
	keys := make([]domain.SKUKey, 0, len(values))
	for _, v := range values {
		sku, wh, ok := strings.Cut(strings.TrimSpace(v), "@")
		if !ok || sku == "" || wh == "" {
			return nil, fmt.Errorf("invalid --sku %q, expected SKU@WAREHOUSE", v)
		}
		keys = append(keys, domain.SKUKey{SKU: sku, Warehouse: wh})
	}
	return keys, nil
}
