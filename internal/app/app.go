// Package app wires configuration, storage and services for the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/cache"
	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
	"github.com/andresuchdata/autopo-forecast/internal/repository/postgres"
	"github.com/andresuchdata/autopo-forecast/internal/service"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
)

// App holds the wired collaborators shared by the binaries.
type App struct {
	Config    *config.Config
	DB        *postgres.DB
	Repos     service.Repositories
	Archive   *storage.ReportArchive
	Forecasts *service.ForecastService
	Accuracy  *service.AccuracyService
}

// New connects to Postgres, Redis and object storage and builds the services.
// A Redis outage degrades to an uncached service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	forecastCache, err := cache.NewForecastCache(cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, continuing without cache")
		forecastCache = cache.NewNoopForecastCache()
	}

	archive, err := storage.NewReportArchive(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise report archive: %w", err)
	}

	forecastRepo := postgres.NewForecastRepository(db)
	repos := service.Repositories{
		Demand:          postgres.NewDemandRepository(db),
		Classifications: postgres.NewClassificationRepository(db),
		Forecasts:       forecastRepo,
		Runs:            forecastRepo,
		Records:         postgres.NewAccuracyRepository(db),
		Adjustments:     postgres.NewAdjustmentRepository(db),
	}

	generator := forecast.NewGenerator(cfg.Forecast.Engine())
	forecasts := service.NewForecastService(repos, generator, forecastCache, cfg.Learning.ApplyOnNextRun)
	accuracySvc := service.NewAccuracyService(repos, cfg.Learning.Engine(), archive)

	return &App{
		Config:    cfg,
		DB:        db,
		Repos:     repos,
		Archive:   archive,
		Forecasts: forecasts,
		Accuracy:  accuracySvc,
	}, nil
}

// Orchestrator builds a batch runner. workers <= 0 uses the configured pool size.
func (a *App) Orchestrator(workers int) *pipeline.Orchestrator {
	if workers <= 0 {
		workers = a.Config.Forecast.Workers
	}
	return pipeline.NewOrchestrator(
		pipeline.RunConfig{Workers: workers, ProgressStep: a.Config.Forecast.ProgressStepPercent},
		a.Repos.Runs, a.Repos.Demand, a.Repos.Classifications, a.Repos.Records, a.Repos.Forecasts,
		a.Forecasts, a.Archive,
	)
}

func (a *App) Close() {
	if err := a.DB.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close database")
	}
}
