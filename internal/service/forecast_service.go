package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/accuracy"
	"github.com/andresuchdata/autopo-forecast/internal/cache"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// Repositories bundles the persistence collaborators shared by the services.
type Repositories struct {
	Demand          repository.DemandRepository
	Classifications repository.ClassificationRepository
	Forecasts       repository.ForecastRepository
	Runs            repository.RunRepository
	Records         repository.AccuracyRepository
	Adjustments     repository.AdjustmentRepository
}

// ForecastService assembles per-SKU generator input, then saves and records the result.
type ForecastService struct {
	repos            Repositories
	generator        *forecast.Generator
	recorder         *accuracy.Recorder
	cache            cache.ForecastCache
	applyAdjustments bool
	now              func() time.Time

	mu   sync.Mutex
	runs map[string]*runAdjustments
}

func NewForecastService(repos Repositories, generator *forecast.Generator, cacheImpl cache.ForecastCache, applyAdjustments bool) *ForecastService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopForecastCache()
	}
	return &ForecastService{
		repos:            repos,
		generator:        generator,
		recorder:         accuracy.NewRecorder(repos.Records),
		cache:            cacheImpl,
		applyAdjustments: applyAdjustments,
		now:              func() time.Time { return time.Now().UTC() },
		runs:             make(map[string]*runAdjustments),
	}
}

// LatestAnchor is the most recent month with real sales.
func (s *ForecastService) LatestAnchor(ctx context.Context) (time.Time, error) {
	return s.repos.Demand.LatestSalesMonth(ctx)
}

// ForecastSKU generates, saves and records the forecast of one series. A zero anchor means the
// latest month with real sales. Accuracy recording is best-effort. SKU adjustments the forecast
// used are marked applied at once; bucket and category ones wait for FinishRun.
func (s *ForecastService) ForecastSKU(ctx context.Context, runID string, key domain.SKUKey, anchor time.Time) (*domain.ForecastResult, error) {
	in, err := s.buildInput(ctx, runID, key, anchor)
	if err != nil {
		return nil, err
	}

	result, err := s.generator.Generate(*in)
	if err != nil {
		return nil, fmt.Errorf("failed to generate forecast for %s: %w", key, err)
	}

	if err := s.repos.Forecasts.SaveResult(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to save forecast for %s: %w", key, err)
	}

	s.recorder.Record(ctx, result)
	s.consumeAdjustments(ctx, runID, key, in.Adjustments, result.AppliedAdjustments)

	if err := s.cache.SetLatest(ctx, result); err != nil {
		log.Warn().Err(err).Str("sku", key.SKU).Msg("forecast: cache set latest failed")
	}

	return result, nil
}

// Preview generates a forecast without persisting or recording it.
func (s *ForecastService) Preview(ctx context.Context, key domain.SKUKey, anchor time.Time) (*domain.ForecastResult, error) {
	in, err := s.buildInput(ctx, "", key, anchor)
	if err != nil {
		return nil, err
	}
	in.Adjustments = nil
	return s.generator.Generate(*in)
}

// Latest returns the newest saved forecast of a series.
func (s *ForecastService) Latest(ctx context.Context, key domain.SKUKey) (*domain.ForecastResult, error) {
	if res, ok, err := s.cache.GetLatest(ctx, key); err == nil && ok {
		return res, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("forecast: cache get latest failed")
	}

	res, err := s.repos.Forecasts.Latest(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetLatest(ctx, res); err != nil {
		log.Warn().Err(err).Msg("forecast: cache set latest failed")
	}
	return res, nil
}

// SetManualGrowth stores (or with nil, clears) a user growth assumption for a series.
func (s *ForecastService) SetManualGrowth(ctx context.Context, key domain.SKUKey, rate *float64) error {
	if key.SKU == "" || key.Warehouse == "" {
		return fmt.Errorf("%w: sku and warehouse are required", domain.ErrInvalidInput)
	}
	if rate != nil && (math.IsNaN(*rate) || math.IsInf(*rate, 0) || *rate <= -1) {
		return fmt.Errorf("%w: growth rate must be a finite number above -1, got %v", domain.ErrInvalidInput, *rate)
	}
	if _, err := s.repos.Classifications.Get(ctx, key.SKU); err != nil {
		return err
	}

	if err := s.repos.Classifications.SetManualGrowth(ctx, key, rate); err != nil {
		return err
	}
	if err := s.cache.InvalidateLatest(ctx, key); err != nil {
		log.Warn().Err(err).Str("sku", key.SKU).Msg("forecast: cache invalidate failed")
	}
	return nil
}

func (s *ForecastService) buildInput(ctx context.Context, runID string, key domain.SKUKey, anchor time.Time) (*forecast.Input, error) {
	if anchor.IsZero() {
		latest, err := s.LatestAnchor(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve anchor month: %w", err)
		}
		anchor = latest
	}
	anchor = domain.MonthStart(anchor)

	class, err := s.repos.Classifications.Get(ctx, key.SKU)
	if err != nil {
		return nil, fmt.Errorf("failed to load classification of %s: %w", key.SKU, err)
	}

	history, err := s.history(ctx, key, anchor)
	if err != nil {
		return nil, err
	}

	manual, err := s.repos.Classifications.ManualGrowth(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load manual growth of %s: %w", key, err)
	}

	in := &forecast.Input{
		RunID:          runID,
		Key:            key,
		Classification: *class,
		Anchor:         anchor,
		History:        history,
		ManualGrowth:   manual,
	}

	in.Profile, err = s.profile(ctx, key, history, anchor)
	if err != nil {
		return nil, err
	}

	if in.Profile == nil || !in.Profile.HasSeasonality {
		in.PeerProfile, err = s.peerProfile(ctx, key, *class, anchor)
		if err != nil {
			return nil, err
		}
	}

	if _, hasSales := domain.LatestRealDataMonth(history); !hasSales {
		level, err := s.repos.Demand.CategoryAverage(ctx, class.Category, domain.AddMonths(anchor, -11), anchor)
		if err != nil {
			return nil, err
		}
		in.CategoryLevel = level
	}

	if s.applyAdjustments {
		in.Adjustments, err = s.pendingAdjustments(ctx, runID, key)
		if err != nil {
			return nil, err
		}
	}

	return in, nil
}

func (s *ForecastService) history(ctx context.Context, key domain.SKUKey, anchor time.Time) ([]domain.DemandObservation, error) {
	from := domain.AddMonths(anchor, -s.generator.Config().HistoryMonths+1)
	history, err := s.repos.Demand.History(ctx, key, from, anchor)
	if err != nil {
		return nil, fmt.Errorf("failed to load history of %s: %w", key, err)
	}
	return history, nil
}

// profile returns the series' own seasonal profile, or nil when there is too little history.
func (s *ForecastService) profile(ctx context.Context, key domain.SKUKey, history []domain.DemandObservation, anchor time.Time) (*domain.SeasonalProfile, error) {
	if p, ok, err := s.cache.GetProfile(ctx, key, anchor); err == nil && ok {
		return p, nil
	} else if err != nil {
		log.Warn().Err(err).Str("sku", key.SKU).Msg("forecast: cache get profile failed")
	}

	p, err := s.generator.SeasonalProfile(key, history, anchor)
	if errors.Is(err, domain.ErrInsufficientHistory) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compute seasonal profile of %s: %w", key, err)
	}

	if err := s.cache.SetProfile(ctx, key, anchor, p); err != nil {
		log.Warn().Err(err).Str("sku", key.SKU).Msg("forecast: cache set profile failed")
	}
	return p, nil
}

// peerProfile merges the seasonal shape of same-category, same-ABC peers in the same warehouse.
// Only the shape is borrowed; peers' growth is never used.
func (s *ForecastService) peerProfile(ctx context.Context, key domain.SKUKey, class domain.Classification, anchor time.Time) (*domain.SeasonalProfile, error) {
	maxPeers := s.generator.Config().MaxPeers
	peers, err := s.repos.Classifications.ListPeers(ctx, class.Category, class.ABC, key.SKU, maxPeers*3)
	if err != nil {
		return nil, fmt.Errorf("failed to list peers of %s: %w", key.SKU, err)
	}

	profiles := make([]*domain.SeasonalProfile, 0, maxPeers)
	for _, peer := range peers {
		if len(profiles) == maxPeers {
			break
		}
		peerKey := domain.SKUKey{SKU: peer.SKU, Warehouse: key.Warehouse}
		history, err := s.history(ctx, peerKey, anchor)
		if err != nil {
			return nil, err
		}
		p, err := s.profile(ctx, peerKey, history, anchor)
		if err != nil {
			return nil, err
		}
		if p != nil && p.HasSeasonality {
			profiles = append(profiles, p)
		}
	}

	return forecast.MergePeerProfiles(key, profiles), nil
}
