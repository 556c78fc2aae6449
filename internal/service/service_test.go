package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
	"github.com/andresuchdata/autopo-forecast/internal/learning"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
	"github.com/andresuchdata/autopo-forecast/internal/repository/memory"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
)

var (
	dec2023 = time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC)
	sku1    = domain.SKUKey{SKU: "SKU-1", Warehouse: "WH1"}
)

type testEnv struct {
	repos    Repositories
	demand   *memory.DemandRepository
	classes  *memory.ClassificationRepository
	records  *memory.AccuracyRepository
	adjusts  *memory.AdjustmentRepository
	archive  *storage.ReportArchive
	forecast *ForecastService
	accuracy *AccuracyService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		demand:  memory.NewDemandRepository(),
		records: memory.NewAccuracyRepository(),
		adjusts: memory.NewAdjustmentRepository(),
		archive: storage.NewArchive(storage.NewMemoryStorage(), "reports"),
	}
	env.classes = memory.NewClassificationRepository(env.demand)
	forecasts := memory.NewForecastRepository()
	env.repos = Repositories{
		Demand:          env.demand,
		Classifications: env.classes,
		Forecasts:       forecasts,
		Runs:            forecasts,
		Records:         env.records,
		Adjustments:     env.adjusts,
	}
	env.forecast = NewForecastService(env.repos, forecast.NewGenerator(forecast.DefaultConfig()), nil, true)
	env.accuracy = NewAccuracyService(env.repos, learning.DefaultConfig(), env.archive)

	ctx := context.Background()
	require.NoError(t, env.classes.Upsert(ctx, domain.Classification{
		SKU: "SKU-1", Category: "beverages", ABC: domain.TierA, XYZ: domain.TierX,
		GrowthStatus: domain.GrowthNormal, Active: true, UnitPrice: 2,
	}))

	var obs []domain.DemandObservation
	for i := 0; i < 36; i++ {
		obs = append(obs, domain.DemandObservation{
			SKU: sku1.SKU, Warehouse: sku1.Warehouse, Month: domain.AddMonths(dec2023, -35+i), UnitsSold: 100,
		})
	}
	require.NoError(t, env.demand.UpsertObservations(ctx, obs))
	return env
}

func (env *testEnv) addActual(t *testing.T, month time.Time, units float64) {
	t.Helper()
	require.NoError(t, env.demand.UpsertObservations(context.Background(), []domain.DemandObservation{
		{SKU: sku1.SKU, Warehouse: sku1.Warehouse, Month: month, UnitsSold: units},
	}))
}

func TestForecastSKU_SavesAndRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.forecast.ForecastSKU(ctx, "run-1", sku1, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, dec2023, res.AnchorMonth)
	assert.Equal(t, domain.MethodSeasonalTrend, res.Method)
	require.Len(t, res.Points, 12)
	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), res.Points[0].TargetMonth)
	assert.InDelta(t, 100, res.Points[0].Quantity, 0.5)

	assert.Len(t, env.records.Records(), 12)

	latest, err := env.forecast.Latest(ctx, sku1)
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest.RunID)

	series, err := env.records.RecordedSeries(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.SKUKey{sku1}, series)
}

type failingRecords struct {
	*memory.AccuracyRepository
}

func (failingRecords) InsertRecords(context.Context, []domain.ForecastRecord) (int, error) {
	return 0, errors.New("disk full")
}

func TestForecastSKU_RecorderFailureDoesNotFailSave(t *testing.T) {
	env := newTestEnv(t)
	env.repos.Records = failingRecords{env.records}
	svc := NewForecastService(env.repos, forecast.NewGenerator(forecast.DefaultConfig()), nil, false)

	res, err := svc.ForecastSKU(context.Background(), "run-1", sku1, dec2023)
	require.NoError(t, err)
	assert.Len(t, res.Points, 12)

	_, err = env.repos.Forecasts.Latest(context.Background(), sku1)
	require.NoError(t, err)
}

func TestForecastSKU_ZeroHistoryUsesCategoryLevel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.classes.Upsert(ctx, domain.Classification{
		SKU: "SKU-NEW", Category: "beverages", ABC: domain.TierA, XYZ: domain.TierY, Active: true, UnitPrice: 1,
	}))

	res, err := env.forecast.ForecastSKU(ctx, "run-1", domain.SKUKey{SKU: "SKU-NEW", Warehouse: "WH1"}, dec2023)
	require.NoError(t, err)

	assert.Equal(t, domain.MethodCategoryDefault, res.Method)
	assert.Equal(t, domain.SourceCategoryTrend, res.GrowthSource)
	require.Len(t, res.Points, 12)
	assert.Greater(t, res.Points[0].Quantity, 0.0)
}

func TestForecastSKU_UnknownSKU(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.forecast.ForecastSKU(context.Background(), "run-1", domain.SKUKey{SKU: "NOPE", Warehouse: "WH1"}, dec2023)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetManualGrowth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bad := -1.0
	assert.ErrorIs(t, env.forecast.SetManualGrowth(ctx, sku1, &bad), domain.ErrInvalidInput)
	assert.ErrorIs(t, env.forecast.SetManualGrowth(ctx, domain.SKUKey{SKU: "NOPE", Warehouse: "WH1"}, nil), domain.ErrNotFound)

	rate := 0.25
	require.NoError(t, env.forecast.SetManualGrowth(ctx, sku1, &rate))

	res, err := env.forecast.ForecastSKU(ctx, "run-1", sku1, dec2023)
	require.NoError(t, err)
	assert.Equal(t, domain.MethodManualOverride, res.Method)
	assert.Equal(t, 0.25, res.GrowthRate)

	require.NoError(t, env.forecast.SetManualGrowth(ctx, sku1, nil))
	got, err := env.classes.ManualGrowth(ctx, sku1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFeedbackLoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.forecast.ForecastSKU(ctx, "run-1", sku1, dec2023)
	require.NoError(t, err)

	// Demand drops: every forecast month is 25% over-forecast.
	for m := 1; m <= 3; m++ {
		month := domain.AddMonths(dec2023, m)
		env.addActual(t, month, 80)

		summary, err := env.accuracy.Reconcile(ctx, month)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.ActualsFound)
		assert.InDelta(t, 25, summary.AvgMAPE, 0.5)
	}

	stored, err := env.accuracy.Summary(ctx, domain.AddMonths(dec2023, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TotalForecasts)

	reports, err := env.accuracy.Reports(ctx, storage.KindReconciliation)
	require.NoError(t, err)
	assert.Len(t, reports, 3)

	learned, err := env.accuracy.Learn(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, learned.Report.RecordsAnalyzed)
	require.Equal(t, 1, learned.Inserted)

	pending, err := env.accuracy.ListAdjustments(ctx, repository.AdjustmentFilter{OnlyPending: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	adj := pending[0]
	assert.Equal(t, domain.AdjustmentGrowthRate, adj.Type)
	assert.Less(t, adj.ProposedValue, adj.OriginalValue)

	again, err := env.accuracy.Learn(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted, "pending targets are not duplicated")

	res, err := env.forecast.ForecastSKU(ctx, "run-2", sku1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.AddMonths(dec2023, 3), res.AnchorMonth)
	assert.Equal(t, []int64{adj.ID}, res.AppliedAdjustments)

	consumed, err := env.adjusts.Get(ctx, adj.ID)
	require.NoError(t, err)
	assert.True(t, consumed.Applied)
	require.NotNil(t, consumed.AppliedAt)
}

func TestBucketAdjustmentReachesEverySeriesInRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sku2 := domain.SKUKey{SKU: "SKU-2", Warehouse: "WH1"}
	require.NoError(t, env.classes.Upsert(ctx, domain.Classification{
		SKU: sku2.SKU, Category: "beverages", ABC: domain.TierA, XYZ: domain.TierX,
		GrowthStatus: domain.GrowthNormal, Active: true, UnitPrice: 2,
	}))
	var obs []domain.DemandObservation
	for i := 0; i < 36; i++ {
		obs = append(obs, domain.DemandObservation{
			SKU: sku2.SKU, Warehouse: sku2.Warehouse, Month: domain.AddMonths(dec2023, -35+i), UnitsSold: 100,
		})
	}
	require.NoError(t, env.demand.UpsertObservations(ctx, obs))

	require.NoError(t, env.adjusts.Insert(ctx, []domain.LearningAdjustment{{
		Type: domain.AdjustmentVolatility, Bucket: "AX", OriginalValue: 0, ProposedValue: -0.2,
	}}))

	for _, key := range []domain.SKUKey{sku1, sku2} {
		res, err := env.forecast.ForecastSKU(ctx, "run-7", key, dec2023)
		require.NoError(t, err)
		assert.InDelta(t, -0.2, res.GrowthRate, 0.01, key.String())
		assert.Equal(t, []int64{1}, res.AppliedAdjustments, key.String())
	}

	adj, err := env.adjusts.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, adj.Applied, "shared adjustments stay pending until the run finishes")

	require.NoError(t, env.forecast.FinishRun(ctx, "run-7", true))
	adj, err = env.adjusts.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, adj.Applied)

	res, err := env.forecast.ForecastSKU(ctx, "run-8", sku2, dec2023)
	require.NoError(t, err)
	assert.Empty(t, res.AppliedAdjustments)
	require.NoError(t, env.forecast.FinishRun(ctx, "run-8", true))
}

func TestFinishRunWithoutConsumeKeepsSharedPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.adjusts.Insert(ctx, []domain.LearningAdjustment{{
		Type: domain.AdjustmentVolatility, Bucket: "AX", OriginalValue: 0, ProposedValue: -0.2,
	}}))

	res, err := env.forecast.ForecastSKU(ctx, "run-partial", sku1, dec2023)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, res.AppliedAdjustments)

	require.NoError(t, env.forecast.FinishRun(ctx, "run-partial", false))
	adj, err := env.adjusts.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, adj.Applied)

	// Released runs reload the pending set.
	res, err = env.forecast.ForecastSKU(ctx, "run-full", sku1, dec2023)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, res.AppliedAdjustments)
}

func TestReconcileLatest_NoSales(t *testing.T) {
	env := newTestEnv(t)
	empty := Repositories{
		Demand:      memory.NewDemandRepository(),
		Records:     env.records,
		Adjustments: env.adjusts,
	}
	svc := NewAccuracyService(empty, learning.DefaultConfig(), nil)

	_, err := svc.ReconcileLatest(context.Background())
	assert.ErrorIs(t, err, domain.ErrMonthNotClosed)

	_, err = svc.Reconcile(context.Background(), dec2023)
	assert.ErrorIs(t, err, domain.ErrMonthNotClosed)
}

func TestApplyAdjustment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.adjusts.Insert(ctx, []domain.LearningAdjustment{{
		Type: domain.AdjustmentVolatility, Bucket: "AX", OriginalValue: 0, ProposedValue: -0.05,
	}}))

	adj, err := env.accuracy.ApplyAdjustment(ctx, 1)
	require.NoError(t, err)
	assert.True(t, adj.Applied)
	first := *adj.AppliedAt

	adj, err = env.accuracy.ApplyAdjustment(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first, *adj.AppliedAt)

	_, err = env.accuracy.ApplyAdjustment(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
