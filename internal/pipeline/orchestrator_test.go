package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository/memory"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
)

var dec2024 = time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC)

type fakeForecaster struct {
	forecasts *memory.ForecastRepository
	records   *memory.AccuracyRepository
	failFor   map[string]bool
	panicOn   map[string]bool
	noRecord  map[string]bool
	onCall    func()

	mu       sync.Mutex
	calls    []domain.SKUKey
	finished []finishCall
}

type finishCall struct {
	runID   string
	consume bool
}

func (f *fakeForecaster) FinishRun(ctx context.Context, runID string, consume bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, finishCall{runID: runID, consume: consume})
	return nil
}

func (f *fakeForecaster) ForecastSKU(ctx context.Context, runID string, key domain.SKUKey, anchor time.Time) (*domain.ForecastResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall()
	}
	if f.panicOn[key.SKU] {
		panic("boom")
	}
	if f.failFor[key.SKU] {
		return nil, errors.New("history unavailable")
	}

	res := &domain.ForecastResult{RunID: runID, SKU: key.SKU, Warehouse: key.Warehouse, AnchorMonth: anchor,
		Method: domain.MethodSeasonalTrend, Points: []domain.ForecastPoint{{
			TargetMonth: domain.AddMonths(anchor, 1), Horizon: 1, Quantity: 10,
		}}}
	if err := f.forecasts.SaveResult(ctx, res); err != nil {
		return nil, err
	}
	if f.noRecord[key.SKU] {
		return res, nil
	}

	_, err := f.records.InsertRecords(ctx, []domain.ForecastRecord{{
		RunID: runID, SKU: key.SKU, Warehouse: key.Warehouse,
		AnchorMonth: anchor, TargetMonth: domain.AddMonths(anchor, 1), Horizon: 1, PredictedQty: 10,
	}})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (f *fakeForecaster) called() []domain.SKUKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SKUKey(nil), f.calls...)
}

type fixture struct {
	runs    *memory.ForecastRepository
	demand  *memory.DemandRepository
	classes *memory.ClassificationRepository
	records *memory.AccuracyRepository
	fc      *fakeForecaster
	archive *storage.ReportArchive
}

func newFixture(t *testing.T, skus ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		runs:    memory.NewForecastRepository(),
		demand:  memory.NewDemandRepository(),
		records: memory.NewAccuracyRepository(),
		archive: storage.NewArchive(storage.NewMemoryStorage(), "reports"),
	}
	f.classes = memory.NewClassificationRepository(f.demand)
	f.fc = &fakeForecaster{forecasts: f.runs, records: f.records,
		failFor: map[string]bool{}, panicOn: map[string]bool{}, noRecord: map[string]bool{}}

	var obs []domain.DemandObservation
	for _, sku := range skus {
		require.NoError(t, f.classes.Upsert(ctx, domain.Classification{
			SKU: sku, Category: "beverages", ABC: domain.TierA, XYZ: domain.TierX,
			GrowthStatus: domain.GrowthNormal, Active: true, UnitPrice: 1,
		}))
		obs = append(obs,
			domain.DemandObservation{SKU: sku, Warehouse: "WH1", Month: domain.AddMonths(dec2024, -1), UnitsSold: 10},
			domain.DemandObservation{SKU: sku, Warehouse: "WH1", Month: dec2024, UnitsSold: 12},
			domain.DemandObservation{SKU: sku, Warehouse: "WH1", Month: domain.AddMonths(dec2024, 1)},
		)
	}
	require.NoError(t, f.demand.UpsertObservations(ctx, obs))
	return f
}

func (f *fixture) orchestrator(workers int) *Orchestrator {
	return NewOrchestrator(RunConfig{Workers: workers, ProgressStep: 25},
		f.runs, f.demand, f.classes, f.records, f.runs, f.fc, f.archive)
}

func TestOrchestrator_RunCountsOutcomes(t *testing.T) {
	f := newFixture(t, "SKU-1", "SKU-2", "SKU-3", "SKU-4")
	f.fc.failFor["SKU-2"] = true
	f.fc.panicOn["SKU-3"] = true

	run, err := f.orchestrator(3).Run(context.Background(), RunRequest{})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, dec2024, run.AnchorMonth, "anchor ignores the zero-sales placeholder month")
	assert.Equal(t, 4, run.TotalSKUs)
	assert.Equal(t, 2, run.ProcessedSKUs)
	assert.Equal(t, 2, run.FailedSKUs)
	assert.Equal(t, 0, run.SkippedSKUs)
	require.NotNil(t, run.CompletedAt)

	stored, err := f.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, stored.Status)

	reports, err := f.archive.List(context.Background(), storage.KindForecastRun)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	var report RunReport
	require.NoError(t, f.archive.Get(context.Background(), reports[0].Key, &report))
	assert.Equal(t, 2, report.Methods[string(domain.MethodSeasonalTrend)])
	assert.Len(t, report.Failures, 2)
}

func TestOrchestrator_ResumeSkipsSavedSeries(t *testing.T) {
	f := newFixture(t, "SKU-1", "SKU-2", "SKU-3")
	f.fc.failFor["SKU-2"] = true

	first, err := f.orchestrator(2).Run(context.Background(), RunRequest{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, first.ProcessedSKUs)
	assert.Equal(t, 1, first.FailedSKUs)

	f.fc.failFor["SKU-2"] = false
	f.fc.calls = nil

	second, err := f.orchestrator(2).Run(context.Background(), RunRequest{RunID: "run-1"})
	require.NoError(t, err)

	assert.Equal(t, []domain.SKUKey{{SKU: "SKU-2", Warehouse: "WH1"}}, f.fc.called())
	assert.Equal(t, 3, second.ProcessedSKUs)
	assert.Equal(t, 0, second.FailedSKUs)
	assert.Len(t, f.records.Records(), 3, "no duplicate records for a resumed run")
}

func TestOrchestrator_ResumeSkipsSavedSeriesWithoutRecords(t *testing.T) {
	f := newFixture(t, "SKU-1", "SKU-2")
	f.fc.noRecord["SKU-2"] = true

	first, err := f.orchestrator(1).Run(context.Background(), RunRequest{RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, first.ProcessedSKUs)
	assert.Len(t, f.records.Records(), 1)

	f.fc.calls = nil
	second, err := f.orchestrator(1).Run(context.Background(), RunRequest{RunID: "run-1"})
	require.NoError(t, err)

	assert.Empty(t, f.fc.called(), "saved series are not forecast again")
	assert.Equal(t, 2, second.ProcessedSKUs)
	assert.Equal(t, 0, second.FailedSKUs)
	assert.Len(t, f.records.Records(), 2, "missing records are backfilled from the saved forecast")
}

func TestOrchestrator_FinishesForecasterRun(t *testing.T) {
	f := newFixture(t, "SKU-1", "SKU-2")
	ctx := context.Background()

	full, err := f.orchestrator(2).Run(ctx, RunRequest{})
	require.NoError(t, err)

	partial, err := f.orchestrator(2).Run(ctx, RunRequest{Keys: []domain.SKUKey{{SKU: "SKU-1", Warehouse: "WH1"}}})
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	cancelled, err := f.orchestrator(1).Run(cctx, RunRequest{Anchor: dec2024})
	require.NoError(t, err)
	assert.Equal(t, domain.RunCancelled, cancelled.Status)

	assert.Equal(t, []finishCall{
		{runID: full.ID, consume: true},
		{runID: partial.ID, consume: false},
		{runID: cancelled.ID, consume: false},
	}, f.fc.finished)
}

func TestOrchestrator_ResumeRejectsDifferentAnchor(t *testing.T) {
	f := newFixture(t, "SKU-1")

	_, err := f.orchestrator(1).Run(context.Background(), RunRequest{RunID: "run-1"})
	require.NoError(t, err)

	_, err = f.orchestrator(1).Run(context.Background(), RunRequest{RunID: "run-1", Anchor: domain.AddMonths(dec2024, -3)})
	require.Error(t, err)
}

func TestOrchestrator_InactiveAndExplicitKeys(t *testing.T) {
	f := newFixture(t, "SKU-1", "SKU-2")
	ctx := context.Background()
	require.NoError(t, f.classes.Upsert(ctx, domain.Classification{
		SKU: "SKU-2", Category: "beverages", ABC: domain.TierA, XYZ: domain.TierX, Active: false,
	}))

	run, err := f.orchestrator(2).Run(ctx, RunRequest{
		Anchor: dec2024,
		Keys: []domain.SKUKey{
			{SKU: "SKU-1", Warehouse: "WH1"},
			{SKU: "SKU-1", Warehouse: "WH1"},
			{SKU: "SKU-2", Warehouse: "WH1"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, run.TotalSKUs)
	assert.Equal(t, 1, run.ProcessedSKUs)
	assert.Equal(t, 1, run.SkippedSKUs)
}

func TestOrchestrator_CancelStopsBeforeNextSeries(t *testing.T) {
	skus := make([]string, 10)
	for i := range skus {
		skus[i] = fmt.Sprintf("SKU-%02d", i)
	}
	f := newFixture(t, skus...)

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	f.fc.onCall = func() { once.Do(cancel) }

	run, err := f.orchestrator(1).Run(ctx, RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, domain.RunCancelled, run.Status)
	assert.Len(t, f.fc.called(), 1)
	assert.Equal(t, 1, run.ProcessedSKUs)
	assert.Equal(t, 9, run.SkippedSKUs)

	stored, err := f.runs.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCancelled, stored.Status)
}

func TestOrchestrator_NoSalesFails(t *testing.T) {
	f := &fixture{
		runs:    memory.NewForecastRepository(),
		demand:  memory.NewDemandRepository(),
		records: memory.NewAccuracyRepository(),
	}
	f.classes = memory.NewClassificationRepository(f.demand)
	f.fc = &fakeForecaster{forecasts: f.runs, records: f.records}

	_, err := f.orchestrator(1).Run(context.Background(), RunRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunProgress_LogsEachStepOnce(t *testing.T) {
	p := newRunProgress("run", 8, 25)
	for i := 0; i < 8; i++ {
		p.record(outcomeProcessed, domain.SKUKey{SKU: "S"}, nil, nil)
	}
	assert.Equal(t, int64(100), p.reported.Load())
	assert.Equal(t, int64(8), p.processed.Load())
}
