package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/autopo-forecast/internal/accuracy"
	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
)

const maxReportedFailures = 100

// Orchestrator runs the forecaster over every active series with a bounded worker pool.
type Orchestrator struct {
	cfg             RunConfig
	runs            repository.RunRepository
	demand          repository.DemandRepository
	classifications repository.ClassificationRepository
	records         repository.AccuracyRepository
	forecasts       repository.ForecastRepository
	recorder        *accuracy.Recorder
	forecaster      SKUForecaster
	worker          *Worker
	archive         *storage.ReportArchive
	now             func() time.Time
}

// NewOrchestrator creates a new Orchestrator. archive may be nil.
func NewOrchestrator(
	cfg RunConfig,
	runs repository.RunRepository,
	demand repository.DemandRepository,
	classifications repository.ClassificationRepository,
	records repository.AccuracyRepository,
	forecasts repository.ForecastRepository,
	forecaster SKUForecaster,
	archive *storage.ReportArchive,
) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ProgressStep < 1 || cfg.ProgressStep > 100 {
		cfg.ProgressStep = 10
	}
	return &Orchestrator{
		cfg:             cfg,
		runs:            runs,
		demand:          demand,
		classifications: classifications,
		records:         records,
		forecasts:       forecasts,
		recorder:        accuracy.NewRecorder(records),
		forecaster:      forecaster,
		worker:          NewWorker(forecaster),
		archive:         archive,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Run executes one batch run. Per-series failures are counted, not returned; an error means
// the run itself could not be set up or tracked.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*domain.ForecastRun, error) {
	started := time.Now()

	run, resumed, err := o.startRun(ctx, req)
	if err != nil {
		return nil, err
	}

	keys, inactive, done, err := o.selectSeries(ctx, run.ID, req.Keys)
	if err != nil {
		_ = o.finishRun(ctx, run, domain.RunFailed, err.Error())
		o.releaseRun(ctx, run.ID, false)
		return run, err
	}

	run.Status = domain.RunProcessing
	run.TotalSKUs = len(keys) + inactive + done
	run.ProcessedSKUs = done
	run.FailedSKUs = 0
	run.SkippedSKUs = inactive
	if err := o.runs.UpdateRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to update run %s: %w", run.ID, err)
	}

	log.Info().
		Str("run_id", run.ID).
		Str("anchor", domain.FormatMonth(run.AnchorMonth)).
		Int("series", len(keys)).
		Int("inactive", inactive).
		Int("already_done", done).
		Int("workers", o.cfg.Workers).
		Bool("resumed", resumed).
		Msg("Starting forecast run")

	report := o.process(ctx, run, keys)

	processed, failed := int(report.processed.Load()), int(report.failed.Load())
	run.ProcessedSKUs += processed
	run.FailedSKUs = failed
	run.SkippedSKUs += len(keys) - processed - failed

	status, msg := domain.RunCompleted, ""
	switch {
	case ctx.Err() != nil:
		status, msg = domain.RunCancelled, ctx.Err().Error()
	case len(keys) > 0 && run.FailedSKUs == len(keys):
		status, msg = domain.RunFailed, "every series failed"
	}
	// Bucket and category adjustments are consumed only by a completed run over every series.
	o.releaseRun(ctx, run.ID, status == domain.RunCompleted && len(req.Keys) == 0)
	if err := o.finishRun(ctx, run, status, msg); err != nil {
		return run, err
	}

	log.Info().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("processed", run.ProcessedSKUs).
		Int("failed", run.FailedSKUs).
		Int("skipped", run.SkippedSKUs).
		Dur("took", time.Since(started)).
		Msg("Forecast run finished")

	o.archiveReport(ctx, report.build(*run, time.Since(started)))
	return run, nil
}

// selectSeries returns the series left to forecast, how many were dropped for lacking an
// active classification and how many the run already saved.
func (o *Orchestrator) selectSeries(ctx context.Context, runID string, requested []domain.SKUKey) ([]domain.SKUKey, int, int, error) {
	keys := requested
	if len(keys) == 0 {
		all, err := o.demand.ListSeries(ctx)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("failed to list series: %w", err)
		}
		keys = all
	}

	active, err := o.classifications.ListActive(ctx)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to list classifications: %w", err)
	}
	isActive := make(map[string]bool, len(active))
	for _, c := range active {
		isActive[c.SKU] = true
	}

	done, err := o.completedSeries(ctx, runID)
	if err != nil {
		return nil, 0, 0, err
	}

	selected := make([]domain.SKUKey, 0, len(keys))
	inactive, already := 0, 0
	seen := make(map[domain.SKUKey]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		switch {
		case done[k]:
			already++
		case !isActive[k.SKU]:
			inactive++
		default:
			selected = append(selected, k)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].SKU != selected[j].SKU {
			return selected[i].SKU < selected[j].SKU
		}
		return selected[i].Warehouse < selected[j].Warehouse
	})
	return selected, inactive, already, nil
}

func (o *Orchestrator) process(ctx context.Context, run *domain.ForecastRun, keys []domain.SKUKey) *runProgress {
	progress := newRunProgress(run.ID, len(keys), o.cfg.ProgressStep)

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				progress.record(outcomeSkipped, key, nil, nil)
				return nil
			}
			res, err := o.worker.Process(ctx, run.ID, key, run.AnchorMonth)
			if err != nil {
				progress.record(outcomeFailed, key, nil, err)
				return nil
			}
			progress.record(outcomeProcessed, key, res, nil)
			return nil
		})
	}
	_ = g.Wait()

	return progress
}

func (o *Orchestrator) archiveReport(ctx context.Context, report RunReport) {
	if !o.archive.Enabled() {
		return
	}
	if _, err := o.archive.Put(context.WithoutCancel(ctx), storage.KindForecastRun, report.Run.ID, report); err != nil {
		log.Warn().Err(err).Str("run_id", report.Run.ID).Msg("Failed to archive run report")
	}
}

// runProgress aggregates worker outcomes.
type runProgress struct {
	runID string
	total int
	step  int

	processed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	reported  atomic.Int64

	mu       sync.Mutex
	methods  map[string]int
	failures []SKUFailure
}

func newRunProgress(runID string, total, step int) *runProgress {
	return &runProgress{runID: runID, total: total, step: step, methods: make(map[string]int)}
}

func (p *runProgress) record(o outcome, key domain.SKUKey, res *domain.ForecastResult, err error) {
	switch o {
	case outcomeProcessed:
		p.processed.Add(1)
	case outcomeFailed:
		p.failed.Add(1)
	case outcomeSkipped:
		p.skipped.Add(1)
	}

	if res != nil || err != nil {
		p.mu.Lock()
		if res != nil {
			p.methods[string(res.Method)]++
		}
		if err != nil && len(p.failures) < maxReportedFailures {
			p.failures = append(p.failures, SKUFailure{SKU: key.SKU, Warehouse: key.Warehouse, Error: err.Error()})
		}
		p.mu.Unlock()
	}

	p.logProgress()
}

// logProgress emits one line each time another step percent of the series is done.
func (p *runProgress) logProgress() {
	if p.total == 0 {
		return
	}
	done := p.processed.Load() + p.failed.Load() + p.skipped.Load()
	pct := done * 100 / int64(p.total)
	mark := pct / int64(p.step) * int64(p.step)

	for {
		last := p.reported.Load()
		if mark <= last {
			return
		}
		if p.reported.CompareAndSwap(last, mark) {
			log.Info().
				Str("run_id", p.runID).
				Int64("percent", mark).
				Int64("done", done).
				Int("total", p.total).
				Int64("failed", p.failed.Load()).
				Msg("Forecast run progress")
			return
		}
	}
}

func (p *runProgress) build(run domain.ForecastRun, took time.Duration) RunReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	methods := make(map[string]int, len(p.methods))
	for k, v := range p.methods {
		methods[k] = v
	}
	return RunReport{
		Run:      run,
		Methods:  methods,
		Failures: append([]SKUFailure(nil), p.failures...),
		Duration: took.Round(time.Millisecond).String(),
	}
}
