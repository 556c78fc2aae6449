package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// DemandRepository provides in-memory demand history storage
type DemandRepository struct {
	mu     sync.RWMutex
	series map[domain.SKUKey]map[time.Time]domain.DemandObservation
	// categories maps SKU to category for CategoryAverage.
	categories map[string]string
}

// NewDemandRepository creates a new in-memory demand repository
func NewDemandRepository() *DemandRepository {
	return &DemandRepository{
		series:     make(map[domain.SKUKey]map[time.Time]domain.DemandObservation),
		categories: make(map[string]string),
	}
}

// Verify interface compliance
var _ repository.DemandRepository = (*DemandRepository)(nil)

// SetCategory registers the category of a SKU.
func (r *DemandRepository) SetCategory(sku, category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories[sku] = category
}

func (r *DemandRepository) ListSeries(ctx context.Context) ([]domain.SKUKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]domain.SKUKey, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SKU != keys[j].SKU {
			return keys[i].SKU < keys[j].SKU
		}
		return keys[i].Warehouse < keys[j].Warehouse
	})
	return keys, nil
}

func (r *DemandRepository) History(ctx context.Context, key domain.SKUKey, from, to time.Time) ([]domain.DemandObservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	from, to = domain.MonthStart(from), domain.MonthStart(to)
	var out []domain.DemandObservation
	for m, o := range r.series[key] {
		if m.Before(from) || m.After(to) {
			continue
		}
		out = append(out, o)
	}
	domain.SortObservations(out)
	return out, nil
}

func (r *DemandRepository) MonthActuals(ctx context.Context, month time.Time) ([]domain.DemandObservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	month = domain.MonthStart(month)
	var out []domain.DemandObservation
	for _, byMonth := range r.series {
		if o, ok := byMonth[month]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *DemandRepository) LatestSalesMonth(ctx context.Context) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []domain.DemandObservation
	for _, byMonth := range r.series {
		for _, o := range byMonth {
			all = append(all, o)
		}
	}
	latest, ok := domain.LatestRealDataMonth(all)
	if !ok {
		return time.Time{}, fmt.Errorf("latest sales month: %w", domain.ErrNotFound)
	}
	return latest, nil
}

func (r *DemandRepository) CategoryAverage(ctx context.Context, category string, from, to time.Time) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	from, to = domain.MonthStart(from), domain.MonthStart(to)
	var sum float64
	var n int
	for key, byMonth := range r.series {
		if r.categories[key.SKU] != category {
			continue
		}
		for m, o := range byMonth {
			if m.Before(from) || m.After(to) {
				continue
			}
			sum += o.Demand()
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

func (r *DemandRepository) UpsertObservations(ctx context.Context, observations []domain.DemandObservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range observations {
		o.Month = domain.MonthStart(o.Month)
		key := o.Key()
		if r.series[key] == nil {
			r.series[key] = make(map[time.Time]domain.DemandObservation)
		}
		r.series[key][o.Month] = o
	}
	return nil
}

// ClassificationRepository provides in-memory SKU reference data
type ClassificationRepository struct {
	mu      sync.RWMutex
	items   map[string]domain.Classification
	manual  map[domain.SKUKey]float64
	demands *DemandRepository
}

// NewClassificationRepository creates a new in-memory classification repository. When demands
// is not nil, upserted categories are mirrored into it for category averages.
func NewClassificationRepository(demands *DemandRepository) *ClassificationRepository {
	return &ClassificationRepository{
		items:   make(map[string]domain.Classification),
		manual:  make(map[domain.SKUKey]float64),
		demands: demands,
	}
}

var _ repository.ClassificationRepository = (*ClassificationRepository)(nil)

func (r *ClassificationRepository) Get(ctx context.Context, sku string) (*domain.Classification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.items[sku]
	if !ok {
		return nil, fmt.Errorf("classification %s: %w", sku, domain.ErrNotFound)
	}
	return &c, nil
}

func (r *ClassificationRepository) ListActive(ctx context.Context) ([]domain.Classification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Classification
	for _, c := range r.items {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (r *ClassificationRepository) ListPeers(ctx context.Context, category string, abc domain.ValueTier, exclude string, limit int) ([]domain.Classification, error) {
	active, _ := r.ListActive(ctx)

	var out []domain.Classification
	for _, c := range active {
		if c.SKU == exclude || c.Category != category || c.ABC != abc {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *ClassificationRepository) Upsert(ctx context.Context, c domain.Classification) error {
	if err := c.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.items[c.SKU] = c
	r.mu.Unlock()

	if r.demands != nil {
		r.demands.SetCategory(c.SKU, c.Category)
	}
	return nil
}

func (r *ClassificationRepository) ManualGrowth(ctx context.Context, key domain.SKUKey) (*float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rate, ok := r.manual[key]
	if !ok {
		return nil, nil
	}
	return &rate, nil
}

func (r *ClassificationRepository) SetManualGrowth(ctx context.Context, key domain.SKUKey, rate *float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rate == nil {
		delete(r.manual, key)
		return nil
	}
	r.manual[key] = *rate
	return nil
}
