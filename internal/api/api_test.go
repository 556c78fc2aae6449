package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/forecast"
	"github.com/andresuchdata/autopo-forecast/internal/learning"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
	"github.com/andresuchdata/autopo-forecast/internal/repository/memory"
	"github.com/andresuchdata/autopo-forecast/internal/service"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
)

var dec2023 = time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC)

type stubRunner struct {
	requests chan pipeline.RunRequest
}

func (s *stubRunner) Run(ctx context.Context, req pipeline.RunRequest) (*domain.ForecastRun, error) {
	s.requests <- req
	return &domain.ForecastRun{ID: req.RunID, Status: domain.RunCompleted}, nil
}

type apiEnv struct {
	router   *gin.Engine
	forecast *service.ForecastService
	demand   *memory.DemandRepository
	adjusts  *memory.AdjustmentRepository
	runner   *stubRunner
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	demand := memory.NewDemandRepository()
	classes := memory.NewClassificationRepository(demand)
	forecasts := memory.NewForecastRepository()
	adjusts := memory.NewAdjustmentRepository()
	repos := service.Repositories{
		Demand:          demand,
		Classifications: classes,
		Forecasts:       forecasts,
		Runs:            forecasts,
		Records:         memory.NewAccuracyRepository(),
		Adjustments:     adjusts,
	}

	require.NoError(t, classes.Upsert(ctx, domain.Classification{
		SKU: "SKU-1", Category: "snacks", ABC: domain.TierB, XYZ: domain.TierY, Active: true, UnitPrice: 3,
	}))
	var obs []domain.DemandObservation
	for i := 0; i < 24; i++ {
		obs = append(obs, domain.DemandObservation{
			SKU: "SKU-1", Warehouse: "WH1", Month: domain.AddMonths(dec2023, -23+i), UnitsSold: 60,
		})
	}
	require.NoError(t, demand.UpsertObservations(ctx, obs))

	env := &apiEnv{
		forecast: service.NewForecastService(repos, forecast.NewGenerator(forecast.DefaultConfig()), nil, true),
		demand:   demand,
		adjusts:  adjusts,
		runner:   &stubRunner{requests: make(chan pipeline.RunRequest, 1)},
	}
	accuracySvc := service.NewAccuracyService(repos, learning.DefaultConfig(), storage.NewArchive(storage.NewMemoryStorage(), ""))

	require.NoError(t, forecasts.CreateRun(ctx, &domain.ForecastRun{
		ID: "run-0", AnchorMonth: dec2023, Status: domain.RunCompleted, StartedAt: time.Now(),
	}))

	env.router = NewRouter(ctx, &Services{
		ForecastService: env.forecast,
		AccuracyService: accuracySvc,
		Runs:            forecasts,
		Runner:          env.runner,
	}, []string{"*"})
	return env
}

func (env *apiEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestLatestForecast(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodGet, "/api/v1/forecasts/SKU-1/WH1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := env.forecast.ForecastSKU(context.Background(), "run-1", domain.SKUKey{SKU: "SKU-1", Warehouse: "WH1"}, time.Time{})
	require.NoError(t, err)

	w = env.do(http.MethodGet, "/api/v1/forecasts/SKU-1/WH1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res domain.ForecastResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "run-1", res.RunID)
	assert.Len(t, res.Points, 12)
}

func TestPreview(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodGet, "/api/v1/forecasts/SKU-1/WH1/preview?anchor=2023-06", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res domain.ForecastResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC), res.AnchorMonth)

	w = env.do(http.MethodGet, "/api/v1/forecasts/SKU-1/WH1/preview?anchor=June", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGrowthOverride(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodPut, "/api/v1/forecasts/SKU-1/WH1/growth-override", map[string]any{"growth_rate": 0.2})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPut, "/api/v1/forecasts/SKU-1/WH1/growth-override", map[string]any{"growth_rate": -3})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPut, "/api/v1/forecasts/NOPE/WH1/growth-override", map[string]any{"growth_rate": 0.1})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRuns(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs []domain.ForecastRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)

	w = env.do(http.MethodGet, "/api/v1/runs/run-0", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/api/v1/runs", map[string]any{"anchor_month": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/v1/runs", map[string]any{
		"anchor_month": "2023-12",
		"series":       []map[string]string{{"sku": "SKU-1", "warehouse": "WH1"}},
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.NotEmpty(t, accepted["run_id"])

	select {
	case req := <-env.runner.requests:
		assert.Equal(t, accepted["run_id"], req.RunID)
		assert.Equal(t, dec2023, req.Anchor)
		assert.Equal(t, []domain.SKUKey{{SKU: "SKU-1", Warehouse: "WH1"}}, req.Keys)
	case <-time.After(2 * time.Second):
		t.Fatal("run was not started")
	}
}

func TestReconciliationEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	w := env.do(http.MethodGet, "/api/v1/reconciliations/2023-12", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/api/v1/reconciliations/2024-05", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "month after the latest sales month is not closed")

	w = env.do(http.MethodPost, "/api/v1/reconciliations/2023-13", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/v1/reconciliations/2023-12", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/reconciliations/2023-12", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary domain.ReconciliationSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, dec2023, summary.Month)

	w = env.do(http.MethodGet, "/api/v1/reports/reconciliations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodGet, "/api/v1/reports/unknown", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdjustmentEndpoints(t *testing.T) {
	env := newAPIEnv(t)
	require.NoError(t, env.adjusts.Insert(context.Background(), []domain.LearningAdjustment{
		{Type: domain.AdjustmentVolatility, Bucket: "BY", ProposedValue: -0.04},
		{Type: domain.AdjustmentGrowthRate, SKU: "SKU-1", Warehouse: "WH1", ProposedValue: 0.02},
	}))

	w := env.do(http.MethodGet, "/api/v1/adjustments?bucket=by", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var adjs []domain.LearningAdjustment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &adjs))
	require.Len(t, adjs, 1)
	assert.Equal(t, domain.AdjustmentVolatility, adjs[0].Type)

	w = env.do(http.MethodPost, "/api/v1/adjustments/1/apply", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/adjustments?pending=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &adjs))
	require.Len(t, adjs, 1)
	assert.Equal(t, int64(2), adjs[0].ID)

	w = env.do(http.MethodPost, "/api/v1/adjustments/abc/apply", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(http.MethodPost, "/api/v1/adjustments/42/apply", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/api/v1/learning", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, all := normalizeAllowedOrigins([]string{"http://a.test, http://b.test", " ", "*"})
	assert.True(t, all)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, origins)
}
