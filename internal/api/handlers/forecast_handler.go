package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
	"github.com/andresuchdata/autopo-forecast/internal/service"
)

// RunStarter executes a batch forecast run.
type RunStarter interface {
	Run(ctx context.Context, req pipeline.RunRequest) (*domain.ForecastRun, error)
}

type ForecastHandler struct {
	service *service.ForecastService
	runs    repository.RunRepository
	runner  RunStarter
	baseCtx context.Context
}

// NewForecastHandler creates the forecast handler. Runs triggered over HTTP live on baseCtx,
// not on the request context.
func NewForecastHandler(baseCtx context.Context, svc *service.ForecastService, runs repository.RunRepository, runner RunStarter) *ForecastHandler {
	return &ForecastHandler{service: svc, runs: runs, runner: runner, baseCtx: baseCtx}
}

func seriesKey(c *gin.Context) domain.SKUKey {
	return domain.SKUKey{
		SKU:       strings.TrimSpace(c.Param("sku")),
		Warehouse: strings.TrimSpace(c.Param("warehouse")),
	}
}

func (h *ForecastHandler) GetLatest(c *gin.Context) {
	res, err := h.service.Latest(c.Request.Context(), seriesKey(c))
	if err != nil {
		respondError(c, err, "failed to fetch forecast")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ForecastHandler) Preview(c *gin.Context) {
	var anchor time.Time
	if raw := strings.TrimSpace(c.Query("anchor")); raw != "" {
		m, err := domain.ParseMonth(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid anchor", "details": err.Error()})
			return
		}
		anchor = m
	}

	res, err := h.service.Preview(c.Request.Context(), seriesKey(c), anchor)
	if err != nil {
		respondError(c, err, "failed to preview forecast")
		return
	}
	c.JSON(http.StatusOK, res)
}

type growthOverrideRequest struct {
	GrowthRate *float64 `json:"growth_rate"`
}

func (h *ForecastHandler) SetGrowthOverride(c *gin.Context) {
	var req growthOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	key := seriesKey(c)
	if err := h.service.SetManualGrowth(c.Request.Context(), key, req.GrowthRate); err != nil {
		respondError(c, err, "failed to save growth override")
		return
	}

	c.JSON(http.StatusOK, gin.H{"sku": key.SKU, "warehouse": key.Warehouse, "growth_rate": req.GrowthRate})
}

func (h *ForecastHandler) ListRuns(c *gin.Context) {
	runs, err := h.runs.ListRuns(c.Request.Context(), queryLimit(c, 20))
	if err != nil {
		respondError(c, err, "failed to fetch runs")
		return
	}
	if runs == nil {
		runs = make([]domain.ForecastRun, 0)
	}
	c.JSON(http.StatusOK, runs)
}

func (h *ForecastHandler) GetRun(c *gin.Context) {
	run, err := h.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "failed to fetch run")
		return
	}
	c.JSON(http.StatusOK, run)
}

type startRunRequest struct {
	RunID       string          `json:"run_id"`
	AnchorMonth string          `json:"anchor_month"`
	Series      []domain.SKUKey `json:"series"`
}

// StartRun validates the request, then runs the batch in the background.
func (h *ForecastHandler) StartRun(c *gin.Context) {
	var req startRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}

	runReq := pipeline.RunRequest{RunID: strings.TrimSpace(req.RunID), Keys: req.Series}
	if req.AnchorMonth != "" {
		m, err := domain.ParseMonth(req.AnchorMonth)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid anchor_month", "details": err.Error()})
			return
		}
		runReq.Anchor = m
	}
	for _, k := range runReq.Keys {
		if k.SKU == "" || k.Warehouse == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "every series needs sku and warehouse"})
			return
		}
	}
	if runReq.RunID == "" {
		runReq.RunID = uuid.NewString()
	}

	go func() {
		if _, err := h.runner.Run(h.baseCtx, runReq); err != nil {
			log.Error().Err(err).Str("run_id", runReq.RunID).Msg("Forecast run failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"run_id":  runReq.RunID,
		"message": "forecast run started",
	})
}
