package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
	"github.com/andresuchdata/autopo-forecast/internal/service"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
)

type AccuracyHandler struct {
	service *service.AccuracyService
}

func NewAccuracyHandler(svc *service.AccuracyService) *AccuracyHandler {
	return &AccuracyHandler{service: svc}
}

func (h *AccuracyHandler) GetReconciliation(c *gin.Context) {
	month, ok := parseMonthParam(c, "month")
	if !ok {
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), month)
	if err != nil {
		respondError(c, err, "failed to fetch reconciliation summary")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *AccuracyHandler) Reconcile(c *gin.Context) {
	month, ok := parseMonthParam(c, "month")
	if !ok {
		return
	}

	summary, err := h.service.Reconcile(c.Request.Context(), month)
	if err != nil {
		respondError(c, err, "failed to reconcile month")
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *AccuracyHandler) Learn(c *gin.Context) {
	result, err := h.service.Learn(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to run learning")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AccuracyHandler) ListAdjustments(c *gin.Context) {
	filter := repository.AdjustmentFilter{
		Type:   domain.AdjustmentType(strings.TrimSpace(c.Query("type"))),
		SKU:    strings.TrimSpace(c.Query("sku")),
		Bucket: strings.ToUpper(strings.TrimSpace(c.Query("bucket"))),
		Limit:  queryLimit(c, 100),
	}
	if pending, err := strconv.ParseBool(c.DefaultQuery("pending", "false")); err == nil {
		filter.OnlyPending = pending
	}

	adjustments, err := h.service.ListAdjustments(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "failed to fetch adjustments")
		return
	}
	if adjustments == nil {
		adjustments = make([]domain.LearningAdjustment, 0)
	}
	c.JSON(http.StatusOK, adjustments)
}

func (h *AccuracyHandler) ApplyAdjustment(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid adjustment id"})
		return
	}

	adj, err := h.service.ApplyAdjustment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "failed to apply adjustment")
		return
	}
	c.JSON(http.StatusOK, adj)
}

var reportKinds = map[string]bool{
	storage.KindForecastRun:    true,
	storage.KindReconciliation: true,
	storage.KindLearning:       true,
}

func (h *AccuracyHandler) ListReports(c *gin.Context) {
	kind := c.Param("kind")
	if !reportKinds[kind] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown report kind"})
		return
	}

	reports, err := h.service.Reports(c.Request.Context(), kind)
	if err != nil {
		respondError(c, err, "failed to list reports")
		return
	}
	if reports == nil {
		reports = make([]storage.ObjectInfo, 0)
	}
	c.JSON(http.StatusOK, reports)
}
