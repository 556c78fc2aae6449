package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/andresuchdata/autopo-forecast/internal/api/handlers"
	"github.com/andresuchdata/autopo-forecast/internal/api/middleware"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
	"github.com/andresuchdata/autopo-forecast/internal/service"
)

type Services struct {
	ForecastService *service.ForecastService
	AccuracyService *service.AccuracyService
	Runs            repository.RunRepository
	Runner          handlers.RunStarter
}

// NewRouter builds the HTTP API. Batch runs started over HTTP are bound to baseCtx.
func NewRouter(baseCtx context.Context, services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	defaultOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	corsConfig := cors.Config{
		AllowOrigins:     defaultOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api/v1")

	if services != nil {
		if services.ForecastService != nil {
			forecastHandler := handlers.NewForecastHandler(baseCtx, services.ForecastService, services.Runs, services.Runner)
			forecastGroup := apiGroup.Group("/forecasts/:sku/:warehouse")
			{
				forecastGroup.GET("", forecastHandler.GetLatest)
				forecastGroup.GET("/preview", forecastHandler.Preview)
				forecastGroup.PUT("/growth-override", forecastHandler.SetGrowthOverride)
			}

			if services.Runs != nil {
				runGroup := apiGroup.Group("/runs")
				{
					runGroup.GET("", forecastHandler.ListRuns)
					runGroup.GET("/:id", forecastHandler.GetRun)
					if services.Runner != nil {
						runGroup.POST("", forecastHandler.StartRun)
					}
				}
			}
		}

		if services.AccuracyService != nil {
			accuracyHandler := handlers.NewAccuracyHandler(services.AccuracyService)
			apiGroup.GET("/reconciliations/:month", accuracyHandler.GetReconciliation)
			apiGroup.POST("/reconciliations/:month", accuracyHandler.Reconcile)
			apiGroup.POST("/learning", accuracyHandler.Learn)
			apiGroup.GET("/adjustments", accuracyHandler.ListAdjustments)
			apiGroup.POST("/adjustments/:id/apply", accuracyHandler.ApplyAdjustment)
			apiGroup.GET("/reports/:kind", accuracyHandler.ListReports)
		}
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		for _, part := range strings.Split(origin, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
