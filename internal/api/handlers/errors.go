package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidMonth), errors.Is(err, domain.ErrUnknownClassification),
		errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrMonthNotClosed), errors.Is(err, domain.ErrAlreadyExists):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg(message)
	}
	c.JSON(status, gin.H{"error": message, "details": err.Error()})
}

func parseMonthParam(c *gin.Context, name string) (time.Time, bool) {
	m, err := domain.ParseMonth(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month", "details": err.Error()})
		return time.Time{}, false
	}
	return m, true
}

func queryLimit(c *gin.Context, def int) int {
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 {
		return limit
	}
	return def
}
