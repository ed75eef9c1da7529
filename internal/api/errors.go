package api

import (
	"errors"
	"net/http"

	"recoverflow/internal/repository"
	"recoverflow/internal/service"
	"recoverflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps service errors to status codes. Unknown errors are logged
// and hidden behind a 500.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrGroupNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidScope):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRetryInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflictRetriesExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too much contention, try again"})
	default:
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("trace_id", c.GetString("TraceID")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
