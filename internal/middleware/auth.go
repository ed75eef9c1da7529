package middleware

import (
	"context"
	"net/http"

	"recoverflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const APIKeyHeader = "X-Recoverflow-Key"

// APIKeyValidator checks integration keys used by machine clients.
type APIKeyValidator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (bool, error)
}

// APIKeyMiddleware guards the integration surface with a static API key.
func APIKeyMiddleware(keys APIKeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(APIKeyHeader)
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		ok, err := keys.ValidateAPIKey(c.Request.Context(), apiKey)
		if err != nil {
			logger.Error("api key lookup failed", zap.Error(err))
		}
		if err != nil || !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
