package middleware

import (
	"net/http"
	"strings"

	"recoverflow/internal/service"

	"github.com/gin-gonic/gin"
)

// TokenParser validates an access token.
type TokenParser interface {
	ParseToken(token string) (*service.UserClaims, error)
}

const devPassHeader = "X-Dev-Pass"

func JWTMiddleware(parser TokenParser, devMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if devMode && c.GetHeader(devPassHeader) == "true" {
			ctx := service.WithOperator(c.Request.Context(), &service.OperatorInfo{
				UserID: "dev",
				Name:   "dev-operator",
				Role:   "operator",
			})
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		tokenString := bearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			// EventSource cannot set headers
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
			return
		}

		claims, err := parser.ParseToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
			return
		}

		ctx := service.WithOperator(c.Request.Context(), &service.OperatorInfo{
			UserID: claims.UserID,
			Name:   claims.Username,
			Role:   claims.Role,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
