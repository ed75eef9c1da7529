package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"recoverflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	logger.InitLogger("test")
	gin.SetMode(gin.TestMode)
}

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:0",
		DialTimeout: 10 * time.Millisecond,
		ReadTimeout: 10 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRateLimiter_RedisDown_FallsBackToLocal(t *testing.T) {
	r := gin.New()
	r.Use(NewRateLimiter(unreachableRedis(), 10).Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 from local fallback, got %d", w.Code)
	}
	if val := w.Header().Get("X-RateLimit-Limit"); val != "10" {
		t.Errorf("expected X-RateLimit-Limit '10', got '%s'", val)
	}
}

func TestRateLimiter_LocalBucketExhausts(t *testing.T) {
	r := gin.New()
	r.Use(NewRateLimiter(unreachableRedis(), 2).Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("expected first two requests to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected third request to be limited, got %d", codes[2])
	}
}
