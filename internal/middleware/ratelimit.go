package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"recoverflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// tokenBucketScript refills and takes from a per-client bucket atomically.
// ARGV: rate, capacity, now, requested. Returns {allowed, remaining, reset_after}.
var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local ttl = math.ceil((capacity / rate) * 2)

local tokens = tonumber(redis.call("get", tokens_key))
if tokens == nil then tokens = capacity end
local last = tonumber(redis.call("get", ts_key))
if last == nil then last = now end

tokens = math.min(capacity, tokens + (math.max(0, now - last) * rate))

if tokens < requested then
    return { 0, tostring(tokens), tostring((requested - tokens) / rate) }
end

tokens = tokens - requested
redis.call("set", tokens_key, tokens, "EX", ttl)
redis.call("set", ts_key, now, "EX", ttl)
return { 1, tostring(tokens), "0" }
`)

const (
	rateLimitKeyPrefix = "recoverflow:ratelimit:"
	localIdleTTL       = 10 * time.Minute
)

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-client token bucket in redis and falls back to
// an in-process bucket when redis is unreachable.
type RateLimiter struct {
	rdb   redis.Scripter
	limit int

	mu    sync.Mutex
	local map[string]*localBucket
	swept time.Time
}

func NewRateLimiter(rdb redis.Scripter, requestsPerSecond int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &RateLimiter{
		rdb:   rdb,
		limit: requestsPerSecond,
		local: make(map[string]*localBucket),
		swept: time.Now(),
	}
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.limit))

		allowed, remaining, resetAfter, err := l.takeRemote(c.Request.Context(), clientIP)
		if err != nil {
			logger.Warn("redis rate limit failed, using local bucket",
				zap.Error(err),
				zap.String("ip", clientIP))
			bucket := l.localLimiter(clientIP)
			allowed = bucket.Allow()
			remaining = bucket.Tokens()
			resetAfter = time.Second
		}

		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(resetAfter).Unix(), 10))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) takeRemote(ctx context.Context, clientIP string) (bool, float64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	key := rateLimitKeyPrefix + clientIP
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, l.rdb,
		[]string{key + ":tokens", key + ":ts"},
		float64(l.limit), float64(l.limit), now, 1,
	).Slice()
	if err != nil {
		return false, 0, 0, err
	}
	if len(res) != 3 {
		// malformed reply: let the request through
		return true, 0, 0, nil
	}
	allowed, _ := res[0].(int64)
	remaining := parseFloat(res[1])
	resetAfter := time.Duration(parseFloat(res[2]) * float64(time.Second))
	return allowed == 1, remaining, resetAfter, nil
}

func (l *RateLimiter) localLimiter(clientIP string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.swept) > localIdleTTL {
		for ip, b := range l.local {
			if now.Sub(b.lastSeen) > localIdleTTL {
				delete(l.local, ip)
			}
		}
		l.swept = now
	}

	b, ok := l.local[clientIP]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(rate.Limit(l.limit), l.limit)}
		l.local[clientIP] = b
	}
	b.lastSeen = now
	return b.limiter
}

func parseFloat(v any) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case int64:
		return float64(val)
	case float64:
		return val
	}
	return 0
}
