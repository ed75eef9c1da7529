package api

import (
	"recoverflow/internal/metrics"
	"recoverflow/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Auth    *AuthHandler
	Retry   *RetryHandler
	Groups  *GroupHandler
	Message *MessageHandler
	History *HistoryHandler
	Stream  *StreamHandler
	Health  *HealthHandler
}

type RouterOptions struct {
	Tokens      middleware.TokenParser
	APIKeys     middleware.APIKeyValidator
	RateLimiter *middleware.RateLimiter
	// DevMode accepts the dev-pass header instead of a token.
	DevMode bool
}

func RegisterRoutes(h Handlers, opts RouterOptions) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.CorsMiddleware(),
		middleware.TraceMiddleware(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
	)
	r.SetTrustedProxies(nil)

	r.GET("/health", h.Health.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := r.Group("/v1/auth")
	{
		auth.POST("/login", h.Auth.Login)
		auth.POST("/refresh", h.Auth.Refresh)
	}

	jwt := middleware.JWTMiddleware(opts.Tokens, opts.DevMode)

	authProtected := r.Group("/v1/auth")
	authProtected.Use(jwt)
	{
		authProtected.GET("/me", h.Auth.GetProfile)
		authProtected.POST("/logout", h.Auth.Logout)
	}

	// machine clients: event feed and resolution reports
	integration := r.Group("/v1/integration")
	integration.Use(middleware.APIKeyMiddleware(opts.APIKeys))
	{
		integration.GET("/events/stream", h.Stream.Events)
		integration.POST("/messages/:id/resolve", h.Message.Resolve)
	}

	protected := r.Group("/v1")
	protected.Use(jwt)

	write := func(c *gin.Context) { c.Next() }
	if opts.RateLimiter != nil {
		write = opts.RateLimiter.Middleware()
	}

	{
		protected.GET("/events/stream", h.Stream.Events)

		protected.POST("/retry/messages", write, h.Retry.RetryMessages)
		protected.POST("/retry/endpoint", write, h.Retry.RetryEndpoint)
		protected.POST("/retry/queue", write, h.Retry.RetryQueue)
		protected.POST("/retry/groups/:group_id", write, h.Retry.RetryGroup)
		protected.POST("/retry/all", write, h.Retry.RetryAll)
		protected.GET("/retry/operations", h.Retry.ListOperations)
		protected.GET("/retry/operations/:request_id", h.Retry.GetOperation)

		protected.GET("/retry/history", h.History.GetHistory)
		protected.POST("/retry/history/:request_id/ack", write, h.History.Acknowledge)

		protected.GET("/groups", h.Groups.ListGroups)
		protected.GET("/groups/:group_id", h.Groups.GetGroup)
		protected.GET("/groups/:group_id/messages", h.Groups.GroupMessages)
		protected.PUT("/groups/:group_id/comment", write, h.Groups.SetComment)
		protected.DELETE("/groups/:group_id/comment", write, h.Groups.DeleteComment)
		protected.POST("/groups/:group_id/archive", write, h.Groups.Archive)
		protected.POST("/groups/:group_id/unarchive", write, h.Groups.Unarchive)

		protected.GET("/messages/:id", h.Message.GetFailedMessage)
		protected.POST("/messages/:id/resolve", write, h.Message.Resolve)
	}
	return r
}
