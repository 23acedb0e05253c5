package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rty23111-ctrl/agent-identity/internal/api/http/handler"
	"github.com/rty23111-ctrl/agent-identity/internal/api/http/middleware"
	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
	"github.com/rty23111-ctrl/agent-identity/internal/audit"
	"github.com/rty23111-ctrl/agent-identity/internal/clients"
	"github.com/rty23111-ctrl/agent-identity/internal/metrics"
	"github.com/rty23111-ctrl/agent-identity/internal/paid"
	"github.com/rty23111-ctrl/agent-identity/internal/ratelimit"
	"github.com/rty23111-ctrl/agent-identity/internal/token"
	"github.com/rty23111-ctrl/agent-identity/internal/webhook"
)

type Services struct {
	Clients  *clients.Service
	Tokens   *token.Service
	Paid     *paid.Service
	Verifier *webhook.Verifier
	Limiter  *ratelimit.Limiter
	Audit    *audit.Emitter
	Metrics  *metrics.Metrics
	TokenTTL time.Duration
	Version  string
}

func SetupRoute(engine *gin.Engine, cfg Config, srvs *Services) {
	engine.Use(middleware.RequestID())
	engine.Use(middleware.ClientIPExtractor())
	engine.Use(middleware.RequestLogger())
	if srvs.Metrics != nil {
		engine.Use(middleware.Metrics(srvs.Metrics))
	}
	engine.Use(middleware.Audit(srvs.Audit))

	healthHandler := handler.NewHealthHandler(srvs.Version, srvs.Paid.Enabled())
	engine.GET("/health", healthHandler.Check)
	engine.GET("/capabilities", healthHandler.Capabilities)
	engine.GET("/.well-known/agent.json", healthHandler.Discovery)
	if srvs.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(srvs.Metrics.Handler()))
	}

	limit := func(bucket, action string) gin.HandlerFunc {
		return middleware.RateLimit(srvs.Limiter, srvs.Metrics, bucket, action)
	}

	api := engine.Group("/api")

	// Paid routes are public: checkout and status are called by agents, the
	// webhook and callback carry their own credentials.
	paidHandler := handler.NewPaidHandler(srvs.Paid, srvs.Verifier)
	paidGroup := api.Group("/paid", middleware.PaidGate(srvs.Paid.Enabled(), srvs.Paid.TestToken()))
	{
		paidGroup.POST("/checkout", limit(ratelimit.BucketPaidCheckout, ""), paidHandler.Checkout)
		paidGroup.POST("/webhook", paidHandler.Webhook)
		paidGroup.GET("/instances/:agentId", paidHandler.Instance)
		paidGroup.POST("/provisioning/callback", paidHandler.Callback)
	}

	clientHandler := handler.NewClientHandler(srvs.Clients, srvs.Paid)
	tokenHandler := handler.NewTokenHandler(srvs.Clients, srvs.Tokens, srvs.TokenTTL, srvs.Metrics)
	admin := api.Group("", middleware.APIKeyAuth(cfg.AdminAPIKey, cfg.AdminAPIKeyHash))
	{
		admin.POST("/register", limit(ratelimit.BucketRegister, handler.ActionRegister), clientHandler.Register)
		admin.GET("/clients", limit(ratelimit.BucketClients, handler.ActionListClients), clientHandler.List)
		admin.DELETE("/clients", limit(ratelimit.BucketClients, handler.ActionPurgeClients), clientHandler.Purge)
		admin.DELETE("/clients/:id", limit(ratelimit.BucketClients, handler.ActionDeleteClient), clientHandler.Delete)
		admin.POST("/token", limit(ratelimit.BucketToken, handler.ActionIssueToken), tokenHandler.Issue)
		admin.POST("/validate", limit(ratelimit.BucketValidate, handler.ActionValidateToken), tokenHandler.Validate)
	}

	engine.NoRoute(func(ctx *gin.Context) {
		middleware.AbortWithError(ctx, apperr.NotFound(apperr.CodeNotFound, "Route not found").
			WithDetails(map[string]any{"path": ctx.Request.URL.Path, "method": ctx.Request.Method}))
	})
}
