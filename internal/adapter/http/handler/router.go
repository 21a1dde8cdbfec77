package handler

import (
	"notes-escrow/internal/adapter/http/middleware"
	redisStore "notes-escrow/internal/adapter/storage/redis"
	"notes-escrow/internal/core/ports"
	"notes-escrow/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	OrderSvc       ports.OrderService
	DisputeSvc     ports.DisputeService
	WalletLedger   ports.WalletLedger
	Scheduler      ports.ReleaseScheduler
	SigSvc         ports.SignatureService
	NonceStore     ports.NonceStore
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Commission     decimal.Decimal
	HoldHours      int
	WalletLimit    int
	CronSecret     string // empty = only admin tokens may trigger a release run
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(metrics.Middleware())
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	// Health check pings PostgreSQL and Redis; metrics for scraping
	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	r.GET("/metrics", metrics.Handler())

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	adminOnly := middleware.RequireAdmin()

	orderHandler := NewOrderHandler(deps.OrderSvc, deps.DisputeSvc, deps.WalletLedger, deps.Commission, deps.WalletLimit)
	adminHandler := NewAdminHandler(deps.OrderSvc, deps.DisputeSvc, deps.Scheduler, deps.HoldHours)

	// --- Signed scheduler or admin token ---
	cronAuth := middleware.CronAuth(deps.CronSecret, deps.SigSvc, deps.NonceStore, deps.TokenSvc, deps.Logger)
	v1.POST("/orders/cron/release-escrow", cronAuth, rl("cron"), adminHandler.CronReleaseEscrow)

	// --- Buyer and seller routes ---
	orders := v1.Group("/orders", jwtAuth)
	{
		orders.POST("/purchase", rl("purchase"), orderHandler.Purchase)
		orders.GET("/my-orders", rl("reads"), orderHandler.MyOrders)
		orders.GET("/my-sales", rl("reads"), orderHandler.MySales)
		orders.POST("/dispute", rl("dispute"), orderHandler.Dispute)
		orders.GET("/my-disputes", rl("reads"), orderHandler.MyDisputes)
		orders.GET("/wallet", rl("reads"), orderHandler.Wallet)
	}

	// --- Admin routes ---
	admin := v1.Group("/orders", jwtAuth, adminOnly)
	{
		admin.GET("", rl("admin"), adminHandler.ListOrders)
		admin.POST("/:id/release", rl("admin"), adminHandler.Release)
		admin.POST("/:id/refund", rl("admin"), adminHandler.Refund)
		admin.GET("/disputes", rl("admin"), adminHandler.ListDisputes)
		admin.PATCH("/disputes/:id/resolve", rl("admin"), adminHandler.ResolveDispute)
	}

	return r
}
