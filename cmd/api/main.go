package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notes-escrow/config"
	httpHandler "notes-escrow/internal/adapter/http/handler"
	pgStorage "notes-escrow/internal/adapter/storage/postgres"
	redisStorage "notes-escrow/internal/adapter/storage/redis"
	"notes-escrow/internal/core/ports"
	"notes-escrow/internal/metrics"
	"notes-escrow/internal/service"
	"notes-escrow/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Float64("commission_percent", cfg.Escrow.CommissionPercent).
		Int("hold_hours", cfg.Escrow.HoldHours).
		Msg("Starting Notes Marketplace Escrow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	if cfg.Database.AutoMigrate {
		if err := pgStorage.Migrate(ctx, pool, log); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	orderRepo := pgStorage.NewOrderRepo(pool)
	disputeRepo := pgStorage.NewDisputeRepo(pool)
	walletRepo := pgStorage.NewWalletRepo(pool)
	ledgerRepo := pgStorage.NewTransactionRepo(pool)
	noteRepo := pgStorage.NewNoteRepo(pool)
	auditRepo := pgStorage.NewAuditRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	releaseLock := redisStorage.NewLock(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize core services
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(auditRepo, log)

	// Initialize escrow services
	walletLedger := service.NewWalletLedger(walletRepo, ledgerRepo, log)
	escrow := service.NewEscrowStateMachine(orderRepo, walletLedger, transactor, log)
	orderSvc := service.NewOrderService(orderRepo, disputeRepo, noteRepo, escrow, idempotencyCache, transactor, log)
	disputeSvc := service.NewDisputeManager(orderRepo, disputeRepo, escrow, transactor, log)
	scheduler := service.NewEscrowReleaseScheduler(orderRepo, escrow, releaseLock, service.SchedulerConfig{
		Interval:  cfg.Escrow.ReleaseInterval,
		HoldHours: cfg.Escrow.HoldHours,
		BatchSize: cfg.Escrow.ReleaseBatchSize,
		LockTTL:   cfg.Escrow.SchedulerLockTTL,
	}, log)

	// Background workers
	go scheduler.Run(ctx)
	go metrics.StartPoolStatsCollector(ctx, pool, 15*time.Second)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		OrderSvc:       orderSvc,
		DisputeSvc:     disputeSvc,
		WalletLedger:   walletLedger,
		Scheduler:      scheduler,
		SigSvc:         sigSvc,
		NonceStore:     nonceStore,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		AuditSvc:       auditSvc,
		Commission:     cfg.Escrow.Commission(),
		HoldHours:      cfg.Escrow.HoldHours,
		WalletLimit:    cfg.Escrow.WalletRecentLimit,
		CronSecret:     cfg.Escrow.CronSecret,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
