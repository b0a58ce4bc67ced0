package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/procurement-api/api/swagger"
	"github.com/noah-isme/procurement-api/internal/dto"
	"github.com/noah-isme/procurement-api/internal/handler"
	"github.com/noah-isme/procurement-api/internal/middleware"
	"github.com/noah-isme/procurement-api/internal/models"
	"github.com/noah-isme/procurement-api/internal/repository"
	"github.com/noah-isme/procurement-api/internal/service"
	"github.com/noah-isme/procurement-api/pkg/cache"
	"github.com/noah-isme/procurement-api/pkg/config"
	"github.com/noah-isme/procurement-api/pkg/database"
	"github.com/noah-isme/procurement-api/pkg/export"
	"github.com/noah-isme/procurement-api/pkg/jobs"
	"github.com/noah-isme/procurement-api/pkg/locker"
	"github.com/noah-isme/procurement-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/procurement-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/procurement-api/pkg/middleware/requestid"
	"github.com/noah-isme/procurement-api/pkg/storage"
)

// @title Procurement API
// @version 1.0.0
// @description Budget ledger and approval workflow engine
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	docStore, err := storage.NewLocalStorage(cfg.Invoices.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init invoice storage", "error", err)
	}

	userRepo := repository.NewUserRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)

	metricsSvc := service.NewMetricsService()
	locks := service.NewRedisLocker(locker.New(redisClient, cfg.Lock))

	dispatcher := service.NewEventDispatcher(service.NewLogNotifier(logr), jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		Logger:     logr,
	}, logr)

	accountSvc := service.NewAccountService(accountRepo, cfg.Budget, logr)
	encumbranceSvc := service.NewEncumbranceService(queueRepo, accountRepo, metricsSvc, logr)
	velocitySvc := service.NewVelocityService(queueRepo, cfg.Budget.DailyVelocityCap, logr)
	identifierSvc := service.NewIdentifierService(queueRepo, ledgerRepo, logr)
	authSvc := service.NewAuthService(userRepo, cfg.JWT, logr)

	workflowSvc := service.NewWorkflowService(service.WorkflowDeps{
		Queue:       queueRepo,
		Ledger:      ledgerRepo,
		Accounts:    accountSvc,
		Encumbrance: encumbranceSvc,
		Velocity:    velocitySvc,
		Identifiers: identifierSvc,
		Locks:       locks,
		Notifier:    dispatcher,
		Audit:       userRepo,
		Metrics:     metricsSvc,
	}, cfg.Budget, logr)

	invoiceSvc := service.NewInvoiceService(ledgerRepo, identifierSvc, export.NewPDFExporter(), docStore, locks, userRepo, metricsSvc, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewRequestHandler(workflowSvc)
	accountHandler := handler.NewAccountHandler(accountSvc, encumbranceSvc)
	invoiceHandler := handler.NewInvoiceHandler(invoiceSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := dto.RegisterValidators(); err != nil {
		logr.Sugar().Fatalw("failed to register validators", "error", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	api.POST("/requests", requestHandler.Submit)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	authed.GET("/requests/:txnId", requestHandler.Get)
	authed.POST("/requests/:txnId/decision",
		middleware.RequireRoles(models.RoleApprover, models.RoleBusinessOffice, models.RoleAdmin),
		requestHandler.Decide)
	authed.GET("/accounts/:requester", accountHandler.Get)

	ops := authed.Group("")
	ops.Use(middleware.RequireRoles(models.RoleBusinessOffice, models.RoleAdmin))
	ops.POST("/sweeps/encumbrance",
		middleware.Audit(userRepo, models.AuditActionEncumbranceRun, "budget_account"),
		accountHandler.RecomputeAll)
	if cfg.Invoices.Enabled {
		ops.POST("/invoices/batch",
			middleware.Audit(userRepo, models.AuditActionInvoiceBatch, "invoice_batch"),
			invoiceHandler.RunBatch)
		ops.POST("/invoices/external", invoiceHandler.ExternalPass)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if cfg.Sweeps.Enabled {
		go runEncumbranceSweep(ctx, encumbranceSvc, cfg.Sweeps.EncumbranceInterval, logr)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

// runEncumbranceSweep heals encumbrance snapshots on a fixed schedule
// until the context is cancelled.
func runEncumbranceSweep(ctx context.Context, svc *service.EncumbranceService, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.RecomputeAll(ctx); err != nil {
				logr.Sugar().Errorw("scheduled encumbrance sweep failed", "error", err)
			}
		}
	}
}
