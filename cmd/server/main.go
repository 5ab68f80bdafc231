package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	documentapp "github.com/fiscaldesk/backend/internal/application/document"
	downloadapp "github.com/fiscaldesk/backend/internal/application/download"
	fiscalapp "github.com/fiscaldesk/backend/internal/application/fiscal"
	"github.com/fiscaldesk/backend/internal/domain/download"
	"github.com/fiscaldesk/backend/internal/domain/fiscal"
	"github.com/fiscaldesk/backend/internal/infrastructure/cfdi"
	"github.com/fiscaldesk/backend/internal/infrastructure/config"
	"github.com/fiscaldesk/backend/internal/infrastructure/credentials"
	"github.com/fiscaldesk/backend/internal/infrastructure/logger"
	"github.com/fiscaldesk/backend/internal/infrastructure/persistence"
	"github.com/fiscaldesk/backend/internal/infrastructure/satclient"
	"github.com/fiscaldesk/backend/internal/infrastructure/scheduler"
	"github.com/fiscaldesk/backend/internal/infrastructure/storage"
	"github.com/fiscaldesk/backend/internal/interfaces/http/handler"
	"github.com/fiscaldesk/backend/internal/interfaces/http/middleware"
	"github.com/fiscaldesk/backend/internal/interfaces/http/router"
	"github.com/shopspring/decimal"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting FiscalDesk Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database connection with zap-backed GORM logging
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Repositories
	requestRepo := persistence.NewGormBulkRequestRepository(db.DB)
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	paymentRepo := persistence.NewGormPaymentComplementRepository(db.DB)

	// Authority transport
	satCfg := satclient.NewSandboxSATConfig()
	if cfg.Authority.Environment == "production" {
		satCfg = satclient.NewSATConfig()
	}
	if cfg.Authority.BaseURL != "" {
		satCfg.BaseURL = cfg.Authority.BaseURL
	}
	satCfg.UserAgent = cfg.Authority.UserAgent
	satCfg.Timeout = cfg.Authority.Timeout
	authorityClient, err := satclient.NewClient(satCfg, log)
	if err != nil {
		log.Fatal("Failed to build authority client", zap.Error(err))
	}

	// Signing credentials: vault provider fronted by a Redis cache
	vaultProvider, err := credentials.NewVaultProvider(&credentials.VaultConfig{
		BaseURL: cfg.Vault.BaseURL,
		Token:   cfg.Vault.Token,
		Timeout: cfg.Vault.Timeout,
	})
	if err != nil {
		log.Fatal("Failed to build credential provider", zap.Error(err))
	}
	var credProvider download.CredentialProvider = vaultProvider
	cachedCreds, err := credentials.NewCachedProvider(vaultProvider, &cfg.Redis, cfg.Vault.CacheTTL, log)
	if err != nil {
		log.Warn("Credential cache unavailable, falling back to direct vault access", zap.Error(err))
	} else {
		credProvider = cachedCreds
		defer func() {
			if err := cachedCreds.Close(); err != nil {
				log.Error("Error closing credential cache", zap.Error(err))
			}
		}()
	}

	// Package archive: S3-compatible storage, or a no-op when disabled
	var archiver downloadapp.PackageArchiver
	if cfg.Storage.Enabled {
		s3Archive, err := storage.NewS3PackageArchive(&cfg.Storage)
		if err != nil {
			log.Fatal("Failed to build package archive", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			cancel()
			log.Fatal("Failed to ensure archive bucket", zap.Error(err))
		}
		cancel()
		archiver = s3Archive
		log.Info("Package archive enabled", zap.String("bucket", s3Archive.GetBucket()))
	} else {
		archiver = storage.NewNoopArchive()
	}

	// Application services
	ingestionService := documentapp.NewIngestionService(invoiceRepo, paymentRepo, cfdi.NewXMLParser(), log)

	backoff := download.DefaultBackoffPolicy()
	backoff.Base = cfg.Lifecycle.BackoffBase
	backoff.Max = cfg.Lifecycle.BackoffMax

	lifecycleService, err := downloadapp.NewLifecycleService(
		requestRepo,
		authorityClient,
		credProvider,
		ingestionService,
		archiver,
		backoff,
		downloadapp.LifecycleConfig{
			MaxAttempts:   cfg.Lifecycle.MaxAttempts,
			PollInterval:  cfg.Lifecycle.PollInterval,
			CallTimeout:   cfg.Authority.Timeout,
			MaxConcurrent: cfg.Lifecycle.MaxConcurrent,
			ClaimLease:    cfg.Lifecycle.ClaimLease,
		},
		log,
	)
	if err != nil {
		log.Fatal("Failed to build lifecycle service", zap.Error(err))
	}

	reconEngine := fiscal.NewEngine(decimal.NewFromFloat(cfg.Reconciliation.Epsilon))
	documentSnapshot := persistence.NewGormDocumentSnapshot(db.DB)
	reportService := fiscalapp.NewReportService(documentSnapshot, reconEngine, log)

	// Background advancement of due bulk requests
	if cfg.Lifecycle.Enabled {
		lifecycleScheduler := scheduler.NewLifecycleScheduler(lifecycleService, scheduler.LifecycleSchedulerConfig{
			TickInterval: cfg.Lifecycle.TickInterval,
			BatchLimit:   cfg.Lifecycle.BatchLimit,
		}, log)
		if err := lifecycleScheduler.Start(context.Background()); err != nil {
			log.Fatal("Failed to start lifecycle scheduler", zap.Error(err))
		}
		defer func() {
			if err := lifecycleScheduler.Stop(context.Background()); err != nil {
				log.Error("Error stopping lifecycle scheduler", zap.Error(err))
			}
		}()
		log.Info("Lifecycle scheduler started",
			zap.Duration("tick_interval", cfg.Lifecycle.TickInterval),
			zap.Int("batch_limit", cfg.Lifecycle.BatchLimit),
		)
	}

	// HTTP handlers
	downloadHandler := handler.NewDownloadHandler(lifecycleService, requestRepo)
	reportHandler := handler.NewReportHandler(reportService)
	systemHandler := handler.NewSystemHandler(db)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORS())
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	rateLimiter := middleware.NewRateLimiter(120, time.Minute)
	engine.Use(middleware.RateLimit(rateLimiter))

	// Health check endpoint outside API versioning, for load balancers
	engine.GET("/health", healthHandler(db))

	r := router.NewRouter(engine, router.WithAPIVersion("v1"))
	r.Register(downloadHandler).
		Register(reportHandler).
		Register(systemHandler)
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// healthHandler returns a handler for health check endpoints
func healthHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
