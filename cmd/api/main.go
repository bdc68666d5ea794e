package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/hms-sentinel/internal/audit"
	"github.com/BradenHooton/hms-sentinel/internal/auth"
	"github.com/BradenHooton/hms-sentinel/internal/background"
	"github.com/BradenHooton/hms-sentinel/internal/config"
	"github.com/BradenHooton/hms-sentinel/internal/database"
	"github.com/BradenHooton/hms-sentinel/internal/handlers"
	middlewareCustom "github.com/BradenHooton/hms-sentinel/internal/middleware"
	"github.com/BradenHooton/hms-sentinel/internal/repositories"
	"github.com/BradenHooton/hms-sentinel/internal/routes"
	"github.com/BradenHooton/hms-sentinel/internal/services"
	pkghttp "github.com/BradenHooton/hms-sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/hms-sentinel/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
)

var version = "dev"

func main() {
	envFile := flag.String("env-file", "", "load environment variables from this file")
	migrateOnly := flag.Bool("migrate-only", false, "apply database migrations and exit")
	flag.Parse()

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load configuration
	var cfg *config.Config
	var err error
	if *envFile != "" {
		cfg, err = config.LoadFile(*envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		bootLogger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := pkglogger.New(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("store", cfg.Store.Backend),
		slog.Bool("audit_transport", cfg.Audit.Enabled()),
	)

	ctx := context.Background()

	// Schema
	if cfg.Database.MigrateOnStart || *migrateOnly {
		if err := database.Migrate(ctx, &cfg.Database, logger); err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}
	if *migrateOnly {
		return
	}

	// Initialize database
	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Security state store
	var store repositories.SecurityStateStore
	var redisClient *redis.Client
	switch cfg.Store.Backend {
	case "redis":
		redisClient, err = database.NewRedisClient(ctx, &cfg.Store, logger)
		if err != nil {
			logger.Error("failed to connect to security state store", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisClient.Close()
		store = repositories.NewRedisStateStore(redisClient, cfg.Store.KeyPrefix, cfg.Security.StaleAttemptAge)
	default:
		logger.Warn("using in-process security state store; lockouts are not shared between instances")
		store = repositories.NewMemoryStateStore()
	}

	apiKeyRepo := repositories.NewAPIKeyRepository(db)

	// Audit pipeline
	var publisher services.AuditPublisher
	if cfg.Audit.Enabled() {
		publisher = audit.NewRetracedClient(audit.Config{
			Endpoint:  cfg.Audit.Endpoint,
			APIKey:    cfg.Audit.APIKey,
			ProjectID: cfg.Audit.ProjectID,
			Timeout:   cfg.Audit.Timeout,
			Component: "hms-sentinel",
			Version:   version,
		}, logger)
	} else {
		logger.Warn("audit transport not configured; security events go to the local audit log only")
	}

	auditService := services.NewAuditService(publisher, pkglogger.NewAuditLogger(logger), services.AuditServiceConfig{
		Environment: cfg.Server.Env,
		QueueSize:   cfg.Audit.QueueSize,
		Workers:     cfg.Audit.Workers,
	}, time.Now, logger)

	// Lockout alerts
	var notifier services.LockoutNotifier = services.NoopLockoutNotifier{}
	if cfg.Email.AlertsEnabled {
		sesNotifier, err := services.NewSESLockoutNotifier(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.Timeout, logger)
		if err != nil {
			logger.Error("failed to initialize lockout notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	// Initialize services
	policy := services.PolicyFromConfig(cfg.Security)
	tracker := services.NewFailureTracker(store, policy, time.Now, logger)
	lockoutService := services.NewLockoutService(store, policy, auditService, time.Now, logger)
	securityService := services.NewSecurityService(tracker, lockoutService, auditService, notifier, store, time.Now, logger)

	keyManager, err := auth.NewAPIKeyManager(cfg.APIKeys.Pepper)
	if err != nil {
		logger.Error("failed to initialize api key manager", slog.Any("error", err))
		os.Exit(1)
	}
	apiKeyService := services.NewAPIKeyService(apiKeyRepo, keyManager, auditService, time.Now, cfg.APIKeys.LastUsedTimeout, logger)
	adminService := services.NewAdminService(securityService, lockoutService, apiKeyService, policy, time.Now, logger)

	sessionVerifier, err := auth.NewSessionVerifier(cfg.IdP)
	if err != nil {
		logger.Error("failed to initialize session verifier", slog.Any("error", err))
		os.Exit(1)
	}

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize handlers
	securityHandler := handlers.NewSecurityHandler(securityService, ipConfig)
	apiKeyHandler := handlers.NewAPIKeyHandler(apiKeyService, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService, ipConfig)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	rateLimitConfig := middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Server.SecurityRateLimit,
		IPConfig:          ipConfig,
	}

	// Register routes
	routes.RegisterRoutes(router, securityHandler, apiKeyHandler, adminHandler, sessionVerifier,
		apiKeyService, cfg.Security.ServiceAPIKey, rateLimitConfig, logger)

	// Health check with database and shared store
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "healthy", "database": "up"}
		code := http.StatusOK

		if err := db.HealthCheck(ctx); err != nil {
			status["status"], status["database"] = "unhealthy", "down"
			code = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			status["store"] = "up"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status["status"], status["store"] = "unhealthy", "down"
				code = http.StatusServiceUnavailable
			}
		}

		pkghttp.WriteJSON(w, code, status)
	})
	router.Handle("/metrics", promhttp.Handler())

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(store, apiKeyService, background.CleanupConfig{
		Interval:     cfg.Security.CleanupInterval,
		StaleAfter:   cfg.Security.StaleAttemptAge,
		KeyRetention: cfg.APIKeys.ExpiredRetention,
	}, time.Now, logger)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr), slog.String("version", version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	if err := apiKeyService.Close(shutdownCtx); err != nil {
		logger.Error("api key last_used_at queue did not drain", slog.Any("error", err))
	}

	if err := auditService.Close(shutdownCtx); err != nil {
		logger.Error("audit queue did not drain", slog.Any("error", err))
	}

	cleanupCancel()
	cleanupManager.Stop()

	logger.Info("server stopped gracefully")
}
