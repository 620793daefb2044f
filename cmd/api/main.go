package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lockdown-auth/lockdown/internal/auth"
	"github.com/lockdown-auth/lockdown/internal/background"
	"github.com/lockdown-auth/lockdown/internal/config"
	"github.com/lockdown-auth/lockdown/internal/database"
	"github.com/lockdown-auth/lockdown/internal/handlers"
	middlewareCustom "github.com/lockdown-auth/lockdown/internal/middleware"
	"github.com/lockdown-auth/lockdown/internal/repositories"
	"github.com/lockdown-auth/lockdown/internal/routes"
	"github.com/lockdown-auth/lockdown/internal/services"
	pkghttp "github.com/lockdown-auth/lockdown/pkg/http"
	pkglogger "github.com/lockdown-auth/lockdown/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database; NewConnection migrates the schema on startup
	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	attemptRepo := repositories.NewAttemptRepository(db)
	lockoutRepo := repositories.NewLockoutRepository(db)
	ipListRepo := repositories.NewIPListRepository(db)

	// Initialize security services
	auditLogger := pkglogger.NewAuditLogger(logger)
	attemptLog := services.NewAttemptLogService(attemptRepo, logger)
	ipLists := services.NewIPListService(ipListRepo, logger)

	// Lockout notification via SES, optional
	var notifier services.LockoutNotifier
	if cfg.Notify.Enabled {
		sesNotifier, err := services.NewAWSSESNotifyService(
			cfg.Notify.AWSRegion,
			cfg.Notify.FromAddress,
			cfg.Notify.AdminAddress,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize notification service", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	loginGate := services.NewLoginGate(attemptLog, lockoutRepo, ipLists, notifier, cfg.Security, logger, auditLogger)

	// Host credential store; deny everything until one is configured
	var verifier services.CredentialVerifier = services.DenyAllVerifier{}
	if cfg.Upstream.VerifyURL != "" {
		verifier = services.NewUpstreamVerifier(cfg.Upstream.VerifyURL, cfg.Upstream.Timeout)
	} else {
		logger.Warn("UPSTREAM_VERIFY_URL not set, all logins will be refused")
	}

	// Timing delay for auth endpoints
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   200,
		RandomDelayMs: 200,
	})

	// Admin API token manager
	tokenManager := auth.NewTokenManager(cfg.Admin.JWTSecret, 1*time.Hour)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{CustomHeaders: cfg.Security.CustomIPHeaders}
	authHandler := handlers.NewAuthHandler(loginGate, verifier, timingDelay, ipConfig)
	adminHandler := handlers.NewAdminHandler(attemptLog, lockoutRepo, ipLists, auditLogger)

	// Obfuscation gate in front of everything else
	obfuscationGate := middlewareCustom.NewObfuscationGate(cfg.Obfuscation, ipConfig, attemptLog, nil, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(obfuscationGate.Handler)
	router.Use(middlewareCustom.SecureLogger(logger, cfg.Obfuscation.Slug))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, authHandler, adminHandler, tokenManager, cfg.Obfuscation.LoginPath)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start daily maintenance
	maintenanceCtx, maintenanceCancel := context.WithCancel(context.Background())
	defer maintenanceCancel()

	maintenance := background.NewMaintenanceManager(attemptLog, lockoutRepo, cfg.Security.RetentionDays, logger)
	if err := maintenance.Start(maintenanceCtx); err != nil {
		logger.Error("failed to start maintenance job", slog.Any("error", err))
		os.Exit(1)
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
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

	maintenanceCancel()
	maintenance.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}
