package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/auth-console/backend/internal/admin"
	"github.com/auth-console/backend/internal/auth"
	"github.com/auth-console/backend/internal/captcha"
	"github.com/auth-console/backend/internal/config"
	"github.com/auth-console/backend/internal/federation"
	"github.com/auth-console/backend/internal/health"
	"github.com/auth-console/backend/internal/logger"
	"github.com/auth-console/backend/internal/mailer"
	"github.com/auth-console/backend/internal/metrics"
	authmw "github.com/auth-console/backend/internal/middleware"
	"github.com/auth-console/backend/internal/repository"
	"github.com/auth-console/backend/internal/session"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log := logger.New(logger.DefaultConfig())

	// Validate required configuration
	if cfg.JWT.AccessSecret == "" {
		log.Error("JWT_ACCESS_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.JWT.RefreshSecret == "" {
		log.Error("JWT_REFRESH_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.Admin.Password == "" {
		log.Error("ADMIN_PASSWORD environment variable is required")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Setup database connections
	dbPool, err := setupDatabase(rootCtx, cfg, log)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// sqlx connection for the activity log, sharing the pgx driver
	db, err := sqlx.ConnectContext(rootCtx, "pgx", cfg.Database.DSN())
	if err != nil {
		log.Error("Failed to open activity log connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool)
	activityRepo := repository.NewActivityRepo(db)

	// Initialize services
	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		AccessSecret:       cfg.JWT.AccessSecret,
		RefreshSecret:      cfg.JWT.RefreshSecret,
		AccessTokenExpiry:  cfg.JWT.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.JWT.RefreshTokenExpiry,
		VerificationExpiry: cfg.JWT.VerificationExpiry,
		ResetExpiry:        cfg.JWT.ResetExpiry,
		UnlockExpiry:       cfg.Auth.UnlockTokenExpiry,
		Issuer:             cfg.JWT.Issuer,
	})

	passwordValidator := auth.NewPasswordValidator()

	tracker := session.NewTracker(log)
	tracker.StartSweeper(rootCtx, cfg.Session.SweepInterval, cfg.Session.AbsoluteTimeout, cfg.Session.IdleSweepHorizon)

	reconciler := session.NewReconciler(activityRepo, tracker, session.ReconcilerConfig{
		LookbackWindow:  cfg.Session.LookbackWindow,
		AbsoluteTimeout: cfg.Session.AbsoluteTimeout,
	}, log)

	// Rebuild the session view from the activity log before serving
	if result, err := reconciler.Reconcile(rootCtx, time.Now()); err != nil {
		log.Warn("Startup session reconciliation failed", "error", err)
	} else {
		log.Info("Session view rebuilt",
			"entries_scanned", result.EntriesScanned,
			"sessions_rebuilt", result.SessionsRebuilt,
		)
	}

	var dispatcher mailer.Dispatcher
	if cfg.Email.Host != "" {
		dispatcher = mailer.NewSMTPDispatcher(mailer.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		}, log)
	} else {
		dispatcher = mailer.NewLogDispatcher(log)
	}

	var verifier captcha.Verifier
	if cfg.Captcha.SecretKey != "" {
		verifier = captcha.NewRecaptchaVerifier(captcha.RecaptchaConfig{
			SecretKey: cfg.Captcha.SecretKey,
			VerifyURL: cfg.Captcha.VerifyURL,
		})
	} else {
		verifier = &captcha.StaticVerifier{Allow: true}
	}

	var federated federation.Verifier
	if cfg.Federation.GoogleClientID != "" {
		federated = federation.NewGoogleVerifier(federation.GoogleConfig{
			ClientID:     cfg.Federation.GoogleClientID,
			TokenInfoURL: cfg.Federation.TokenInfoURL,
		})
	} else {
		federated = &federation.StaticVerifier{}
	}

	authService := auth.NewAuthService(
		userRepo,
		activityRepo,
		tokenService,
		passwordValidator,
		tracker,
		dispatcher,
		verifier,
		federated,
		auth.AuthServiceConfig{
			MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
			LockDuration:      cfg.Auth.LockDuration,
			OTPExpiry:         cfg.Auth.OTPExpiry,
			CaptchaBypass:     cfg.Auth.CaptchaBypass,
			AdminEmail:        cfg.Admin.Email,
			AdminPassword:     cfg.Admin.Password,
			AdminName:         cfg.Admin.Name,
			FrontendURL:       cfg.Server.FrontendURL,
		},
		log,
	)

	adminService := admin.NewAdminService(
		userRepo,
		activityRepo,
		tracker,
		reconciler,
		admin.AdminServiceConfig{
			AdminEmail: cfg.Admin.Email,
			AdminName:  cfg.Admin.Name,
		},
		log,
	)

	// Initialize handlers
	authHandler := auth.NewAuthHandler(authService)
	adminHandler := admin.NewAdminHandler(adminService)
	healthHandler := health.NewHandler(health.Config{
		DBPool:  dbPool,
		Version: version,
	})

	// Initialize middleware
	authMiddleware := authmw.NewAuthMiddleware(tokenService)
	loggingMiddleware := authmw.NewLoggingMiddleware(log)
	loginLimiter := authmw.NewLoginRateLimiter()

	// Prune old activity log entries in the background
	go purgeActivityLoop(rootCtx, activityRepo, cfg.Session.ActivityRetention, log)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(loggingMiddleware.Handler)
	r.Use(metrics.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Server.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and observability endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Handle("/metrics", metrics.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		auth.RegisterRoutes(r, authHandler, authMiddleware.Authenticate, loginLimiter.Handler)
		admin.RegisterRoutes(r, adminHandler, authMiddleware.Authenticate, authMiddleware.RequireAdmin)
	})

	// Create server
	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()

	log.Info("Shutting down server...")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	log.Info("Server exited")
}

var version = "dev"

// purgeActivityLoop deletes activity log entries older than the retention
// window, once a day.
func purgeActivityLoop(ctx context.Context, activities repository.ActivityRepositoryInterface, retention time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
			deleted, err := activities.PurgeOlderThan(purgeCtx, now.Add(-retention))
			cancel()
			if err != nil {
				log.Warn("Activity log purge failed", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("Purged old activity entries", "deleted", deleted)
			}
		}
	}
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Connected to database",
		"name", cfg.Database.DBName,
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
	)
	return pool, nil
}
