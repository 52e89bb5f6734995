package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/github"
	"github.com/markbates/goth/providers/google"
	"golang.org/x/sync/errgroup"

	database "github.com/FACorreiaa/go-user-identity/app/db"
	appLogger "github.com/FACorreiaa/go-user-identity/app/logger"
	"github.com/FACorreiaa/go-user-identity/app/observability/metrics"
	"github.com/FACorreiaa/go-user-identity/app/tracer"
	"github.com/FACorreiaa/go-user-identity/config"
	"github.com/FACorreiaa/go-user-identity/internal/api/auth"
	"github.com/FACorreiaa/go-user-identity/internal/api/oauth"
	"github.com/FACorreiaa/go-user-identity/internal/api/password"
	"github.com/FACorreiaa/go-user-identity/internal/api/policy"
	"github.com/FACorreiaa/go-user-identity/internal/api/user"
	"github.com/FACorreiaa/go-user-identity/internal/router"
)

func main() {
	// Use standard log until slog is configured, in case godotenv fails
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: .env file not found or error loading:", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("FATAL: Error initializing config: %v", err)
	}

	logger := setupLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Observability ---
	metricsHandler, err := tracer.InitTracingAndMetrics("go-user-identity")
	if err != nil {
		logger.Error("Failed to initialize tracing and metrics", slog.Any("error", err))
		os.Exit(1)
	}
	metrics.InitAppMetrics()

	// --- Database Setup ---
	dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		os.Exit(1)
	}

	// Run migrations *before* initializing the main pool
	err = database.RunMigrations(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to run database migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if !database.WaitForDB(ctx, pool, logger) {
		logger.Error("Database not ready after waiting, exiting.")
		os.Exit(1)
	}

	// --- OAuth Providers ---
	registerOAuthProviders(cfg, logger)

	// --- Dependency Injection ---
	userRepo := user.NewPostgresUserRepo(pool, logger)
	sessionBinder := auth.NewJWTSessionBinder(cfg.Auth, logger)

	authService := auth.NewAuthService(userRepo, cfg.Accounts, logger)
	authHandler := auth.NewAuthHandler(authService, sessionBinder, logger)
	authMiddleware := auth.NewMiddleware(cfg.Auth, userRepo, logger)

	notifier := buildNotifier(cfg, logger)
	passwordService := password.NewPasswordService(userRepo, notifier, cfg.Reset, cfg.Accounts, logger)
	passwordHandler := password.NewPasswordHandler(passwordService, sessionBinder, logger)

	linkingService := oauth.NewIdentityLinkingService(userRepo, cfg.Accounts, logger)
	oauthHandler := oauth.NewOAuthHandler(linkingService, sessionBinder, logger)

	userService := user.NewUserService(userRepo, logger)
	userHandler := user.NewUserHandler(userService, authMiddleware.InvalidateRoles, logger)

	policyMiddleware := policy.NewMiddleware(policy.NewDefaultEngine(), logger)

	// --- Router Setup ---
	apiRouter := router.SetupRouter(&router.Config{
		AuthHandler:     authHandler,
		PasswordHandler: passwordHandler,
		OAuthHandler:    oauthHandler,
		UserHandler:     userHandler,
		Authenticate:    authMiddleware.Authenticate,
		Optional:        authMiddleware.Optional,
		Authorize:       policyMiddleware.Authorize,
		AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:3000"},
	})

	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(appLogger.StructuredLogger(logger))
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.StripSlashes)
	mux.Use(middleware.Timeout(60 * time.Second))
	mux.Use(middleware.Compress(5, "application/json"))
	mux.Mount("/", apiRouter)

	apiSrv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metricsHandler)
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting metrics server", slog.String("address", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutdown signal received, starting graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := apiSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server graceful shutdown failed", slog.Any("error", err))
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server graceful shutdown failed", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down complete.")
}

// registerOAuthProviders wires the configured goth providers and the cookie
// store backing the OAuth state round trip.
func registerOAuthProviders(cfg config.Config, logger *slog.Logger) {
	store := sessions.NewCookieStore([]byte(cfg.Auth.SecretKey))
	store.Options.HttpOnly = true
	store.Options.Secure = cfg.Auth.CookieSecure
	gothic.Store = store

	callbackBase := cfg.OAuth.CallbackBaseURL
	var providers []goth.Provider
	for name, p := range cfg.OAuth.Providers {
		if p.ClientID == "" || p.ClientSecret == "" {
			logger.Warn("Skipping OAuth provider without credentials", slog.String("provider", name))
			continue
		}
		callback := fmt.Sprintf("%s/api/auth/%s/callback", callbackBase, name)
		switch name {
		case "google":
			providers = append(providers, google.New(p.ClientID, p.ClientSecret, callback, "email", "profile"))
		case "github":
			providers = append(providers, github.New(p.ClientID, p.ClientSecret, callback, "user:email"))
		default:
			logger.Warn("Unknown OAuth provider in config", slog.String("provider", name))
		}
	}
	goth.UseProviders(providers...)
}

// buildNotifier picks SMTP when configured, otherwise logs mail locally.
func buildNotifier(cfg config.Config, logger *slog.Logger) password.Notifier {
	if cfg.SMTP.Host == "" {
		logger.Warn("SMTP host not configured, reset mail will be logged only")
		return password.NewLogNotifier(logger)
	}
	return password.NewSMTPNotifier(cfg.SMTP, logger)
}

// setupLogger configures and returns the application logger.
func setupLogger() *slog.Logger {
	var logger *slog.Logger
	env := os.Getenv("APP_ENV")

	if env == "development" || env == "" {
		// Colored logs for development
		tintOpts := &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		}
		logger = slog.New(tint.NewHandler(os.Stdout, tintOpts))
		log.Println("Initialized development logger (tint)")
	} else {
		jsonOpts := &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: false,
		}
		logger = slog.New(slog.NewJSONHandler(os.Stdout, jsonOpts))
		log.Println("Initialized production logger (JSON)")
	}
	return logger
}
