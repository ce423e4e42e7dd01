// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	alertrepository "tvbridge/internal/alert/repository"
	alertservice "tvbridge/internal/alert/service"
	alerthttp "tvbridge/internal/alert/transport/http"
	bybitservice "tvbridge/internal/bybit/service"
	"tvbridge/internal/config"
	diagrepository "tvbridge/internal/diag/repository"
	diaghttp "tvbridge/internal/diag/transport/http"
	"tvbridge/internal/metrics"
	"tvbridge/internal/notify"
	positionrepository "tvbridge/internal/position/repository"
	positionservice "tvbridge/internal/position/service"
	positionhttp "tvbridge/internal/position/transport/http"
	settingsrepository "tvbridge/internal/settings/repository"
	settingshttp "tvbridge/internal/settings/transport/http"
	userrepository "tvbridge/internal/user/repository"
	userservice "tvbridge/internal/user/service"
	userhttp "tvbridge/internal/user/transport/http"
	"tvbridge/pkg/db"
	"tvbridge/pkg/middleware"
)

var server *http.Server

func main() {
	cfg := config.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Info().Msg("tvbridge starting")

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	logger.Info().Msg("connected to PostgreSQL")

	metrics.InitMetrics()

	// Repositories.
	alertRepo := alertrepository.NewPostgresAlertRepo(database)
	positionRepo := positionrepository.NewPostgresPositionRepo(database)
	settingsRepo := settingsrepository.NewPostgresSettingsRepo(database)
	diagRepo := diagrepository.NewPostgresDiagRepo(database)
	tokenRepo := userrepository.NewPostgresRefreshTokenRepo(database)

	// Exchange client and order manager.
	exchangeClient := bybitservice.NewHTTPClient(
		cfg.BybitAPIKey,
		cfg.BybitSecretKey,
		cfg.BybitEndpoints,
		cfg.BybitProxyAddr,
		cfg.BybitRecvWindow,
		logger,
	)
	orderManager := bybitservice.NewOrderManager(exchangeClient, logger)

	// Notifier.
	smsSender := notify.NewSMSSender(notify.Config{
		ProviderURL: cfg.SMSProviderURL,
		APIKey:      cfg.SMSAPIKey,
		From:        cfg.SMSFrom,
		MaxAttempts: cfg.SMSMaxAttempts,
		BaseDelay:   cfg.SMSBaseDelay,
		MaxDelay:    cfg.SMSMaxDelay,
	}, diagRepo, logger)

	// Services.
	positionSvc := positionservice.NewService(positionRepo, exchangeClient, orderManager, diagRepo, logger)
	alertSvc := alertservice.NewService(alertRepo, positionRepo, settingsRepo, orderManager, positionSvc, smsSender, diagRepo, logger)
	userSvc := userservice.NewService(cfg.OperatorEmail, cfg.OperatorPasswordHash, cfg.JWTSecret, tokenRepo)

	// Handlers.
	alertHandler := alerthttp.NewHandler(alertSvc, alertRepo, cfg.WebhookSecret, logger)
	positionHandler := positionhttp.NewHandler(positionSvc, positionRepo, logger)
	settingsHandler := settingshttp.NewHandler(settingsRepo, logger)
	diagHandler := diaghttp.NewHandler(diagRepo, positionSvc.BreakerState, logger)
	userHandler := userhttp.NewHandler(userSvc, logger)

	webhookLimiter := middleware.NewRateLimiter(cfg.WebhookRateLimit, time.Minute)

	// Expired refresh tokens pile up otherwise.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := tokenRepo.DeleteExpired(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to prune refresh tokens")
			}
			cancel()
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.MetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public routes. TradingView posts here, so no JWT; the shared secret
	// travels in the payload.
	r.Group(func(pub chi.Router) {
		pub.Use(webhookLimiter.Middleware)
		pub.Use(middleware.ValidateRequest)
		pub.Post("/webhook", alertHandler.Webhook)
	})
	r.Post("/auth/login", userHandler.Login)
	r.Post("/auth/refresh", userHandler.Refresh)

	// Dashboard routes.
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.JWTAuth(cfg.JWTSecret))

		pr.Get("/api/alerts", alertHandler.ListAlerts)
		pr.Get("/api/alerts/{id}", alertHandler.GetAlert)
		pr.Delete("/api/alerts", alertHandler.CleanupAlerts)

		pr.Get("/api/positions", positionHandler.GetPositions)
		pr.Post("/api/positions/{id}/close", positionHandler.ClosePosition)
		pr.Put("/api/positions/{id}/stops", positionHandler.AmendStops)
		pr.Get("/api/balance", positionHandler.GetBalance)
		pr.Get("/api/pnl", positionHandler.GetPnl)
		pr.Get("/api/history", positionHandler.GetHistory)
		pr.Get("/api/export", positionHandler.Export)

		pr.Get("/api/settings", settingsHandler.GetSettings)
		pr.Put("/api/settings", settingsHandler.UpdateSettings)
		pr.Get("/api/locks", settingsHandler.ListLocks)
		pr.Post("/api/locks", settingsHandler.CreateLock)
		pr.Delete("/api/locks/{symbol}", settingsHandler.DeleteLock)

		pr.Get("/api/logs", diagHandler.ListLogs)
		pr.Delete("/api/logs", diagHandler.CleanupLogs)
		pr.Get("/api/diagnostics", diagHandler.Diagnostics)
	})

	r.Group(func(mr chi.Router) {
		mr.Use(middleware.BasicAuth(cfg.MetricsUser, cfg.MetricsPass))
		mr.Get("/metrics", promhttp.Handler().ServeHTTP)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})

	server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	logger.Info().Str("addr", cfg.ListenAddr).Msg("server running")

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		logger.Info().Msg("shutdown signal received, starting graceful shutdown")
		shutdownServer(logger)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func shutdownServer(logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
