// Atelier Mentor - phase-progression server for architecture tutoring sessions
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atelierlabs/atelier-mentor/internal/api"
	"github.com/atelierlabs/atelier-mentor/internal/config"
	"github.com/atelierlabs/atelier-mentor/internal/export"
	"github.com/atelierlabs/atelier-mentor/internal/identity"
	"github.com/atelierlabs/atelier-mentor/internal/middleware"
	"github.com/atelierlabs/atelier-mentor/internal/progression"
	"github.com/atelierlabs/atelier-mentor/internal/session"
	"github.com/atelierlabs/atelier-mentor/internal/store"
	"github.com/atelierlabs/atelier-mentor/internal/stream"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	decisionLogger, err := export.NewDecisionLogger(export.Config{
		Enabled:       cfg.DecisionLog.Enabled,
		Dir:           cfg.DecisionLog.Dir,
		GlobalEnabled: cfg.DecisionLog.GlobalEnabled,
		GlobalPath:    cfg.DecisionLog.GlobalPath,
		QueueSize:     cfg.DecisionLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize decision logger", "error", err)
		os.Exit(1)
	}

	// Initialize services.
	tracker := progression.NewTracker(progression.Config{
		ConfidenceGain:          cfg.Progression.ConfidenceGain,
		ConfidenceFloor:         cfg.Progression.ConfidenceFloor,
		MinMilestones:           cfg.Progression.MinMilestones,
		RegressionThreshold:     cfg.Progression.RegressionThreshold,
		RegressionWindow:        cfg.Progression.RegressionWindow,
		RegressionCooldownTurns: cfg.Progression.RegressionCooldownTurns,
		RegressionPenalty:       cfg.Progression.RegressionPenalty,
	}, logger)

	hub := stream.NewHub()
	sessions := session.NewManager(repo, tracker, decisionLogger, hub)
	defer sessions.Close()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sessions)
	sessionHandler := api.NewSessionHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := stream.NewWebSocketHandler(repo, hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(allowedOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)

	// WebSocket endpoint for live guidance decisions.
	r.Get("/ws/sessions/{sessionID}", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start TTL worker.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartTTLWorker(ctx, cfg.SessionTTL, hub.CloseSession)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
