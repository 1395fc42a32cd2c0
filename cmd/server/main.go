// adagent - conversation server for the video ads agent
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/adagent/internal/agent"
	"github.com/ashureev/adagent/internal/api"
	"github.com/ashureev/adagent/internal/config"
	"github.com/ashureev/adagent/internal/conversation"
	"github.com/ashureev/adagent/internal/health"
	"github.com/ashureev/adagent/internal/identity"
	"github.com/ashureev/adagent/internal/middleware"
	"github.com/ashureev/adagent/internal/store"
	"github.com/ashureev/adagent/web"
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

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"agent_url", cfg.Agent.BaseURL,
		"app_name", cfg.Agent.AppName,
	)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return err
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	agentClient, err := agent.NewClient(cfg.AgentClientConfig(), nil, logger)
	if err != nil {
		return err
	}

	conversations := conversation.NewManager(conversation.Config{
		Processor:      agentClient,
		Generator:      identity.Random{},
		Repo:           repo,
		AppName:        agentClient.AppName(),
		RequestTimeout: cfg.Agent.RequestTimeout,
		Logger:         logger,
	})

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	// Initialize handlers.
	chatHandler := api.NewChatHandler(conversations, limiter, api.ChatHandlerConfig{
		MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
		AllowedOrigins:     cfg.AllowedOrigins(),
		IsDevelopment:      cfg.IsDevelopment(),
	})
	healthHandler := api.NewHealthHandler(repo, conversations, agentClient.AppName())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket streams are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var healthLis net.Listener
	if cfg.GRPCHealthAddr != "" {
		if healthLis, err = net.Listen("tcp", cfg.GRPCHealthAddr); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ttlStopped := conversation.StartTTLWorker(ctx, conversations, cfg.Session.TTL, cfg.Session.SweepInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if healthLis != nil {
		healthServer := health.NewServer(repo, 0, logger)
		g.Go(func() error {
			return healthServer.Serve(gctx, healthLis)
		})
	}

	g.Go(func() error {
		// Wait for shutdown signal or a server failure.
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		if err := conversations.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Conversations did not drain", "error", err)
		}
		return nil
	})

	err = g.Wait()
	stop()
	<-ttlStopped
	return err
}
