package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/deepresearch-labs/orchestrator/internal/agents"
	"github.com/deepresearch-labs/orchestrator/internal/config"
	"github.com/deepresearch-labs/orchestrator/internal/httpapi"
	"github.com/deepresearch-labs/orchestrator/internal/session"
	"github.com/deepresearch-labs/orchestrator/internal/streaming"
	"github.com/deepresearch-labs/orchestrator/internal/workflow"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting Deep Research Orchestrator",
		zap.Int("port", cfg.Port),
		zap.Int("max_concurrent_sessions", cfg.MaxConcurrentSessions),
	)

	// Agent pool is created once and shared by all runs.
	pool := agents.NewHTTPPool(agents.PoolConfig{BaseURL: cfg.AgentServiceURL}, logger)
	logger.Info("Agent pool initialized", zap.String("agent_service_url", cfg.AgentServiceURL))

	streams := streaming.NewManager(cfg.StreamRingCapacity)

	runner := workflow.NewService(workflow.Config{
		QuestionTimeout:     cfg.QuestionTimeout,
		AnswerMaxIterations: cfg.AnswerMaxIterations,
	}, pool, logger)

	sessions := session.NewManager(runner, streams, session.Config{
		MaxConcurrent:      cfg.MaxConcurrentSessions,
		DefaultMaxCycles:   cfg.DefaultMaxCycles,
		DefaultTimeout:     cfg.DefaultTimeout,
		TTL:                cfg.SessionTTL,
		CompletedRetention: cfg.CompletedRetention,
		SweepInterval:      cfg.CleanupInterval,
	}, logger)
	sessions.Start(ctx)
	logger.Info("Started periodic session cleanup task",
		zap.Duration("interval", cfg.CleanupInterval),
		zap.Duration("session_ttl", cfg.SessionTTL),
	)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	mux := http.NewServeMux()
	httpapi.NewResearchHandler(sessions, streams, limiter, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold connections open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down Deep Research Orchestrator")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel any still-running research tasks.
	sessions.Close()

	logger.Info("Shutdown complete")
	os.Exit(0)
}
