package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/besmart/voice-agent/internal/agent"
	"github.com/besmart/voice-agent/internal/config"
	"github.com/besmart/voice-agent/internal/hamsa"
	"github.com/besmart/voice-agent/internal/observability"
	"github.com/besmart/voice-agent/internal/pipeline"
	"github.com/besmart/voice-agent/internal/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("hamsa_url", cfg.HamsaWSURL).
		Str("webhook_url", cfg.WebhookURL).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice agent service starting")

	// Collaborator clients are shared by every session
	hamsaClient := hamsa.NewClient(hamsaConfig(cfg))
	agentClient := agent.NewClient(agent.Config{
		URL:                cfg.WebhookURL,
		Timeout:            cfg.AgentTimeoutDuration(),
		MaxIdleConns:       cfg.AgentMaxIdleConns,
		MaxConns:           cfg.AgentMaxConns,
		BreakerMaxFailures: cfg.CircuitBreakerMaxFailures,
		BreakerReset:       cfg.CircuitBreakerResetDuration(),
	})

	orchestrator := pipeline.New(hamsaClient, hamsaClient, agentClient, pipelineConfig(cfg))

	mux := http.NewServeMux()

	wsHandler := session.NewHandler(orchestrator, session.Config{
		WriteTimeout: cfg.WriteTimeoutDuration(),
		PingInterval: 20 * time.Second,
	})
	mux.Handle("GET /ws/agent/{session_id}/", wsHandler)
	mux.Handle("GET /ws/agent/", wsHandler)
	mux.HandleFunc("POST /api/tts", session.TTSHandler(hamsaClient))

	mux.HandleFunc("GET /health", observability.HealthCheckHandler())
	mux.HandleFunc("GET /ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"hamsa": hamsaClient.Healthy,
		"agent": agentClient.Healthy,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// WebSocket connections are hijacked, so these only bound plain HTTP requests
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws/agent/{session_id}/", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

func hamsaConfig(cfg *config.Config) hamsa.Config {
	return hamsa.Config{
		WSURL:              cfg.HamsaWSURL,
		RESTURL:            cfg.HamsaTTSURL,
		APIKey:             cfg.HamsaAPIKey,
		Language:           cfg.HamsaLanguage,
		EOSThreshold:       cfg.EOSThreshold,
		Speaker:            cfg.TTSSpeaker,
		Dialect:            cfg.TTSDialect,
		SampleRate:         cfg.TTSSampleRate,
		ConnectAttempts:    cfg.ConnectAttempts,
		ConnectBackoff:     cfg.ConnectBackoffDuration(),
		ReadTimeout:        cfg.ReadTimeoutDuration(),
		BreakerMaxFailures: cfg.CircuitBreakerMaxFailures,
		BreakerReset:       cfg.CircuitBreakerResetDuration(),
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		SampleRate:       cfg.TTSSampleRate,
		TokenBatchSize:   cfg.TokenBatchSize,
		SegmentMinChars:  cfg.SegmentMinChars,
		SegmentMaxChars:  cfg.SegmentMaxChars,
		FallbackMinChars: cfg.FallbackMinChars,
		AgentProducer:    cfg.AgentProducer,
		FinalProducer:    cfg.AgentFinalOutput,
		DoneGrace:        cfg.DoneGraceDuration(),
	}
}
