package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minivault/minivault/internal/api"
	"github.com/minivault/minivault/internal/assemble"
	"github.com/minivault/minivault/internal/backend"
	"github.com/minivault/minivault/internal/backend/ollama"
	"github.com/minivault/minivault/internal/backend/stub"
	"github.com/minivault/minivault/internal/config"
	"github.com/minivault/minivault/internal/httputil"
	"github.com/minivault/minivault/internal/logsink"
	"github.com/minivault/minivault/internal/persona"
	"github.com/minivault/minivault/internal/preset"
	"github.com/minivault/minivault/internal/ratelimit"
	"github.com/minivault/minivault/internal/telemetry"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, "minivault", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	appender, err := newAppender(cfg)
	if err != nil {
		slog.Error("failed to open log destination", "error", err)
		os.Exit(1)
	}
	sink := logsink.New(appender)
	sink.Start()

	limiter, err := newLimiter(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	enricher := persona.NewEnricher(cfg.PersonaContent, nil)

	var remote backend.Backend
	if cfg.LLMProvider == "ollama" {
		remote = ollama.New(cfg.LLMBaseURL, httputil.GenerationClient(cfg.LLMTimeout))
	}
	selector := backend.NewSelector(remote, stub.New(enricher, 30*time.Millisecond))
	defer selector.Close()

	presets := preset.Builtin()
	if cfg.PresetsFile != "" {
		if err := preset.LoadFile(cfg.PresetsFile, presets); err != nil {
			slog.Error("failed to load presets file", "error", err)
			os.Exit(1)
		}
	}
	defaults := preset.Defaults{
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		TopP:        cfg.LLMTopP,
		MaxTokens:   cfg.LLMMaxTokens,
		System:      cfg.LLMSystemPrompt,
	}

	handler := api.NewHandler(api.HandlerConfig{
		Limiter:   limiter,
		RateLimit: cfg.RateLimit,
		Presets:   presets,
		Defaults:  defaults,
		Backends:  selector,
		Assembler: assemble.New(!cfg.IncludeThinking),
		Sink:      sink,
		Enricher:  enricher,
		Version:   version,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting",
			"addr", cfg.Addr,
			"provider", cfg.LLMProvider,
			"log_backend", cfg.LogBackend,
			"rate_limit", cfg.RateLimit,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := sink.Stop(shutdownCtx); err != nil {
		slog.Error("log sink shutdown error", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

func setupLogger(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
}

func newAppender(cfg *config.Config) (logsink.Appender, error) {
	if cfg.LogBackend == "sqlite" {
		return logsink.NewSQLiteAppender(cfg.LogPath)
	}
	return logsink.NewJSONLAppender(cfg.LogPath), nil
}

func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, error) {
	if cfg.RedisURL != "" {
		l, err := ratelimit.NewRedisLimiter(cfg.RedisURL, cfg.RateLimit, cfg.RateLimitWindow)
		if err != nil {
			return nil, err
		}
		slog.Info("using redis rate limiter")
		return l, nil
	}

	l := ratelimit.NewSlidingWindowLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	l.StartSweeper(ctx, time.Minute, 10*cfg.RateLimitWindow)
	return l, nil
}
