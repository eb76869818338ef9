package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/minivault/minivault/internal/assemble"
	"github.com/minivault/minivault/internal/backend"
	"github.com/minivault/minivault/internal/domain"
	"github.com/minivault/minivault/internal/metrics"
	"github.com/minivault/minivault/internal/persona"
	"github.com/minivault/minivault/internal/preset"
	"github.com/minivault/minivault/internal/ratelimit"
	"github.com/minivault/minivault/internal/telemetry"
)

// Sink is the part of the log sink the handler needs.
type Sink interface {
	Enqueue(rec domain.LogRecord)
}

type HandlerConfig struct {
	Limiter   ratelimit.Limiter
	RateLimit int
	Presets   map[string]preset.Preset
	Defaults  preset.Defaults
	Backends  *backend.Selector
	Assembler *assemble.Assembler
	Sink      Sink
	Enricher  *persona.Enricher
	Version   string
}

// Handler is the request orchestrator: it admits or rejects via the rate
// limiter, resolves the preset, drives the backend and assembler, and
// enqueues a log record on completion regardless of path.
type Handler struct {
	limiter   ratelimit.Limiter
	rateLimit int
	presets   map[string]preset.Preset
	defaults  preset.Defaults
	backends  *backend.Selector
	asm       *assemble.Assembler
	sink      Sink
	enricher  *persona.Enricher
	version   string

	mux          *http.ServeMux
	startTime    time.Time
	requestCount atomic.Int64
}

func NewHandler(cfg HandlerConfig) *Handler {
	enricher := cfg.Enricher
	if enricher == nil {
		enricher = persona.NewEnricher("", nil)
	}

	h := &Handler{
		limiter:   cfg.Limiter,
		rateLimit: cfg.RateLimit,
		presets:   cfg.Presets,
		defaults:  cfg.Defaults,
		backends:  cfg.Backends,
		asm:       cfg.Assembler,
		sink:      cfg.Sink,
		enricher:  enricher,
		version:   cfg.Version,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
	}

	h.mux.HandleFunc("POST /generate", h.handleGenerate)
	h.mux.HandleFunc("GET /models", h.handleListModels)
	h.mux.HandleFunc("GET /presets", h.handleListPresets)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", h.handleHealthReady)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.requestCount.Add(1)

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	// Validation rejects before the admission check; a malformed request
	// never consumes a rate-limit slot.
	var req domain.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	clientKey := clientAddr(r)
	allowed, remaining, resetAt, err := h.limiter.Allow(ctx, clientKey)
	if err != nil {
		slog.Error("rate limiter error", "error", err, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))

	if !allowed {
		metrics.RecordRateLimitHit()
		slog.Warn("rate limit exceeded", "client", clientKey, "request_id", requestID)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded. Please try again later.")
		return
	}
	admitted := time.Now()

	cfg, err := preset.Resolve(req, h.presets, h.defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg.System = h.enricher.Enrich(req.Prompt, cfg.System)

	ctx, span := telemetry.StartSpan(ctx, "generate")
	defer span.End()
	telemetry.AddRequestAttributes(span, requestID, cfg.Preset, cfg.Model, req.Stream)

	rctx := requestContext{
		req:       req,
		cfg:       cfg,
		requestID: requestID,
		clientKey: clientKey,
		admitted:  admitted,
	}

	if req.Stream {
		h.streamResponse(ctx, w, rctx, span)
		return
	}
	h.completeResponse(ctx, w, rctx, span)
}

// requestContext carries the per-request state shared by both response shapes.
type requestContext struct {
	req       domain.GenerateRequest
	cfg       domain.ResolvedConfig
	requestID string
	clientKey string
	admitted  time.Time
}

func (h *Handler) completeResponse(ctx context.Context, w http.ResponseWriter, rc requestContext, span trace.Span) {
	frags, errs, provider, fallback := h.backends.Generate(ctx, rc.cfg, rc.req.Prompt)
	text, err := h.asm.Collect(ctx, frags, errs)

	if err != nil && errors.Is(err, domain.ErrBackendUnavailable) && !fallback {
		// The remote died mid-sequence. Nothing has been sent to the
		// client yet, so the one-shot stub substitution still applies.
		slog.Warn("backend failed mid-generation, falling back to stub",
			"error", err,
			"request_id", rc.requestID,
		)
		metrics.RecordFallback("mid_generation")
		fallback = true
		stub := h.backends.Stub()
		provider = stub.ID()
		sf, se := stub.Generate(ctx, rc.cfg, rc.req.Prompt)
		text, err = h.asm.Collect(ctx, sf, se)
	}

	if err != nil {
		status := domain.StatusError
		if errors.Is(err, context.Canceled) {
			status = domain.StatusCancelled
		}
		telemetry.AddErrorAttribute(span, err)
		h.finishRequest(rc, provider, fallback, status, err, "", domain.Usage{})
		if status == domain.StatusError {
			slog.Error("generation failed", "error", err, "request_id", rc.requestID)
			writeError(w, http.StatusInternalServerError, "generation failed")
		}
		return
	}

	usage := h.asm.Usage(rc.req.Prompt, text)
	telemetry.AddProviderAttributes(span, provider, fallback)
	telemetry.AddTokenAttributes(span, usage.PromptTokens, usage.CompletionTokens)
	h.finishRequest(rc, provider, fallback, domain.StatusOK, nil, text, usage)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", rc.requestID)
	json.NewEncoder(w).Encode(domain.GenerateResponse{
		Response:    text,
		Usage:       usage,
		GeneratedAt: time.Now().UTC(),
	})
}

func (h *Handler) streamResponse(ctx context.Context, w http.ResponseWriter, rc requestContext, span trace.Span) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	frags, errs, provider, fallback := h.backends.Generate(ctx, rc.cfg, rc.req.Prompt)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-ID", rc.requestID)

	metrics.IncrementActiveStreams()
	defer metrics.DecrementActiveStreams()

	var completion strings.Builder
	var usage domain.Usage
	status := domain.StatusOK
	var genErr error

	for ev := range h.asm.Events(ctx, rc.req.Prompt, frags, errs) {
		switch {
		case ev.Done:
			w.Write([]byte("data: [DONE]\n\n"))
			flusher.Flush()

		case ev.Err != nil:
			status = domain.StatusError
			genErr = ev.Err
			payload, _ := json.Marshal(map[string]any{
				"error": map[string]any{
					"message": "generation failed",
					"type":    "backend_error",
				},
			})
			w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()

		case ev.Usage != nil:
			usage = *ev.Usage
			data, _ := json.Marshal(domain.StreamEvent{Token: ev.Token, Index: ev.Index, Usage: ev.Usage})
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()

		default:
			completion.WriteString(ev.Token)
			data, _ := json.Marshal(domain.StreamEvent{Token: ev.Token, Index: ev.Index})
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()
		}
	}

	if ctx.Err() != nil {
		// Client disconnected; cancellation has already propagated to the
		// backend through the request context.
		status = domain.StatusCancelled
		genErr = ctx.Err()
	}
	if status != domain.StatusOK {
		usage = assemble.NewUsage(rc.req.Prompt, completion.String())
	}

	telemetry.AddProviderAttributes(span, provider, fallback)
	telemetry.AddTokenAttributes(span, usage.PromptTokens, usage.CompletionTokens)
	if genErr != nil {
		telemetry.AddErrorAttribute(span, genErr)
	}
	h.finishRequest(rc, provider, fallback, status, genErr, completion.String(), usage)
}

// finishRequest records metrics and enqueues the log record. It runs for
// every admitted request, success or failure, and never blocks on the sink.
func (h *Handler) finishRequest(rc requestContext, provider string, fallback bool, status string, genErr error, response string, usage domain.Usage) {
	processing := time.Since(rc.admitted)

	metrics.RecordRequest(provider, rc.cfg.Preset, status, processing.Seconds(), rc.req.Stream)
	metrics.RecordTokens(provider, usage.PromptTokens, usage.CompletionTokens)

	rec := domain.LogRecord{
		Timestamp:    time.Now().UTC(),
		RequestID:    rc.requestID,
		ClientAddr:   rc.clientKey,
		Prompt:       rc.req.Prompt,
		Response:     response,
		Stream:       rc.req.Stream,
		Preset:       rc.cfg.Preset,
		Model:        rc.cfg.Model,
		Temperature:  rc.cfg.Temperature,
		TopP:         rc.cfg.TopP,
		MaxTokens:    rc.cfg.MaxTokens,
		SystemPrompt: rc.req.System,
		Provider:     provider,
		FallbackUsed: fallback,
		Status:       status,
		Usage:        usage,
		ProcessingMs: float64(processing.Microseconds()) / 1000,
	}
	if genErr != nil {
		rec.Error = genErr.Error()
	}
	h.sink.Enqueue(rec)

	slog.Info("request completed",
		"request_id", rc.requestID,
		"client", rc.clientKey,
		"provider", provider,
		"preset", rc.cfg.Preset,
		"stream", rc.req.Stream,
		"fallback", fallback,
		"status", status,
		"total_tokens", usage.TotalTokens,
		"processing_ms", rec.ProcessingMs,
	)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errorType(status),
			"code":    status,
		},
	})
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation_error"
	case http.StatusTooManyRequests:
		return "rate_limit_exceeded"
	case http.StatusServiceUnavailable:
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}
