package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/minivault/minivault/internal/domain"
	"github.com/minivault/minivault/internal/preset"
)

const backendProbeTimeout = 5 * time.Second

type healthResponse struct {
	Status         string  `json:"status"`
	Version        string  `json:"version"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	TotalRequests  int64   `json:"total_requests"`
	Backend        string  `json:"backend"`
	BackendHealthy bool    `json:"backend_healthy"`
	ModelsLoaded   int     `json:"models_loaded"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "healthy",
		Version:       h.version,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		TotalRequests: h.requestCount.Load(),
		Backend:       "stub",
	}

	if remote := h.backends.Remote(); remote != nil {
		resp.Backend = remote.ID()
		ctx, cancel := context.WithTimeout(r.Context(), backendProbeTimeout)
		defer cancel()
		if err := remote.HealthCheck(ctx); err == nil {
			resp.BackendHealthy = true
			if names, err := remote.Models(ctx); err == nil {
				resp.ModelsLoaded = len(names)
			}
		} else {
			// Degraded, not down: the stub still serves requests.
			resp.Status = "degraded"
		}
	} else {
		resp.BackendHealthy = true
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

func (h *Handler) handleHealthReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	remote := h.backends.Remote()
	if remote == nil {
		writeError(w, http.StatusServiceUnavailable, "no remote backend configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), backendProbeTimeout)
	defer cancel()
	names, err := remote.Models(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "model list unavailable")
		return
	}

	models := make([]domain.ModelInfo, 0, len(names))
	for _, name := range names {
		models = append(models, domain.ModelInfo{Name: name})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.ModelsResponse{Models: models})
}

func (h *Handler) handleListPresets(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.PresetsResponse{
		Default: preset.DefaultName,
		Presets: preset.Catalog(h.presets),
	})
}
