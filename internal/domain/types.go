package domain

import (
	"fmt"
	"time"
)

// GenerateRequest is the body of POST /generate. Optional sampling fields
// use pointers so that "absent" can fall through to preset and global defaults.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	Stream      bool     `json:"stream,omitempty"`
	Preset      string   `json:"preset,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	System      string   `json:"system,omitempty"`
}

// Validate rejects malformed requests before they reach the rate limiter
// or any backend.
func (r *GenerateRequest) Validate() error {
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt must not be empty", ErrInvalidRequest)
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return fmt.Errorf("%w: temperature must be between 0.0 and 2.0", ErrInvalidRequest)
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return fmt.Errorf("%w: top_p must be between 0.0 and 1.0", ErrInvalidRequest)
	}
	if r.MaxTokens != nil && (*r.MaxTokens < 1 || *r.MaxTokens > 4000) {
		return fmt.Errorf("%w: max_tokens must be between 1 and 4000", ErrInvalidRequest)
	}
	return nil
}

// ResolvedConfig is the fully merged set of generation parameters for one
// request: explicit request fields over preset values over global defaults.
// Immutable once built.
type ResolvedConfig struct {
	Preset      string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	System      string
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type GenerateResponse struct {
	Response    string    `json:"response"`
	Usage       Usage     `json:"usage"`
	GeneratedAt time.Time `json:"generated_at"`
}

// StreamEvent is one SSE data payload. Intermediate events omit the usage
// field entirely; the terminal event carries final usage and an empty token.
type StreamEvent struct {
	Token string `json:"token"`
	Index int    `json:"index"`
	Usage *Usage `json:"usage,omitempty"`
}

type ModelInfo struct {
	Name string `json:"name"`
}

type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

type PresetInfo struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
}

type PresetsResponse struct {
	Presets []PresetInfo `json:"presets"`
	Default string       `json:"default"`
}

// Request outcome values recorded in log entries.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// LogRecord is one append-only entry per completed or failed request.
// Created once generation finishes and never mutated afterward.
type LogRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
	ClientAddr   string    `json:"client_addr,omitempty"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response,omitempty"`
	Stream       bool      `json:"stream"`
	Preset       string    `json:"preset,omitempty"`
	Model        string    `json:"model,omitempty"`
	Temperature  float64   `json:"temperature"`
	TopP         float64   `json:"top_p"`
	MaxTokens    int       `json:"max_tokens"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Provider     string    `json:"provider"`
	FallbackUsed bool      `json:"fallback_used"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	Usage        Usage     `json:"usage"`
	ProcessingMs float64   `json:"processing_time_ms"`
}
