// Package ollama implements the remote generation backend against the
// Ollama HTTP API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/minivault/minivault/internal/domain"
)

type Backend struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, client *http.Client) *Backend {
	return &Backend{
		baseURL: baseURL,
		client:  client,
	}
}

func (b *Backend) ID() string {
	return "ollama"
}

// Generate streams fragments from POST /api/generate. Connection failures,
// timeouts and non-success responses all surface as ErrBackendUnavailable.
// If the consumer stops pulling, the context cancellation tears down the
// HTTP request rather than draining the model to completion.
func (b *Backend) Generate(ctx context.Context, cfg domain.ResolvedConfig, prompt string) (<-chan string, <-chan error) {
	frags := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(frags)
		defer close(errs)

		payload := generateRequest{
			Model:  cfg.Model,
			Prompt: prompt,
			System: cfg.System,
			Stream: true,
			Options: generateOptions{
				Temperature: cfg.Temperature,
				TopP:        cfg.TopP,
				NumPredict:  cfg.MaxTokens,
			},
		}

		body, err := json.Marshal(payload)
		if err != nil {
			errs <- fmt.Errorf("marshal request: %w", err)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			errs <- fmt.Errorf("create request: %w", err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := b.client.Do(httpReq)
		if err != nil {
			errs <- fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			errs <- fmt.Errorf("%w: status=%d body=%s", domain.ErrBackendUnavailable, resp.StatusCode, string(bodyBytes))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk generateChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}

			if chunk.Response != "" {
				select {
				case frags <- chunk.Response:
				case <-ctx.Done():
					return
				}
			}

			if chunk.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			errs <- fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
		}
	}()

	return frags, errs
}

func (b *Backend) Models(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status=%d", domain.ErrBackendUnavailable, resp.StatusCode)
	}

	var tagsResp tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tagsResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(tagsResp.Models))
	for i, m := range tagsResp.Models {
		names[i] = m.Name
	}
	return names, nil
}

func (b *Backend) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status=%d", domain.ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type tagsResponse struct {
	Models []tagModel `json:"models"`
}

type tagModel struct {
	Name string `json:"name"`
}
