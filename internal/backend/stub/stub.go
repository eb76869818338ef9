// Package stub implements the deterministic offline generation backend used
// when no remote backend is configured or the remote backend is unavailable.
package stub

import (
	"context"
	"strings"
	"time"

	"github.com/minivault/minivault/internal/domain"
	"github.com/minivault/minivault/internal/persona"
)

var canned = map[string]string{
	"hello":        "Hello! I'm MiniVault, your friendly local AI API. (Fallback mode)",
	"test":         "Test successful! MiniVault is working in fallback mode.",
	"who are you?": "I'm MiniVault, a lightweight local prompt/response API currently running in fallback mode. How can I help you today?",
}

const defaultResponse = "This is a fallback response from MiniVault API. LLM is currently unavailable."

type Backend struct {
	enricher *persona.Enricher
	delay    time.Duration
}

// New builds a stub backend. delay is the pause between simulated stream
// fragments; pass 0 in tests.
func New(enricher *persona.Enricher, delay time.Duration) *Backend {
	if enricher == nil {
		enricher = persona.NewEnricher("", nil)
	}
	return &Backend{enricher: enricher, delay: delay}
}

func (b *Backend) ID() string {
	return "stub"
}

// Generate emits the deterministic response one word at a time, each
// non-leading fragment prefixed with a space so concatenation reproduces
// the full text.
func (b *Backend) Generate(ctx context.Context, cfg domain.ResolvedConfig, prompt string) (<-chan string, <-chan error) {
	frags := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(frags)
		defer close(errs)

		words := strings.Fields(b.respond(prompt))
		if cfg.MaxTokens > 0 && len(words) > cfg.MaxTokens {
			words = words[:cfg.MaxTokens]
		}

		for i, word := range words {
			if i > 0 {
				word = " " + word
			}
			select {
			case frags <- word:
			case <-ctx.Done():
				return
			}
			if b.delay > 0 {
				select {
				case <-time.After(b.delay):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return frags, errs
}

func (b *Backend) respond(prompt string) string {
	if r, ok := canned[strings.ToLower(strings.TrimSpace(prompt))]; ok {
		return r
	}

	if b.enricher.Personal(prompt) {
		background := b.enricher.Content()
		if len(background) > 500 {
			background = background[:500] + "..."
		}
		return "Based on the author's background information:\n\n" + background + "\n\n(Fallback mode - LLM unavailable)"
	}

	switch {
	case len(prompt) < 10:
		return "Your prompt is quite short. Try asking something more detailed! (Fallback mode)"
	case len(prompt) > 100:
		return "That's a thoughtful prompt! Here's my comprehensive response to your detailed query. (Fallback mode)"
	default:
		return defaultResponse
	}
}

// Models is empty by construction: the stub has no model catalog.
func (b *Backend) Models(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (b *Backend) HealthCheck(ctx context.Context) error {
	return nil
}
