// Package backend defines the generation backend capability and the
// selection policy between the remote model service and the local stub.
//
// Backends expose a single output shape: a lazy, order-preserving sequence
// of text fragments delivered over a channel. A non-streaming response is
// simply a sequence the caller drains to completion.
package backend

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/minivault/minivault/internal/domain"
	"github.com/minivault/minivault/internal/metrics"
)

// Backend produces generated text for a resolved request configuration.
// Generate returns a fragment channel and an error channel; both are closed
// by the backend when the sequence ends. Transport-level failures are
// reported as domain.ErrBackendUnavailable, never raw detail.
type Backend interface {
	ID() string
	Generate(ctx context.Context, cfg domain.ResolvedConfig, prompt string) (<-chan string, <-chan error)
	Models(ctx context.Context) ([]string, error)
	HealthCheck(ctx context.Context) error
}

const modelCacheTTL = 60 * time.Second

// Selector owns the remote/stub choice for each request: explicit model
// requests go to the remote backend, unset models are auto-selected from a
// TTL-cached model list, and any remote unavailability substitutes the stub
// exactly once (a fallback, not a retry).
type Selector struct {
	remote Backend // nil when no remote backend is configured
	stub   Backend
	models *ttlcache.Cache[string, []string]
	pickN  func(n int) int
}

func NewSelector(remote, stub Backend) *Selector {
	cache := ttlcache.New[string, []string](
		ttlcache.WithTTL[string, []string](modelCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, []string](),
	)
	go cache.Start()

	return &Selector{
		remote: remote,
		stub:   stub,
		models: cache,
		pickN:  rand.IntN,
	}
}

// Stub exposes the fallback backend for mid-stream substitution by the caller.
func (s *Selector) Stub() Backend { return s.stub }

// Remote returns the configured remote backend, or nil.
func (s *Selector) Remote() Backend { return s.remote }

// Close stops the model cache expiration loop.
func (s *Selector) Close() {
	s.models.Stop()
}

// Generate picks a backend for cfg and starts generation. It reports the
// provider that actually produced the stream and whether the stub fallback
// fired. Remote failures that occur before the first fragment arrive here
// and trigger the one-shot substitution; later failures surface on the
// returned error channel.
func (s *Selector) Generate(ctx context.Context, cfg domain.ResolvedConfig, prompt string) (<-chan string, <-chan error, string, bool) {
	b, model, fallback := s.pick(ctx, cfg.Model)
	cfg.Model = model

	frags, errs := b.Generate(ctx, cfg, prompt)
	if fallback {
		return frags, errs, b.ID(), true
	}

	for {
		select {
		case frag, ok := <-frags:
			if !ok {
				return closedFragments(), errs, b.ID(), false
			}
			return prepend(ctx, frag, frags), errs, b.ID(), false

		case err, ok := <-errs:
			if !ok {
				errs = closedErrors()
				continue
			}
			if errors.Is(err, domain.ErrBackendUnavailable) {
				slog.Warn("remote backend unavailable, falling back to stub",
					"provider", b.ID(),
					"error", err,
				)
				metrics.RecordFallback("backend_unavailable")
				sf, se := s.stub.Generate(ctx, cfg, prompt)
				return sf, se, s.stub.ID(), true
			}
			return closedFragments(), singleError(err), b.ID(), false

		case <-ctx.Done():
			return closedFragments(), singleError(ctx.Err()), b.ID(), false
		}
	}
}

func (s *Selector) pick(ctx context.Context, model string) (Backend, string, bool) {
	if s.remote == nil {
		return s.stub, "", true
	}
	if model != "" {
		return s.remote, model, false
	}

	names, err := s.availableModels(ctx)
	if err != nil {
		slog.Warn("model list unavailable, falling back to stub", "error", err)
		metrics.RecordFallback("model_list_unavailable")
		return s.stub, "", true
	}
	if len(names) == 0 {
		slog.Warn("no models available, falling back to stub")
		metrics.RecordFallback("no_models")
		return s.stub, "", true
	}

	return s.remote, names[s.pickN(len(names))], false
}

// availableModels returns the remote model list, refreshed lazily on cache
// expiry rather than on every request.
func (s *Selector) availableModels(ctx context.Context) ([]string, error) {
	if item := s.models.Get("models"); item != nil {
		return item.Value(), nil
	}

	names, err := s.remote.Models(ctx)
	if err != nil {
		return nil, err
	}
	s.models.Set("models", names, ttlcache.DefaultTTL)
	return names, nil
}

func closedFragments() <-chan string {
	ch := make(chan string)
	close(ch)
	return ch
}

func closedErrors() <-chan error {
	ch := make(chan error)
	close(ch)
	return ch
}

func singleError(err error) <-chan error {
	ch := make(chan error, 1)
	if err != nil {
		ch <- err
	}
	close(ch)
	return ch
}

// prepend re-attaches a peeked fragment to the front of the sequence.
func prepend(ctx context.Context, first string, rest <-chan string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		select {
		case out <- first:
		case <-ctx.Done():
			return
		}
		for frag := range rest {
			select {
			case out <- frag:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
