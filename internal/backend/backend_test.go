package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/minivault/minivault/internal/domain"
)

type mockBackend struct {
	id           string
	generateFunc func(ctx context.Context, cfg domain.ResolvedConfig, prompt string) (<-chan string, <-chan error)
	modelsFunc   func(ctx context.Context) ([]string, error)
	modelsCalls  int
}

func (m *mockBackend) ID() string { return m.id }

func (m *mockBackend) Generate(ctx context.Context, cfg domain.ResolvedConfig, prompt string) (<-chan string, <-chan error) {
	return m.generateFunc(ctx, cfg, prompt)
}

func (m *mockBackend) Models(ctx context.Context) ([]string, error) {
	m.modelsCalls++
	if m.modelsFunc != nil {
		return m.modelsFunc(ctx)
	}
	return nil, nil
}

func (m *mockBackend) HealthCheck(ctx context.Context) error { return nil }

func emitting(frags []string, err error) func(context.Context, domain.ResolvedConfig, string) (<-chan string, <-chan error) {
	return func(ctx context.Context, cfg domain.ResolvedConfig, prompt string) (<-chan string, <-chan error) {
		fc := make(chan string)
		ec := make(chan error, 1)
		go func() {
			defer close(fc)
			defer close(ec)
			for _, f := range frags {
				select {
				case fc <- f:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				ec <- err
			}
		}()
		return fc, ec
	}
}

func failingImmediately(err error) func(context.Context, domain.ResolvedConfig, string) (<-chan string, <-chan error) {
	return func(ctx context.Context, cfg domain.ResolvedConfig, prompt string) (<-chan string, <-chan error) {
		fc := make(chan string)
		ec := make(chan error, 1)
		ec <- err
		close(ec)
		close(fc)
		return fc, ec
	}
}

func drainAll(t *testing.T, frags <-chan string, errs <-chan error) (string, error) {
	t.Helper()
	var b strings.Builder
	for frags != nil || errs != nil {
		select {
		case f, ok := <-frags:
			if !ok {
				frags = nil
				continue
			}
			b.WriteString(f)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return b.String(), err
			}
		}
	}
	return b.String(), nil
}

func newTestSelector(remote Backend) *Selector {
	stub := &mockBackend{id: "stub", generateFunc: emitting([]string{"stub", " output"}, nil)}
	s := NewSelector(remote, stub)
	return s
}

func TestGenerateNoRemoteFallsBackToStub(t *testing.T) {
	s := newTestSelector(nil)
	defer s.Close()

	frags, errs, provider, fallback := s.Generate(context.Background(), domain.ResolvedConfig{}, "hi")
	got, err := drainAll(t, frags, errs)
	if err != nil {
		t.Fatal(err)
	}
	if provider != "stub" || !fallback {
		t.Errorf("expected stub fallback, got provider=%s fallback=%v", provider, fallback)
	}
	if got != "stub output" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestGenerateExplicitModelUsesRemote(t *testing.T) {
	var gotModel string
	remote := &mockBackend{id: "ollama"}
	remote.generateFunc = func(ctx context.Context, cfg domain.ResolvedConfig, prompt string) (<-chan string, <-chan error) {
		gotModel = cfg.Model
		return emitting([]string{"remote answer"}, nil)(ctx, cfg, prompt)
	}

	s := newTestSelector(remote)
	defer s.Close()

	frags, errs, provider, fallback := s.Generate(context.Background(), domain.ResolvedConfig{Model: "mistral"}, "hi")
	got, err := drainAll(t, frags, errs)
	if err != nil {
		t.Fatal(err)
	}
	if provider != "ollama" || fallback {
		t.Errorf("expected remote without fallback, got provider=%s fallback=%v", provider, fallback)
	}
	if gotModel != "mistral" {
		t.Errorf("expected explicit model to pass through, got %q", gotModel)
	}
	if got != "remote answer" {
		t.Errorf("unexpected output %q", got)
	}
	if remote.modelsCalls != 0 {
		t.Error("explicit model must not trigger model discovery")
	}
}

func TestGenerateAutoSelectsModel(t *testing.T) {
	var gotModel string
	remote := &mockBackend{
		id: "ollama",
		modelsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"llama3", "mistral", "phi"}, nil
		},
	}
	remote.generateFunc = func(ctx context.Context, cfg domain.ResolvedConfig, prompt string) (<-chan string, <-chan error) {
		gotModel = cfg.Model
		return emitting([]string{"ok"}, nil)(ctx, cfg, prompt)
	}

	s := newTestSelector(remote)
	defer s.Close()
	s.pickN = func(n int) int { return 1 }

	frags, errs, _, fallback := s.Generate(context.Background(), domain.ResolvedConfig{}, "hi")
	if _, err := drainAll(t, frags, errs); err != nil {
		t.Fatal(err)
	}
	if fallback {
		t.Error("auto-selection with available models must not fall back")
	}
	if gotModel != "mistral" {
		t.Errorf("expected model at index 1, got %q", gotModel)
	}
}

func TestGenerateCachesModelList(t *testing.T) {
	remote := &mockBackend{
		id: "ollama",
		modelsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"llama3"}, nil
		},
	}
	remote.generateFunc = emitting([]string{"ok"}, nil)

	s := newTestSelector(remote)
	defer s.Close()

	for i := 0; i < 5; i++ {
		frags, errs, _, _ := s.Generate(context.Background(), domain.ResolvedConfig{}, "hi")
		if _, err := drainAll(t, frags, errs); err != nil {
			t.Fatal(err)
		}
	}
	if remote.modelsCalls != 1 {
		t.Errorf("model list must be served from cache, got %d remote calls", remote.modelsCalls)
	}
}

func TestGenerateModelListFailureFallsBack(t *testing.T) {
	remote := &mockBackend{
		id: "ollama",
		modelsFunc: func(ctx context.Context) ([]string, error) {
			return nil, fmt.Errorf("%w: connect refused", domain.ErrBackendUnavailable)
		},
	}

	s := newTestSelector(remote)
	defer s.Close()

	frags, errs, provider, fallback := s.Generate(context.Background(), domain.ResolvedConfig{}, "hi")
	got, err := drainAll(t, frags, errs)
	if err != nil {
		t.Fatal(err)
	}
	if provider != "stub" || !fallback {
		t.Errorf("expected stub fallback, got provider=%s fallback=%v", provider, fallback)
	}
	if got != "stub output" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestGenerateEmptyModelListFallsBack(t *testing.T) {
	remote := &mockBackend{
		id: "ollama",
		modelsFunc: func(ctx context.Context) ([]string, error) {
			return []string{}, nil
		},
	}

	s := newTestSelector(remote)
	defer s.Close()

	_, _, provider, fallback := s.Generate(context.Background(), domain.ResolvedConfig{}, "hi")
	if provider != "stub" || !fallback {
		t.Errorf("expected stub fallback on empty model list, got provider=%s fallback=%v", provider, fallback)
	}
}

func TestGenerateRemoteUnavailableSubstitutesStubOnce(t *testing.T) {
	remote := &mockBackend{id: "ollama"}
	remote.generateFunc = failingImmediately(fmt.Errorf("%w: connect refused", domain.ErrBackendUnavailable))

	s := newTestSelector(remote)
	defer s.Close()

	frags, errs, provider, fallback := s.Generate(context.Background(), domain.ResolvedConfig{Model: "llama3"}, "hi")
	got, err := drainAll(t, frags, errs)
	if err != nil {
		t.Fatal(err)
	}
	if provider != "stub" || !fallback {
		t.Errorf("expected stub substitution, got provider=%s fallback=%v", provider, fallback)
	}
	if got != "stub output" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestGenerateOtherErrorsSurface(t *testing.T) {
	wantErr := errors.New("model exploded")
	remote := &mockBackend{id: "ollama"}
	remote.generateFunc = failingImmediately(wantErr)

	s := newTestSelector(remote)
	defer s.Close()

	frags, errs, provider, fallback := s.Generate(context.Background(), domain.ResolvedConfig{Model: "llama3"}, "hi")
	_, err := drainAll(t, frags, errs)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
	if provider != "ollama" || fallback {
		t.Errorf("non-availability errors must not trigger fallback, got provider=%s fallback=%v", provider, fallback)
	}
}

func TestGeneratePreservesFirstFragment(t *testing.T) {
	remote := &mockBackend{id: "ollama"}
	remote.generateFunc = emitting([]string{"first", " second", " third"}, nil)

	s := newTestSelector(remote)
	defer s.Close()

	frags, errs, _, _ := s.Generate(context.Background(), domain.ResolvedConfig{Model: "llama3"}, "hi")
	got, err := drainAll(t, frags, errs)
	if err != nil {
		t.Fatal(err)
	}
	if got != "first second third" {
		t.Errorf("peeked fragment must be re-attached in order, got %q", got)
	}
}
