package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/minivault/minivault/internal/domain"
)

func testConfig() domain.ResolvedConfig {
	return domain.ResolvedConfig{
		Model:       "llama3",
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   100,
		System:      "be brief",
	}
}

func drain(frags <-chan string, errs <-chan error) (string, error) {
	var b strings.Builder
	for frag := range frags {
		b.WriteString(frag)
	}
	if err, ok := <-errs; ok && err != nil {
		return b.String(), err
	}
	return b.String(), nil
}

func TestGenerateStreamsFragments(t *testing.T) {
	var gotReq generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, chunk := range []generateChunk{
			{Response: "The"},
			{Response: " answer"},
			{Response: " is 42.", Done: false},
			{Done: true},
		} {
			json.NewEncoder(w).Encode(chunk)
		}
	}))
	defer server.Close()

	b := New(server.URL, server.Client())
	frags, errs := b.Generate(context.Background(), testConfig(), "what is the answer")

	got, err := drain(frags, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "The answer is 42." {
		t.Errorf("expected %q, got %q", "The answer is 42.", got)
	}

	if gotReq.Model != "llama3" || !gotReq.Stream {
		t.Errorf("unexpected request: %+v", gotReq)
	}
	if gotReq.System != "be brief" {
		t.Errorf("system prompt not forwarded: %q", gotReq.System)
	}
	if gotReq.Options.Temperature != 0.7 || gotReq.Options.NumPredict != 100 {
		t.Errorf("options not forwarded: %+v", gotReq.Options)
	}
}

func TestGenerateConnectionRefused(t *testing.T) {
	// Port 1 is never listening.
	b := New("http://127.0.0.1:1", &http.Client{Timeout: time.Second})
	frags, errs := b.Generate(context.Background(), testConfig(), "hi")

	_, err := drain(frags, errs)
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestGenerateNonOKStatus(t *testing.T) {
	statuses := []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusBadGateway}
	for _, status := range statuses {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer server.Close()

			b := New(server.URL, server.Client())
			frags, errs := b.Generate(context.Background(), testConfig(), "hi")

			_, err := drain(frags, errs)
			if !errors.Is(err, domain.ErrBackendUnavailable) {
				t.Fatalf("expected ErrBackendUnavailable for status %d, got %v", status, err)
			}
		})
	}
}

func TestGenerateStopsOnCancel(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		json.NewEncoder(w).Encode(generateChunk{Response: "first"})
		flusher.Flush()
		close(started)
		// Keep the stream open until the client goes away.
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	b := New(server.URL, server.Client())
	frags, errs := b.Generate(ctx, testConfig(), "hi")

	if frag := <-frags; frag != "first" {
		t.Fatalf("expected first fragment, got %q", frag)
	}
	<-started
	cancel()

	for range frags {
	}
	if err, ok := <-errs; ok && err != nil {
		t.Fatalf("cancellation must not report an error, got %v", err)
	}
}

func TestGenerateSkipsMalformedLines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json\n"))
		json.NewEncoder(w).Encode(generateChunk{Response: "ok"})
		w.Write([]byte("\n"))
		json.NewEncoder(w).Encode(generateChunk{Done: true})
	}))
	defer server.Close()

	b := New(server.URL, server.Client())
	frags, errs := b.Generate(context.Background(), testConfig(), "hi")

	got, err := drain(frags, errs)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("expected %q, got %q", "ok", got)
	}
}

func TestModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(tagsResponse{Models: []tagModel{
			{Name: "llama3:latest"},
			{Name: "mistral:7b"},
		}})
	}))
	defer server.Close()

	b := New(server.URL, server.Client())
	names, err := b.Models(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "llama3:latest" || names[1] != "mistral:7b" {
		t.Errorf("unexpected model names %v", names)
	}
}

func TestModelsUnavailable(t *testing.T) {
	b := New("http://127.0.0.1:1", &http.Client{Timeout: time.Second})
	_, err := b.Models(context.Background())
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tagsResponse{})
	}))
	defer server.Close()

	b := New(server.URL, server.Client())
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}

	server.Close()
	if err := b.HealthCheck(context.Background()); !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable after shutdown, got %v", err)
	}
}
