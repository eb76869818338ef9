package persona

import (
	"strings"
	"testing"
)

func TestKeywordPredicate(t *testing.T) {
	detect := KeywordPredicate(defaultKeywords)

	tests := []struct {
		prompt string
		want   bool
	}{
		{"Tell me about your background", true},
		{"WHO ARE YOU", true},
		{"what did the author intend here", true},
		{"explain quicksort", false},
		{"what is the capital of France", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			if got := detect(tt.prompt); got != tt.want {
				t.Errorf("detect(%q): expected %v, got %v", tt.prompt, tt.want, got)
			}
		})
	}
}

func TestEnrichInjectsContext(t *testing.T) {
	e := NewEnricher("Ten years of backend work.", nil)

	got := e.Enrich("tell me about your experience", "")
	if !strings.Contains(got, "Ten years of backend work.") {
		t.Errorf("expected background in system prompt, got %q", got)
	}
}

func TestEnrichPreservesExistingSystemPrompt(t *testing.T) {
	e := NewEnricher("Background text.", nil)

	got := e.Enrich("who are you", "Always answer in French.")
	if !strings.Contains(got, "Background text.") || !strings.Contains(got, "Always answer in French.") {
		t.Errorf("both contexts must survive, got %q", got)
	}
	if strings.Index(got, "Background text.") > strings.Index(got, "Always answer in French.") {
		t.Error("author context must precede the caller's system prompt")
	}
}

func TestEnrichLeavesNonPersonalPromptsAlone(t *testing.T) {
	e := NewEnricher("Background text.", nil)

	got := e.Enrich("explain binary search", "system prompt")
	if got != "system prompt" {
		t.Errorf("non-personal prompt must pass through, got %q", got)
	}
}

func TestEmptyContentIsNoop(t *testing.T) {
	e := NewEnricher("", nil)

	if e.Personal("tell me about yourself") {
		t.Error("zero-content enricher must never report personal")
	}
	if got := e.Enrich("tell me about yourself", "sys"); got != "sys" {
		t.Errorf("expected passthrough, got %q", got)
	}
}

func TestCustomPredicate(t *testing.T) {
	e := NewEnricher("Background.", func(prompt string) bool {
		return strings.Contains(prompt, "xyzzy")
	})

	if e.Personal("tell me about yourself") {
		t.Error("custom predicate must replace the default keywords")
	}
	if !e.Personal("xyzzy") {
		t.Error("custom predicate must fire on its own criterion")
	}
}
