// Package persona decides whether a prompt asks about the service author
// and, when it does, injects background context into the system prompt.
// The detection criterion is a pluggable predicate so callers can swap the
// default keyword matcher.
package persona

import "strings"

// Predicate reports whether a prompt is a personal question.
type Predicate func(prompt string) bool

var defaultKeywords = []string{
	"you",
	"your",
	"yourself",
	"your background",
	"your experience",
	"your skills",
	"tell me about you",
	"who are you",
	"about you",
	"your work",
	"your education",
	"your projects",
	"author",
	"creator",
	"maintainer",
}

// KeywordPredicate matches any of the given keywords case-insensitively.
func KeywordPredicate(keywords []string) Predicate {
	return func(prompt string) bool {
		lower := strings.ToLower(prompt)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	}
}

// Enricher prepends author context to the system prompt for personal
// questions. A zero-content enricher is a no-op.
type Enricher struct {
	detect  Predicate
	content string
}

func NewEnricher(content string, detect Predicate) *Enricher {
	if detect == nil {
		detect = KeywordPredicate(defaultKeywords)
	}
	return &Enricher{detect: detect, content: content}
}

// Content returns the raw author background text.
func (e *Enricher) Content() string { return e.content }

// Personal reports whether the prompt triggers context injection.
func (e *Enricher) Personal(prompt string) bool {
	return e.content != "" && e.detect(prompt)
}

// Enrich returns the system prompt to use for the given prompt. Non-personal
// prompts get the system prompt back unchanged.
func (e *Enricher) Enrich(prompt, system string) string {
	if !e.Personal(prompt) {
		return system
	}

	context := "You are answering questions about the author of this service. " +
		"Here is their background information:\n\n" + e.content + "\n\n" +
		"Please answer questions about the author based on this information. " +
		"Be conversational and helpful."

	if system != "" {
		return context + "\n\n" + system
	}
	return context
}
