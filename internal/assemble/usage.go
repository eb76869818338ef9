package assemble

import (
	"strings"

	"github.com/minivault/minivault/internal/domain"
)

// CountTokens estimates a token count as the whitespace-separated word count.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// NewUsage builds the usage record for one prompt/completion pair.
func NewUsage(prompt, completion string) domain.Usage {
	promptTokens := CountTokens(prompt)
	completionTokens := CountTokens(completion)
	return domain.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}
