package incident

import (
	"context"
	"fmt"
)

// Summarizer is the interface for any text-generation backend.
type Summarizer interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// CompletionRequest is a single-turn generation request.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completion is the generated text plus accounting from the backend.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

const (
	// DefaultTemperature keeps phrasing consistent across repeated summaries of the same record.
	DefaultTemperature = 0.4

	// DefaultSummaryTokens bounds a two-sentence synopsis.
	DefaultSummaryTokens = 256
)

const summarySystemPrompt = "You are a medical assistant. Given a medical incident report and its category, " +
	"write a summary from a clinical perspective for care staff. Be factual and do not speculate beyond the report."

func buildSummaryPrompt(inc *Incident) string {
	return fmt.Sprintf("Using 2 sentences, summarize the following incident.\n\nCategory: %s\n\nDescription:\n%s",
		inc.Category, inc.Description)
}
