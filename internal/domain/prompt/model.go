package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yanqian/paper-synthesizer/internal/infra/llm/ollama"
	apperrors "github.com/yanqian/paper-synthesizer/pkg/errors"
	"github.com/yanqian/paper-synthesizer/pkg/metrics"
)

// SentinelText replaces the output of any failed generation.
const SentinelText = "Error generating text."

// ContextWindows enumerates the supported context window sizes.
var ContextWindows = []int{2048, 8192, 32768, 128000}

// ChatClient is the model backend used for generation.
type ChatClient interface {
	Chat(ctx context.Context, req ollama.ChatRequest) (ollama.ChatResponse, error)
}

// TokenCounter estimates how many tokens a prompt occupies.
type TokenCounter interface {
	Count(text string) int
}

// GenerationConfig is fixed for the duration of one pipeline run.
type GenerationConfig struct {
	Model           string  `json:"model"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	ContextWindow   int     `json:"contextWindow"`
}

// Validate checks the parameter ranges accepted by the backend.
func (c GenerationConfig) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "model cannot be empty", nil)
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "temperature must be within [0, 1]", nil)
	}
	if c.MaxOutputTokens <= 0 {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "max output tokens must be positive", nil)
	}
	for _, size := range ContextWindows {
		if size == c.ContextWindow {
			return nil
		}
	}
	return apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("context window must be one of %v", ContextWindows), nil)
}

// Generation is the outcome of one prompt invocation. A failed generation carries
// SentinelText and the cause in Err.
type Generation struct {
	Text     string
	Failed   bool
	Err      error
	Usage    metrics.TokenUsage
	Duration time.Duration
	Warnings []string
}
