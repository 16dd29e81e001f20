package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yanqian/paper-synthesizer/internal/infra/llm/ollama"
	apperrors "github.com/yanqian/paper-synthesizer/pkg/errors"
	"github.com/yanqian/paper-synthesizer/pkg/metrics"
)

// Runner executes one templated prompt against the model backend.
type Runner struct {
	client ChatClient
	tokens TokenCounter
	logger *slog.Logger
}

// NewRunner constructs a Runner. tokens may be nil to skip context window checks.
func NewRunner(client ChatClient, tokens TokenCounter, logger *slog.Logger) *Runner {
	return &Runner{client: client, tokens: tokens, logger: logger.With("component", "prompt.runner")}
}

// Execute renders tmpl and performs exactly one model invocation.
func (r *Runner) Execute(ctx context.Context, cfg GenerationConfig, tmpl string, vars map[string]string) (Generation, error) {
	if err := cfg.Validate(); err != nil {
		return Generation{}, err
	}
	text, err := Render(tmpl, vars)
	if err != nil {
		return Generation{}, err
	}

	var warnings []string
	if r.tokens != nil {
		if estimated := r.tokens.Count(text); estimated > cfg.ContextWindow {
			warnings = append(warnings, fmt.Sprintf("prompt is about %d tokens and exceeds the %d token context window; the model will see a truncated document", estimated, cfg.ContextWindow))
			r.logger.Warn("prompt exceeds context window", "estimated_tokens", estimated, "context_window", cfg.ContextWindow, "model", cfg.Model)
		}
	}

	start := time.Now()
	resp, err := r.client.Chat(ctx, ollama.ChatRequest{
		Model:    cfg.Model,
		Messages: []ollama.Message{{Role: "user", Content: text}},
		Options: ollama.Options{
			Temperature: cfg.Temperature,
			NumPredict:  cfg.MaxOutputTokens,
			NumCtx:      cfg.ContextWindow,
		},
	})
	duration := time.Since(start)
	if err != nil {
		return Generation{Warnings: warnings, Duration: duration}, apperrors.Wrap(apperrors.CodeBackendUnavailable, "model invocation failed", err)
	}

	content := strings.TrimSpace(resp.Message.Content)
	if content == "" {
		return Generation{Warnings: warnings, Duration: duration}, apperrors.Wrap(apperrors.CodeMalformedResponse, "model returned no content", nil)
	}
	r.logger.Debug("model response received", "model", cfg.Model, "duration_ms", duration.Milliseconds(), "chars", len(content))

	return Generation{
		Text:     content,
		Duration: duration,
		Warnings: warnings,
		Usage: metrics.TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

// Run is the lenient form of Execute: failures become SentinelText instead of an error.
func (r *Runner) Run(ctx context.Context, cfg GenerationConfig, tmpl string, vars map[string]string) Generation {
	gen, err := r.Execute(ctx, cfg, tmpl, vars)
	if err != nil {
		r.logger.Warn("generation failed", "model", cfg.Model, "error", err)
		gen.Text = SentinelText
		gen.Failed = true
		gen.Err = err
	}
	return gen
}
