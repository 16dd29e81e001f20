package registry

import (
	"context"

	"github.com/yanqian/paper-synthesizer/internal/infra/llm/ollama"
)

// FallbackModel is offered when the backend cannot be listed.
const FallbackModel = "gemma3:12b"

// Backend is the subset of the local model server the registry needs.
type Backend interface {
	ListModels(ctx context.Context) (ollama.ListResponse, error)
	PullModel(ctx context.Context, name string, progress func(ollama.PullProgress)) error
}

// Config configures default selection.
type Config struct {
	PreferredModel string
}

// Listing is the lenient listing result. Warning is set whenever Fallback is.
type Listing struct {
	Models   []string `json:"models"`
	Default  string   `json:"default"`
	Fallback bool     `json:"fallback"`
	Warning  error    `json:"-"`
}
