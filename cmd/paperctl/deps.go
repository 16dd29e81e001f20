package main

import (
	"log/slog"

	"github.com/yanqian/paper-synthesizer/internal/domain/analysis"
	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
	"github.com/yanqian/paper-synthesizer/internal/domain/prompt"
	"github.com/yanqian/paper-synthesizer/internal/domain/registry"
	"github.com/yanqian/paper-synthesizer/internal/infra/config"
	"github.com/yanqian/paper-synthesizer/internal/infra/extractcache"
	"github.com/yanqian/paper-synthesizer/internal/infra/llm/ollama"
	"github.com/yanqian/paper-synthesizer/internal/infra/pdf"
	"github.com/yanqian/paper-synthesizer/internal/infra/sessionrepo"
	"github.com/yanqian/paper-synthesizer/internal/infra/tokenizer"
	"github.com/yanqian/paper-synthesizer/pkg/logger"
)

// environment holds the services a single CLI invocation needs. Everything is in memory.
type environment struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Service
	pipeline *analysis.Service
}

func loadEnvironment() (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.NewStderr()
	client := ollama.NewClient(cfg.Ollama.BaseURL, cfg.Ollama.RequestTimeout)

	var converter extractor.Converter = pdf.NewNativeConverter(log)
	if cfg.Extractor.Converter == "docling" {
		converter = pdf.NewDoclingConverter(cfg.Extractor.DoclingURL, cfg.Extractor.DoclingTimeout, log)
	}
	docs := extractor.NewService(
		extractor.Config{MaxFileBytes: cfg.Extractor.MaxFileBytes},
		converter,
		extractcache.NewMemoryCache(cfg.Extractor.CacheTTL),
		nil,
		log,
	)
	var tokens prompt.TokenCounter = tokenizer.NewCounter(log)
	if cfg.Generation.Tokenizer == "estimate" {
		tokens = tokenizer.Heuristic{}
	}
	runner := prompt.NewRunner(client, tokens, log)
	pipeline := analysis.NewService(analysis.Config{
		Generation: prompt.GenerationConfig{
			Model:           cfg.Ollama.DefaultModel,
			Temperature:     cfg.Generation.Temperature,
			MaxOutputTokens: cfg.Generation.MaxTokens,
			ContextWindow:   cfg.Generation.ContextWindow,
		},
		Language:           cfg.Generation.Language,
		HaltOnStageFailure: cfg.Generation.HaltOnStageFailure,
	}, sessionrepo.NewMemoryRepository(cfg.Sessions.TokenTTL), docs, runner, log)

	return &environment{
		cfg:      cfg,
		logger:   log,
		registry: registry.NewService(registry.Config{PreferredModel: cfg.Ollama.DefaultModel}, client, log),
		pipeline: pipeline,
	}, nil
}
