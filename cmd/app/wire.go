//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/paper-synthesizer/internal/bootstrap"
	"github.com/yanqian/paper-synthesizer/internal/domain/analysis"
	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
	"github.com/yanqian/paper-synthesizer/internal/domain/prompt"
	"github.com/yanqian/paper-synthesizer/internal/domain/registry"
	"github.com/yanqian/paper-synthesizer/internal/domain/session"
	"github.com/yanqian/paper-synthesizer/internal/infra/config"
	"github.com/yanqian/paper-synthesizer/internal/infra/llm/ollama"
	httpiface "github.com/yanqian/paper-synthesizer/internal/interface/http"
	"github.com/yanqian/paper-synthesizer/pkg/logger"
)

func initializeApp() (*bootstrap.App, func(), error) {
	wire.Build(
		config.Load,
		logger.New,
		provideOllamaClient,
		provideRegistryConfig,
		provideAnalysisConfig,
		provideExtractorConfig,
		provideSessionConfig,
		provideHandlerDefaults,
		provideTokenCounter,
		provideConverter,
		provideStager,
		provideExtractionCache,
		provideSessionStore,
		registry.NewService,
		extractor.NewService,
		prompt.NewRunner,
		analysis.NewService,
		session.NewService,
		wire.Bind(new(registry.Backend), new(*ollama.Client)),
		wire.Bind(new(prompt.ChatClient), new(*ollama.Client)),
		wire.Bind(new(analysis.Generator), new(*prompt.Runner)),
		wire.Bind(new(httpiface.ModelCatalog), new(*registry.Service)),
		wire.Bind(new(httpiface.Pipeline), new(*analysis.Service)),
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil, nil
}
