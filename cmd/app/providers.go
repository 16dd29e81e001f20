package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/paper-synthesizer/internal/domain/analysis"
	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
	"github.com/yanqian/paper-synthesizer/internal/domain/prompt"
	"github.com/yanqian/paper-synthesizer/internal/domain/registry"
	"github.com/yanqian/paper-synthesizer/internal/domain/session"
	"github.com/yanqian/paper-synthesizer/internal/infra/config"
	"github.com/yanqian/paper-synthesizer/internal/infra/extractcache"
	"github.com/yanqian/paper-synthesizer/internal/infra/llm/ollama"
	"github.com/yanqian/paper-synthesizer/internal/infra/pdf"
	"github.com/yanqian/paper-synthesizer/internal/infra/sessionrepo"
	"github.com/yanqian/paper-synthesizer/internal/infra/storage"
	"github.com/yanqian/paper-synthesizer/internal/infra/tokenizer"
	httpiface "github.com/yanqian/paper-synthesizer/internal/interface/http"
)

func provideOllamaClient(cfg *config.Config) *ollama.Client {
	return ollama.NewClient(cfg.Ollama.BaseURL, cfg.Ollama.RequestTimeout)
}

func provideRegistryConfig(cfg *config.Config) registry.Config {
	return registry.Config{PreferredModel: cfg.Ollama.DefaultModel}
}

func provideAnalysisConfig(cfg *config.Config) analysis.Config {
	return analysis.Config{
		Generation: prompt.GenerationConfig{
			Model:           cfg.Ollama.DefaultModel,
			Temperature:     cfg.Generation.Temperature,
			MaxOutputTokens: cfg.Generation.MaxTokens,
			ContextWindow:   cfg.Generation.ContextWindow,
		},
		Language:           cfg.Generation.Language,
		HaltOnStageFailure: cfg.Generation.HaltOnStageFailure,
	}
}

func provideExtractorConfig(cfg *config.Config) extractor.Config {
	return extractor.Config{MaxFileBytes: cfg.Extractor.MaxFileBytes}
}

func provideSessionConfig(cfg *config.Config) session.Config {
	return session.Config{Secret: cfg.Sessions.TokenSecret, TTL: cfg.Sessions.TokenTTL}
}

func provideHandlerDefaults(cfg *config.Config) httpiface.Defaults {
	return httpiface.Defaults{
		Temperature:  cfg.Generation.Temperature,
		MaxFileBytes: cfg.Extractor.MaxFileBytes,
	}
}

func provideTokenCounter(cfg *config.Config, logger *slog.Logger) prompt.TokenCounter {
	if cfg.Generation.Tokenizer == "estimate" {
		return tokenizer.Heuristic{}
	}
	return tokenizer.NewCounter(logger)
}

func provideConverter(cfg *config.Config, logger *slog.Logger) extractor.Converter {
	if cfg.Extractor.Converter == "docling" {
		logger.Info("docling converter enabled", "url", cfg.Extractor.DoclingURL)
		return pdf.NewDoclingConverter(cfg.Extractor.DoclingURL, cfg.Extractor.DoclingTimeout, logger)
	}
	return pdf.NewNativeConverter(logger)
}

func provideStager(cfg *config.Config, logger *slog.Logger) extractor.Stager {
	switch cfg.Extractor.Staging {
	case "r2":
		r2, err := storage.NewR2Storage(cfg.R2.Endpoint, cfg.R2.AccessKey, cfg.R2.SecretKey, cfg.R2.Bucket, cfg.R2.Region, logger)
		if err != nil {
			logger.Error("failed to initialize r2 staging, falling back to memory", "error", err)
			return storage.NewMemoryStorage()
		}
		logger.Info("r2 staging enabled", "bucket", cfg.R2.Bucket)
		return r2
	case "memory":
		return storage.NewMemoryStorage()
	default:
		return nil
	}
}

func provideExtractionCache(cfg *config.Config, logger *slog.Logger) (extractor.Cache, func()) {
	fallback := extractcache.NewMemoryCache(cfg.Extractor.CacheTTL)
	if cfg.Extractor.Cache != "valkey" {
		return fallback, func() {}
	}
	opt, err := buildValkeyOptions(cfg)
	if err != nil {
		logger.Error("invalid valkey configuration, falling back to memory cache", "error", err)
		return fallback, func() {}
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		logger.Error("failed to create valkey client, falling back to memory cache", "error", err)
		return fallback, func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		logger.Error("valkey ping failed, falling back to memory cache", "error", err)
		client.Close()
		return fallback, func() {}
	}
	logger.Info("valkey extraction cache enabled", "addr", cfg.Valkey.Addr)
	return extractcache.NewValkeyCache(client, "paper", cfg.Extractor.CacheTTL), client.Close
}

func buildValkeyOptions(cfg *config.Config) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	if strings.Contains(cfg.Valkey.Addr, "://") {
		opt, err = valkey.ParseURL(cfg.Valkey.Addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{cfg.Valkey.Addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}

func provideSessionStore(cfg *config.Config, logger *slog.Logger) (analysis.Store, func()) {
	fallback := sessionrepo.NewMemoryRepository(cfg.Sessions.TokenTTL)
	if cfg.Sessions.Store != "postgres" {
		return fallback, func() {}
	}
	poolConfig, err := pgxpool.ParseConfig(strings.TrimSpace(cfg.Sessions.Postgres.DSN))
	if err != nil {
		logger.Error("invalid postgres dsn, using memory session store", "error", err)
		return fallback, func() {}
	}
	if cfg.Sessions.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Sessions.Postgres.MaxConns
	}
	if cfg.Sessions.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Sessions.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize postgres pool, using memory session store", "error", err)
		return fallback, func() {}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres ping failed, using memory session store", "error", err)
		pool.Close()
		return fallback, func() {}
	}
	repo := sessionrepo.NewPostgresRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Error("failed to prepare session schema, using memory session store", "error", err)
		pool.Close()
		return fallback, func() {}
	}
	logger.Info("postgres session store enabled")
	return repo, pool.Close
}
