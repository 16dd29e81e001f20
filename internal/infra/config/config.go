package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ContextWindows enumerates the context window sizes a run may request.
var ContextWindows = []int{2048, 8192, 32768, 128000}

const (
	MinMaxTokens = 100
	MaxMaxTokens = 8192
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Ollama     OllamaConfig     `yaml:"ollama"`
	Generation GenerationConfig `yaml:"generation"`
	Extractor  ExtractorConfig  `yaml:"extractor"`
	Valkey     ValkeyConfig     `yaml:"valkey"`
	R2         R2Config         `yaml:"r2"`
	Sessions   SessionsConfig   `yaml:"sessions"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address        string          `yaml:"address"`
	ReadTimeout    time.Duration   `yaml:"readTimeout"`
	WriteTimeout   time.Duration   `yaml:"writeTimeout"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Retry          RetryConfig     `yaml:"retry"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// RetryConfig configures best-effort retries for idempotent requests.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	Exclude     []string      `yaml:"exclude"`
}

// OllamaConfig points at the local model backend.
type OllamaConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	DefaultModel   string        `yaml:"defaultModel"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// GenerationConfig holds the defaults applied when a run omits a parameter.
type GenerationConfig struct {
	Temperature        float64 `yaml:"temperature"`
	MaxTokens          int     `yaml:"maxTokens"`
	ContextWindow      int     `yaml:"contextWindow"`
	Language           string  `yaml:"language"`
	HaltOnStageFailure bool    `yaml:"haltOnStageFailure"`
	Tokenizer          string  `yaml:"tokenizer"`
}

// ExtractorConfig controls PDF conversion and memoization.
type ExtractorConfig struct {
	Converter      string        `yaml:"converter"`
	DoclingURL     string        `yaml:"doclingUrl"`
	DoclingTimeout time.Duration `yaml:"doclingTimeout"`
	MaxFileBytes   int64         `yaml:"maxFileBytes"`
	Staging        string        `yaml:"staging"`
	Cache          string        `yaml:"cache"`
	CacheTTL       time.Duration `yaml:"cacheTtl"`
}

// ValkeyConfig contains connection information for the extraction cache.
type ValkeyConfig struct {
	Addr string `yaml:"addr"`
}

// R2Config holds S3-compatible credentials for PDF staging.
type R2Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

// SessionsConfig selects the session store and token settings.
type SessionsConfig struct {
	Store       string         `yaml:"store"`
	Postgres    PostgresConfig `yaml:"postgres"`
	TokenSecret string         `yaml:"tokenSecret"`
	TokenTTL    time.Duration  `yaml:"tokenTtl"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_ENABLED"); v != "" {
		cfg.HTTP.Retry.Enabled = parseBool(v)
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.Ollama.DefaultModel = v
	}
	if v := os.Getenv("OLLAMA_REQUEST_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Ollama.RequestTimeout = parsed
		}
	}
	if v := os.Getenv("GENERATION_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Generation.Temperature = parsed
		}
	}
	if v := os.Getenv("GENERATION_MAX_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Generation.MaxTokens = parsed
		}
	}
	if v := os.Getenv("GENERATION_CONTEXT_WINDOW"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Generation.ContextWindow = parsed
		}
	}
	if v := os.Getenv("GENERATION_LANGUAGE"); v != "" {
		cfg.Generation.Language = v
	}
	if v := os.Getenv("GENERATION_HALT_ON_STAGE_FAILURE"); v != "" {
		cfg.Generation.HaltOnStageFailure = parseBool(v)
	}
	if v := os.Getenv("GENERATION_TOKENIZER"); v != "" {
		cfg.Generation.Tokenizer = v
	}
	if v := os.Getenv("EXTRACTOR_CONVERTER"); v != "" {
		cfg.Extractor.Converter = v
	}
	if v := os.Getenv("EXTRACTOR_DOCLING_URL"); v != "" {
		cfg.Extractor.DoclingURL = v
	}
	if v := os.Getenv("EXTRACTOR_DOCLING_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Extractor.DoclingTimeout = parsed
		}
	}
	if v := os.Getenv("EXTRACTOR_MAX_FILE_BYTES"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Extractor.MaxFileBytes = parsed
		}
	}
	if v := os.Getenv("EXTRACTOR_STAGING"); v != "" {
		cfg.Extractor.Staging = v
	}
	if v := os.Getenv("EXTRACTOR_CACHE"); v != "" {
		cfg.Extractor.Cache = v
	}
	if v := os.Getenv("EXTRACTOR_CACHE_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Extractor.CacheTTL = parsed
		}
	}
	if v := os.Getenv("VALKEY_ADDR"); v != "" {
		cfg.Valkey.Addr = v
	}
	if v := os.Getenv("R2_ENDPOINT"); v != "" {
		cfg.R2.Endpoint = v
	}
	if v := os.Getenv("R2_ACCESS_KEY"); v != "" {
		cfg.R2.AccessKey = v
	}
	if v := os.Getenv("R2_SECRET_KEY"); v != "" {
		cfg.R2.SecretKey = v
	}
	if v := os.Getenv("R2_BUCKET"); v != "" {
		cfg.R2.Bucket = v
	}
	if v := os.Getenv("R2_REGION"); v != "" {
		cfg.R2.Region = v
	}
	if v := os.Getenv("SESSIONS_STORE"); v != "" {
		cfg.Sessions.Store = v
	}
	if v := os.Getenv("SESSIONS_POSTGRES_DSN"); v != "" {
		cfg.Sessions.Postgres.DSN = v
	}
	if v := os.Getenv("SESSIONS_TOKEN_SECRET"); v != "" {
		cfg.Sessions.TokenSecret = v
	}
	if v := os.Getenv("SESSIONS_TOKEN_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Sessions.TokenTTL = parsed
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
			Retry: RetryConfig{
				Enabled:     true,
				MaxAttempts: 3,
				BaseBackoff: 250 * time.Millisecond,
			},
		},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			DefaultModel: "gemma3:12b",
		},
		Generation: GenerationConfig{
			Temperature:   0.4,
			MaxTokens:     2048,
			ContextWindow: 32768,
			Language:      "English",
			Tokenizer:     "tiktoken",
		},
		Extractor: ExtractorConfig{
			Converter:      "native",
			DoclingTimeout: 5 * time.Minute,
			MaxFileBytes:   50 << 20,
			Staging:        "memory",
			Cache:          "memory",
			CacheTTL:       24 * time.Hour,
		},
		Sessions: SessionsConfig{
			Store:    "memory",
			TokenTTL: 12 * time.Hour,
			Postgres: PostgresConfig{
				MaxConns: 4,
			},
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if strings.TrimSpace(c.Ollama.BaseURL) == "" {
		return errors.New("ollama.baseUrl cannot be empty")
	}
	if strings.TrimSpace(c.Ollama.DefaultModel) == "" {
		return errors.New("ollama.defaultModel cannot be empty")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 1 {
		return errors.New("generation.temperature must be within [0, 1]")
	}
	if c.Generation.MaxTokens < MinMaxTokens || c.Generation.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("generation.maxTokens must be within [%d, %d]", MinMaxTokens, MaxMaxTokens)
	}
	if !IsContextWindow(c.Generation.ContextWindow) {
		return fmt.Errorf("generation.contextWindow must be one of %v", ContextWindows)
	}
	if strings.TrimSpace(c.Generation.Language) == "" {
		return errors.New("generation.language cannot be empty")
	}
	switch c.Generation.Tokenizer {
	case "tiktoken", "estimate":
	default:
		return fmt.Errorf("generation.tokenizer %q is not supported", c.Generation.Tokenizer)
	}
	switch c.Extractor.Converter {
	case "native":
	case "docling":
		if strings.TrimSpace(c.Extractor.DoclingURL) == "" {
			return errors.New("extractor.doclingUrl cannot be empty when converter is docling")
		}
		if c.Extractor.DoclingTimeout <= 0 {
			return errors.New("extractor.doclingTimeout must be positive")
		}
	default:
		return fmt.Errorf("extractor.converter %q is not supported", c.Extractor.Converter)
	}
	if c.Extractor.MaxFileBytes < 0 {
		return errors.New("extractor.maxFileBytes cannot be negative")
	}
	switch c.Extractor.Staging {
	case "off", "memory":
	case "r2":
		if c.R2.Endpoint == "" || c.R2.Bucket == "" {
			return errors.New("r2.endpoint and r2.bucket are required when extractor.staging is r2")
		}
	default:
		return fmt.Errorf("extractor.staging %q is not supported", c.Extractor.Staging)
	}
	switch c.Extractor.Cache {
	case "memory":
	case "valkey":
		if strings.TrimSpace(c.Valkey.Addr) == "" {
			return errors.New("valkey.addr cannot be empty when extractor.cache is valkey")
		}
	default:
		return fmt.Errorf("extractor.cache %q is not supported", c.Extractor.Cache)
	}
	if c.Extractor.CacheTTL < 0 {
		return errors.New("extractor.cacheTtl cannot be negative")
	}
	switch c.Sessions.Store {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Sessions.Postgres.DSN) == "" {
			return errors.New("sessions.postgres.dsn cannot be empty when sessions.store is postgres")
		}
	default:
		return fmt.Errorf("sessions.store %q is not supported", c.Sessions.Store)
	}
	if c.Sessions.TokenTTL <= 0 {
		return errors.New("sessions.tokenTtl must be positive")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.HTTP.Retry.Enabled {
		if c.HTTP.Retry.MaxAttempts <= 0 {
			return errors.New("http.retry.maxAttempts must be positive")
		}
		if c.HTTP.Retry.BaseBackoff <= 0 {
			return errors.New("http.retry.baseBackoff must be positive")
		}
	}
	return nil
}

// IsContextWindow reports whether size is one of the supported context windows.
func IsContextWindow(size int) bool {
	for _, candidate := range ContextWindows {
		if candidate == size {
			return true
		}
	}
	return false
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
