package registry

import (
	"context"
	"log/slog"
	"strings"

	"github.com/yanqian/paper-synthesizer/internal/infra/llm/ollama"
	apperrors "github.com/yanqian/paper-synthesizer/pkg/errors"
)

// Service discovers local models and downloads new ones.
type Service struct {
	cfg     Config
	backend Backend
	logger  *slog.Logger
}

// NewService constructs the model registry.
func NewService(cfg Config, backend Backend, logger *slog.Logger) *Service {
	if strings.TrimSpace(cfg.PreferredModel) == "" {
		cfg.PreferredModel = FallbackModel
	}
	return &Service{cfg: cfg, backend: backend, logger: logger.With("component", "registry.service")}
}

// Models returns the installed model identifiers in backend order.
func (s *Service) Models(ctx context.Context) ([]string, error) {
	resp, err := s.backend.ListModels(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBackendUnavailable, "model backend unreachable", err)
	}
	switch resp.Kind {
	case ollama.ListKindTags:
		return namesFromTags(resp.Tags), nil
	case ollama.ListKindObjectList:
		return namesFromObjects(resp.Objects), nil
	default:
		return nil, apperrors.Wrap(apperrors.CodeMalformedResponse, "unrecognized model listing", nil)
	}
}

// List never fails: any backend problem degrades to the single fallback model plus a warning.
func (s *Service) List(ctx context.Context) Listing {
	models, err := s.Models(ctx)
	if err != nil {
		s.logger.Warn("model listing failed, using fallback", "error", err, "fallback", s.fallback())
		fallback := []string{s.fallback()}
		return Listing{Models: fallback, Default: s.fallback(), Fallback: true, Warning: err}
	}
	return Listing{Models: models, Default: s.SelectDefault(models)}
}

// SelectDefault prefers the configured model, then the first listed one, then the fallback.
func (s *Service) SelectDefault(models []string) string {
	for _, name := range models {
		if name == s.cfg.PreferredModel {
			return name
		}
	}
	if len(models) > 0 {
		return models[0]
	}
	return s.fallback()
}

// Pull downloads name onto the backend.
func (s *Service) Pull(ctx context.Context, name string, progress func(ollama.PullProgress)) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "model name cannot be empty", nil)
	}
	s.logger.Info("model pull start", "model", name)
	if err := s.backend.PullModel(ctx, name, progress); err != nil {
		return apperrors.Wrap(apperrors.CodeBackendUnavailable, "model pull failed", err)
	}
	s.logger.Info("model pull complete", "model", name)
	return nil
}

func (s *Service) fallback() string {
	return FallbackModel
}

func namesFromTags(entries []ollama.TagEntry) []string {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			name = strings.TrimSpace(entry.Model)
		}
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

func namesFromObjects(entries []ollama.ObjectEntry) []string {
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if id := strings.TrimSpace(entry.ID); id != "" {
			names = append(names, id)
		}
	}
	return names
}
