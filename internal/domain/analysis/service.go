package analysis

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
	"github.com/yanqian/paper-synthesizer/internal/domain/prompt"
	apperrors "github.com/yanqian/paper-synthesizer/pkg/errors"
	"github.com/yanqian/paper-synthesizer/pkg/util"
)

// Service drives sessions through extraction and the two generation stages.
type Service struct {
	cfg       Config
	store     Store
	extractor extractor.Service
	generator Generator
	logger    *slog.Logger

	mu   sync.Mutex
	busy map[uuid.UUID]struct{}
}

// NewService constructs a Service.
func NewService(cfg Config, store Store, extract extractor.Service, generator Generator, logger *slog.Logger) *Service {
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "English"
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		extractor: extract,
		generator: generator,
		logger:    logger.With("component", "analysis.service"),
		busy:      make(map[uuid.UUID]struct{}),
	}
}

// CreateSession starts an idle session.
func (s *Service) CreateSession(ctx context.Context) (Session, error) {
	now := util.NowUTC()
	session := Session{
		ID:        uuid.New(),
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return Session{}, apperrors.Wrap(apperrors.CodeStorage, "failed to create session", err)
	}
	s.logger.Info("session created", "session_id", session.ID)
	return session, nil
}

// Get loads a session.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	session, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return Session{}, apperrors.Wrap(apperrors.CodeStorage, "failed to load session", err)
	}
	if !ok {
		return Session{}, apperrors.Wrap(apperrors.CodeNotFound, "session not found", nil)
	}
	return session, nil
}

// AttachDocument extracts upload and stores it on the session. It never invokes the model.
func (s *Service) AttachDocument(ctx context.Context, id uuid.UUID, upload extractor.Upload) (Session, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return Session{}, err
	}
	defer unlock()

	session, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if len(upload.Content) == 0 {
		return session, apperrors.Wrap(apperrors.CodeInputIncomplete, "no document was uploaded", nil)
	}
	logger := s.logger.With("session_id", id, "filename", upload.Filename)

	doc, err := s.extractor.Extract(ctx, upload)
	if err != nil {
		code := apperrors.CodeOf(err)
		if code == apperrors.CodeInvalidInput || code == apperrors.CodeInputIncomplete {
			return session, err
		}
		logger.Warn("document extraction failed", "error", err)
		session.Document = nil
		session.State = StateFailed
		session.FailureReason = stringPtr(err.Error())
		if saveErr := s.save(ctx, &session); saveErr != nil {
			return Session{}, saveErr
		}
		return session, err
	}

	session.Document = &doc
	session.State = StateExtracting
	session.FailureReason = nil
	session.Notices = nil
	if err := s.save(ctx, &session); err != nil {
		return Session{}, err
	}
	logger.Info("document attached", "key", doc.Key, "pages", doc.Pages)
	return session, nil
}

// Generate runs the summary stage followed by the discussion stage. Stage failures are
// reported on the returned session rather than as an error.
func (s *Service) Generate(ctx context.Context, id uuid.UUID, params Params) (Session, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return Session{}, err
	}
	defer unlock()

	session, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if session.Document == nil || strings.TrimSpace(session.Document.Text) == "" {
		return session, apperrors.Wrap(apperrors.CodeInputIncomplete, "upload a document before generating", nil)
	}
	run := s.newRun(params)
	if err := run.Generation.Validate(); err != nil {
		return session, err
	}
	logger := s.logger.With("session_id", id, "run_id", run.ID, "model", run.Generation.Model)

	session.Run = &run
	session.Result = Result{}
	session.Notices = nil
	session.FailureReason = nil
	session.State = StateSummaryPending
	if err := s.save(ctx, &session); err != nil {
		return Session{}, err
	}

	summary := s.generator.Run(ctx, run.Generation, prompt.SummaryTemplate, map[string]string{
		"topic":    run.Topic,
		"project":  run.ProjectContext,
		"doc_text": session.Document.Text,
	})
	s.record(&session, StageSummary, summary)
	session.Result.Summary = stringPtr(summary.Text)
	session.State = StateSummaryDone
	if summary.Failed {
		logger.Warn("summary stage failed", "error", summary.Err)
		if run.HaltOnStageFailure {
			return s.fail(ctx, &session, stageFailure(StageSummary, summary))
		}
	}
	if err := s.save(ctx, &session); err != nil {
		return Session{}, err
	}

	session.State = StateDiscussionPending
	if err := s.save(ctx, &session); err != nil {
		return Session{}, err
	}
	discussion := s.generator.Run(ctx, run.Generation, prompt.DiscussionTemplate, map[string]string{
		"summary":  summary.Text,
		"language": run.Language,
	})
	s.record(&session, StageDiscussion, discussion)
	session.Result.Discussion = stringPtr(discussion.Text)
	if discussion.Failed {
		logger.Warn("discussion stage failed", "error", discussion.Err)
		return s.fail(ctx, &session, stageFailure(StageDiscussion, discussion))
	}

	session.State = StateComplete
	s.finish(&session)
	if err := s.save(ctx, &session); err != nil {
		return Session{}, err
	}
	logger.Info("analysis complete", "total_tokens", session.Run.Usage.TotalTokens)
	return session, nil
}

// Discussion returns the discussion draft of the latest run as a markdown artifact.
func (s *Service) Discussion(ctx context.Context, id uuid.UUID) (Artifact, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return Artifact{}, err
	}
	if session.Result.Discussion == nil {
		return Artifact{}, apperrors.Wrap(apperrors.CodeNotFound, "no discussion has been generated", nil)
	}
	return Artifact{
		Filename:    DiscussionFilename,
		ContentType: "text/markdown",
		Body:        []byte(*session.Result.Discussion),
	}, nil
}

func (s *Service) newRun(params Params) Run {
	cfg := params.Generation
	defaults := s.cfg.Generation
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = defaults.MaxOutputTokens
	}
	if cfg.ContextWindow == 0 {
		cfg.ContextWindow = defaults.ContextWindow
	}
	language := strings.TrimSpace(params.Language)
	if language == "" {
		language = s.cfg.Language
	}
	halt := s.cfg.HaltOnStageFailure
	if params.HaltOnStageFailure != nil {
		halt = *params.HaltOnStageFailure
	}
	return Run{
		ID:                 uuid.New(),
		Generation:         cfg,
		Topic:              strings.TrimSpace(params.Topic),
		ProjectContext:     strings.TrimSpace(params.ProjectContext),
		Language:           language,
		HaltOnStageFailure: halt,
		StartedAt:          util.NowUTC(),
	}
}

func (s *Service) record(session *Session, stage string, gen prompt.Generation) {
	report := StageReport{
		Stage:      stage,
		Failed:     gen.Failed,
		Usage:      gen.Usage,
		DurationMs: gen.Duration.Milliseconds(),
		Warnings:   gen.Warnings,
	}
	if gen.Err != nil {
		report.Error = gen.Err.Error()
	}
	session.Run.Stages = append(session.Run.Stages, report)
	session.Run.Usage = session.Run.Usage.Add(gen.Usage)
	session.Notices = append(session.Notices, gen.Warnings...)
}

func (s *Service) fail(ctx context.Context, session *Session, reason string) (Session, error) {
	session.State = StateFailed
	session.FailureReason = stringPtr(reason)
	s.finish(session)
	if err := s.save(ctx, session); err != nil {
		return Session{}, err
	}
	return *session, nil
}

func (s *Service) finish(session *Session) {
	now := util.NowUTC()
	session.Run.FinishedAt = &now
}

func (s *Service) save(ctx context.Context, session *Session) error {
	session.UpdatedAt = util.NowUTC()
	if err := s.store.Save(ctx, *session); err != nil {
		return apperrors.Wrap(apperrors.CodeStorage, "failed to save session", err)
	}
	return nil
}

// lock claims the session for one mutation. A session already being mutated is busy.
// Only in-flight sessions are tracked, so the set does not outlive expired sessions.
func (s *Service) lock(id uuid.UUID) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.busy[id]; held {
		return nil, apperrors.Wrap(apperrors.CodeBusy, "session is already processing a request", nil)
	}
	s.busy[id] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.busy, id)
		s.mu.Unlock()
	}, nil
}

func stageFailure(stage string, gen prompt.Generation) string {
	if gen.Err == nil {
		return stage + " stage failed"
	}
	return stage + " stage failed: " + gen.Err.Error()
}

func stringPtr(v string) *string {
	return &v
}
