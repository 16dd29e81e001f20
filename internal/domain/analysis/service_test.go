package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
	"github.com/yanqian/paper-synthesizer/internal/domain/prompt"
	"github.com/yanqian/paper-synthesizer/internal/infra/llm/ollama"
	apperrors "github.com/yanqian/paper-synthesizer/pkg/errors"
)

const turmericText = "Background. Turmeric has long been used in traditional medicine. " +
	"In a randomized trial of 120 adults, curcumin reduced IL-6 levels by 40% over eight weeks."

var testConfig = Config{
	Generation: prompt.GenerationConfig{Model: "gemma3:12b", Temperature: 0.4, MaxOutputTokens: 2048, ContextWindow: 32768},
	Language:   "English",
}

func TestCreateSessionStartsIdle(t *testing.T) {
	svc, _, _ := newServiceUnderTest(testConfig, &scriptedChat{})

	session, err := svc.CreateSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateIdle, session.State)
	require.Nil(t, session.Document)

	loaded, err := svc.Get(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, session.ID, loaded.ID)

	_, err = svc.Get(context.Background(), uuid.New())
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestGenerateWithoutDocumentNeverCallsModel(t *testing.T) {
	chat := &scriptedChat{}
	svc, _, docs := newServiceUnderTest(testConfig, chat)
	session := mustCreate(t, svc)

	got, err := svc.AttachDocument(context.Background(), session.ID, extractor.Upload{Filename: "missing.pdf"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInputIncomplete))
	require.Equal(t, StateIdle, got.State)

	got, err = svc.Generate(context.Background(), session.ID, Params{Topic: "turmeric"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInputIncomplete))
	require.Equal(t, StateIdle, got.State)

	require.Zero(t, docs.calls)
	require.Empty(t, chat.prompts())
}

func TestAttachDocumentWaitsForGenerate(t *testing.T) {
	chat := &scriptedChat{}
	svc, _, _ := newServiceUnderTest(testConfig, chat)
	session := mustCreate(t, svc)

	got, err := svc.AttachDocument(context.Background(), session.ID, pdfUpload())
	require.NoError(t, err)
	require.Equal(t, StateExtracting, got.State)
	require.Equal(t, turmericText, got.Document.Text)
	require.Empty(t, chat.prompts())
}

func TestAttachDocumentConversionFailureHaltsPipeline(t *testing.T) {
	chat := &scriptedChat{}
	svc, _, docs := newServiceUnderTest(testConfig, chat)
	session := mustCreate(t, svc)

	docs.err = apperrors.Wrap(apperrors.CodeConversionFailed, "failed to convert document", errors.New("corrupt xref"))
	got, err := svc.AttachDocument(context.Background(), session.ID, pdfUpload())
	require.True(t, apperrors.IsCode(err, apperrors.CodeConversionFailed))
	require.Equal(t, StateFailed, got.State)
	require.NotNil(t, got.FailureReason)
	require.Nil(t, got.Document)

	_, err = svc.Generate(context.Background(), session.ID, Params{})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInputIncomplete))
	require.Empty(t, chat.prompts())
}

func TestAttachDocumentRejectsInvalidUploadWithoutStateChange(t *testing.T) {
	svc, _, docs := newServiceUnderTest(testConfig, &scriptedChat{})
	session := mustCreate(t, svc)

	docs.err = apperrors.Wrap(apperrors.CodeInvalidInput, "document is not a PDF", nil)
	got, err := svc.AttachDocument(context.Background(), session.ID, pdfUpload())
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
	require.Equal(t, StateIdle, got.State)
}

func TestGenerateEndToEnd(t *testing.T) {
	chat := &scriptedChat{}
	svc, _, _ := newServiceUnderTest(testConfig, chat)
	session := mustCreate(t, svc)
	_, err := svc.AttachDocument(context.Background(), session.ID, pdfUpload())
	require.NoError(t, err)

	got, err := svc.Generate(context.Background(), session.ID, Params{
		Topic:          "Anti-inflammatory effects of turmeric",
		ProjectContext: "systematic review on natural anti-inflammatories",
	})
	require.NoError(t, err)
	require.Equal(t, StateComplete, got.State)
	require.Nil(t, got.FailureReason)

	summary := *got.Result.Summary
	require.True(t, strings.HasPrefix(summary, "SILVA, A."))
	for _, heading := range []string{"Problem", "Methodology", "Results"} {
		require.Contains(t, summary, heading)
	}
	require.Contains(t, summary, "systematic review")

	discussion := *got.Result.Discussion
	require.NotContains(t, discussion, "{{")
	require.NotContains(t, discussion, "\n\n")
	if !strings.Contains(summary, "IL-6") {
		require.NotContains(t, discussion, "IL-6")
	}

	prompts := chat.prompts()
	require.Len(t, prompts, 2)
	require.Contains(t, prompts[0], turmericText)
	require.Contains(t, prompts[1], summary)
	require.NotContains(t, prompts[1], turmericText)
	require.Contains(t, prompts[1], "English")

	require.Len(t, got.Run.Stages, 2)
	require.Equal(t, 2*30, got.Run.Usage.TotalTokens)
	require.NotNil(t, got.Run.FinishedAt)
}

func TestDiscussionReceivesExactSummary(t *testing.T) {
	gen := &recordingGenerator{outputs: []prompt.Generation{
		{Text: "summary with   irregular\tspacing and IL-6"},
		{Text: "A single discussion paragraph."},
	}}
	svc, _, _ := newServiceWithGenerator(testConfig, gen)
	session := attached(t, svc)

	_, err := svc.Generate(context.Background(), session.ID, Params{Language: "Portuguese"})
	require.NoError(t, err)

	require.Len(t, gen.calls, 2)
	require.Equal(t, map[string]string{
		"summary":  "summary with   irregular\tspacing and IL-6",
		"language": "Portuguese",
	}, gen.calls[1])
}

func TestDiscussionFailureKeepsSummary(t *testing.T) {
	chat := &scriptedChat{failDiscussion: true}
	svc, _, _ := newServiceUnderTest(testConfig, chat)
	session := attached(t, svc)

	got, err := svc.Generate(context.Background(), session.ID, Params{ProjectContext: "systematic review"})
	require.NoError(t, err)
	require.Equal(t, StateFailed, got.State)
	require.NotNil(t, got.FailureReason)
	require.Contains(t, *got.FailureReason, "discussion")
	require.Equal(t, prompt.SentinelText, *got.Result.Discussion)
	require.Contains(t, *got.Result.Summary, "systematic review")

	reloaded, err := svc.Get(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, *got.Result.Summary, *reloaded.Result.Summary)
}

func TestSummaryFailureContinuesByDefault(t *testing.T) {
	chat := &scriptedChat{failSummary: true}
	svc, _, _ := newServiceUnderTest(testConfig, chat)
	session := attached(t, svc)

	got, err := svc.Generate(context.Background(), session.ID, Params{})
	require.NoError(t, err)
	require.Equal(t, prompt.SentinelText, *got.Result.Summary)
	require.NotNil(t, got.Result.Discussion)
	require.Equal(t, StateComplete, got.State)

	prompts := chat.prompts()
	require.Len(t, prompts, 2)
	require.Contains(t, prompts[1], prompt.SentinelText)
	require.True(t, got.Run.Stages[0].Failed)
}

func TestSummaryFailureHaltsWhenConfigured(t *testing.T) {
	chat := &scriptedChat{failSummary: true}
	svc, _, _ := newServiceUnderTest(testConfig, chat)
	session := attached(t, svc)

	halt := true
	got, err := svc.Generate(context.Background(), session.ID, Params{HaltOnStageFailure: &halt})
	require.NoError(t, err)
	require.Equal(t, StateFailed, got.State)
	require.Equal(t, prompt.SentinelText, *got.Result.Summary)
	require.Nil(t, got.Result.Discussion)
	require.Len(t, chat.prompts(), 1)
}

func TestGenerateOverwritesPreviousRun(t *testing.T) {
	chat := &scriptedChat{}
	svc, _, _ := newServiceUnderTest(testConfig, chat)
	session := attached(t, svc)

	first, err := svc.Generate(context.Background(), session.ID, Params{ProjectContext: "first project"})
	require.NoError(t, err)
	require.Contains(t, *first.Result.Summary, "first project")

	chat.failDiscussion = true
	second, err := svc.Generate(context.Background(), session.ID, Params{ProjectContext: "second project"})
	require.NoError(t, err)
	require.Contains(t, *second.Result.Summary, "second project")
	require.Equal(t, prompt.SentinelText, *second.Result.Discussion)
	require.NotEqual(t, first.Run.ID, second.Run.ID)
}

func TestGenerateAppliesDefaultsAndValidates(t *testing.T) {
	gen := &recordingGenerator{}
	svc, _, _ := newServiceWithGenerator(testConfig, gen)
	session := attached(t, svc)

	got, err := svc.Generate(context.Background(), session.ID, Params{Generation: prompt.GenerationConfig{Temperature: 0.1}})
	require.NoError(t, err)
	require.Equal(t, "gemma3:12b", got.Run.Generation.Model)
	require.Equal(t, 32768, got.Run.Generation.ContextWindow)
	require.Equal(t, 2048, got.Run.Generation.MaxOutputTokens)
	require.InDelta(t, 0.1, got.Run.Generation.Temperature, 1e-9)
	require.Equal(t, "English", got.Run.Language)

	before := len(gen.calls)
	got, err = svc.Generate(context.Background(), session.ID, Params{Generation: prompt.GenerationConfig{ContextWindow: 1000}})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
	require.Equal(t, StateComplete, got.State)
	require.Len(t, gen.calls, before)
}

func TestDiscussionArtifact(t *testing.T) {
	svc, _, _ := newServiceUnderTest(testConfig, &scriptedChat{})
	session := attached(t, svc)

	_, err := svc.Discussion(context.Background(), session.ID)
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))

	got, err := svc.Generate(context.Background(), session.ID, Params{})
	require.NoError(t, err)

	artifact, err := svc.Discussion(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, "discussion_draft.md", artifact.Filename)
	require.Equal(t, "text/markdown", artifact.ContentType)
	require.Equal(t, *got.Result.Discussion, string(artifact.Body))
}

func TestConcurrentGenerateIsBusy(t *testing.T) {
	gen := &recordingGenerator{block: make(chan struct{}), entered: make(chan struct{}, 2)}
	svc, _, _ := newServiceWithGenerator(testConfig, gen)
	session := attached(t, svc)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(context.Background(), session.ID, Params{})
		done <- err
	}()
	<-gen.entered

	_, err := svc.Generate(context.Background(), session.ID, Params{})
	require.True(t, apperrors.IsCode(err, apperrors.CodeBusy))
	_, err = svc.AttachDocument(context.Background(), session.ID, pdfUpload())
	require.True(t, apperrors.IsCode(err, apperrors.CodeBusy))

	inFlight, err := svc.Get(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, StateSummaryPending, inFlight.State)

	close(gen.block)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("generate did not finish")
	}
	require.Empty(t, svc.busy)
}

func TestSessionLocksAreReleased(t *testing.T) {
	svc, _, _ := newServiceUnderTest(testConfig, &scriptedChat{})

	for i := 0; i < 3; i++ {
		_, err := svc.Generate(context.Background(), uuid.New(), Params{})
		require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
	}
	require.Empty(t, svc.busy)

	session := attached(t, svc)
	require.Empty(t, svc.busy)
	unlock, err := svc.lock(session.ID)
	require.NoError(t, err)
	require.Len(t, svc.busy, 1)
	unlock()
	require.Empty(t, svc.busy)
}

func TestStateRunning(t *testing.T) {
	require.True(t, StateSummaryPending.Running())
	require.True(t, StateDiscussionPending.Running())
	require.False(t, StateExtracting.Running())
	require.False(t, StateFailed.Running())
	require.Equal(t, "summary_done", StateSummaryDone.String())
}

func newServiceUnderTest(cfg Config, chat *scriptedChat) (*Service, *memoryStore, *stubExtractor) {
	return newServiceWithGenerator(cfg, prompt.NewRunner(chat, nil, newTestLogger()))
}

func newServiceWithGenerator(cfg Config, gen Generator) (*Service, *memoryStore, *stubExtractor) {
	store := newMemoryStore()
	docs := &stubExtractor{text: turmericText}
	return NewService(cfg, store, docs, gen, newTestLogger()), store, docs
}

func mustCreate(t *testing.T, svc *Service) Session {
	t.Helper()
	session, err := svc.CreateSession(context.Background())
	require.NoError(t, err)
	return session
}

func attached(t *testing.T, svc *Service) Session {
	t.Helper()
	session := mustCreate(t, svc)
	session, err := svc.AttachDocument(context.Background(), session.ID, pdfUpload())
	require.NoError(t, err)
	return session
}

func pdfUpload() extractor.Upload {
	return extractor.Upload{Filename: "turmeric.pdf", Content: []byte("%PDF-1.7 turmeric")}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubExtractor struct {
	text  string
	err   error
	calls int
}

func (s *stubExtractor) Extract(_ context.Context, upload extractor.Upload) (extractor.ExtractedDocument, error) {
	s.calls++
	if s.err != nil {
		return extractor.ExtractedDocument{}, s.err
	}
	return extractor.ExtractedDocument{
		Key:       extractor.ContentKey(upload.Content),
		Filename:  upload.Filename,
		Text:      s.text,
		Pages:     1,
		Converter: "stub",
	}, nil
}

// scriptedChat answers the summary and discussion prompts deterministically from their inputs.
type scriptedChat struct {
	mu             sync.Mutex
	requests       []ollama.ChatRequest
	failSummary    bool
	failDiscussion bool
}

func (c *scriptedChat) Chat(_ context.Context, req ollama.ChatRequest) (ollama.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	text := req.Messages[0].Content

	var content string
	switch {
	case strings.Contains(text, "DOCUMENT CONTENT"):
		if c.failSummary {
			return ollama.ChatResponse{}, errors.New("model crashed")
		}
		project := lineValue(text, "- Project: ")
		content = "SILVA, A. Turmeric and inflammation. Journal of Natural Medicine, v. 12, 2021.\n\n" +
			"## Problem\nChronic inflammation lacks safe long-term treatments.\n\n" +
			"## Methodology\nA randomized controlled trial with 120 adults.\n\n" +
			"## Results\nCurcumin lowered inflammatory markers.\n\n" +
			"This paper informs the " + project + " by providing controlled trial evidence."
	case strings.Contains(text, "INPUT SUMMARY"):
		if c.failDiscussion {
			return ollama.ChatResponse{}, errors.New("model crashed")
		}
		content = "The reviewed trial suggests that curcumin lowers inflammatory markers in adults, " +
			"supporting its consideration among natural anti-inflammatory agents."
	default:
		return ollama.ChatResponse{}, errors.New("unexpected prompt")
	}
	return ollama.ChatResponse{
		Message:         ollama.Message{Role: "assistant", Content: content},
		PromptEvalCount: 20,
		EvalCount:       10,
	}, nil
}

func (c *scriptedChat) prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.requests))
	for _, req := range c.requests {
		out = append(out, req.Messages[0].Content)
	}
	return out
}

func lineValue(text, prefix string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix)
		}
	}
	return ""
}

type recordingGenerator struct {
	mu      sync.Mutex
	outputs []prompt.Generation
	calls   []map[string]string
	block   chan struct{}
	entered chan struct{}
}

func (g *recordingGenerator) Run(_ context.Context, _ prompt.GenerationConfig, _ string, vars map[string]string) prompt.Generation {
	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := len(g.calls)
	g.calls = append(g.calls, vars)
	if idx < len(g.outputs) {
		return g.outputs[idx]
	}
	return prompt.Generation{Text: "generated"}
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]Session
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[uuid.UUID]Session)}
}

func (s *memoryStore) Create(_ context.Context, session Session) error {
	return s.put(session)
}

func (s *memoryStore) Get(_ context.Context, id uuid.UUID) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session.Clone(), ok, nil
}

func (s *memoryStore) Save(_ context.Context, session Session) error {
	return s.put(session)
}

func (s *memoryStore) put(session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
	return nil
}
