package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
	"github.com/yanqian/paper-synthesizer/internal/domain/prompt"
	"github.com/yanqian/paper-synthesizer/pkg/metrics"
)

// State is the position of a session in the analysis pipeline.
type State string

const (
	StateIdle              State = "idle"
	StateExtracting        State = "extracting"
	StateSummaryPending    State = "summary_pending"
	StateSummaryDone       State = "summary_done"
	StateDiscussionPending State = "discussion_pending"
	StateComplete          State = "complete"
	StateFailed            State = "failed"
)

func (s State) String() string {
	return string(s)
}

// Running reports whether a pipeline run is mid-flight in this state.
func (s State) Running() bool {
	switch s {
	case StateSummaryPending, StateSummaryDone, StateDiscussionPending:
		return true
	default:
		return false
	}
}

// Stage names recorded on run reports.
const (
	StageSummary    = "summary"
	StageDiscussion = "discussion"
)

// Config carries pipeline defaults.
type Config struct {
	Generation         prompt.GenerationConfig
	Language           string
	HaltOnStageFailure bool
}

// Params describes one generate request. A blank model, language or a zero token limit or
// context window falls back to Config. Temperature is taken as given.
type Params struct {
	Generation         prompt.GenerationConfig
	Topic              string
	ProjectContext     string
	Language           string
	HaltOnStageFailure *bool
}

// Result holds the independently stored stage outputs of the latest run.
type Result struct {
	Summary    *string `json:"summary,omitempty"`
	Discussion *string `json:"discussion,omitempty"`
}

// StageReport summarizes one prompt invocation.
type StageReport struct {
	Stage      string             `json:"stage"`
	Failed     bool               `json:"failed"`
	Error      string             `json:"error,omitempty"`
	Usage      metrics.TokenUsage `json:"usage"`
	DurationMs int64              `json:"durationMs"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// Run records the inputs and stage outcomes of the latest generate request.
type Run struct {
	ID                 uuid.UUID               `json:"id"`
	Generation         prompt.GenerationConfig `json:"generation"`
	Topic              string                  `json:"topic"`
	ProjectContext     string                  `json:"projectContext"`
	Language           string                  `json:"language"`
	HaltOnStageFailure bool                    `json:"haltOnStageFailure"`
	Stages             []StageReport           `json:"stages"`
	Usage              metrics.TokenUsage      `json:"usage"`
	StartedAt          time.Time               `json:"startedAt"`
	FinishedAt         *time.Time              `json:"finishedAt,omitempty"`
}

// Session is the per-user pipeline state. It is owned by the Store and mutated only by Service.
type Session struct {
	ID            uuid.UUID                    `json:"id"`
	State         State                        `json:"state"`
	Document      *extractor.ExtractedDocument `json:"document,omitempty"`
	Run           *Run                         `json:"run,omitempty"`
	Result        Result                       `json:"result"`
	Notices       []string                     `json:"notices,omitempty"`
	FailureReason *string                      `json:"failureReason,omitempty"`
	CreatedAt     time.Time                    `json:"createdAt"`
	UpdatedAt     time.Time                    `json:"updatedAt"`
}

// Clone returns a deep copy so stored sessions never alias caller state.
func (s Session) Clone() Session {
	out := s
	if s.Document != nil {
		doc := *s.Document
		out.Document = &doc
	}
	if s.Run != nil {
		run := *s.Run
		run.Stages = append([]StageReport(nil), s.Run.Stages...)
		if s.Run.FinishedAt != nil {
			finished := *s.Run.FinishedAt
			run.FinishedAt = &finished
		}
		out.Run = &run
	}
	if s.Result.Summary != nil {
		summary := *s.Result.Summary
		out.Result.Summary = &summary
	}
	if s.Result.Discussion != nil {
		discussion := *s.Result.Discussion
		out.Result.Discussion = &discussion
	}
	if s.FailureReason != nil {
		reason := *s.FailureReason
		out.FailureReason = &reason
	}
	out.Notices = append([]string(nil), s.Notices...)
	return out
}

// Artifact is a downloadable rendition of a session result.
type Artifact struct {
	Filename    string
	ContentType string
	Body        []byte
}

// DiscussionFilename is the download name of the discussion draft.
const DiscussionFilename = "discussion_draft.md"

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, session Session) error
	Get(ctx context.Context, id uuid.UUID) (Session, bool, error)
	Save(ctx context.Context, session Session) error
}

// Generator runs a single prompt leniently.
type Generator interface {
	Run(ctx context.Context, cfg prompt.GenerationConfig, tmpl string, vars map[string]string) prompt.Generation
}
