package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yanqian/paper-synthesizer/internal/domain/analysis"
	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
	"github.com/yanqian/paper-synthesizer/internal/domain/prompt"
	"github.com/yanqian/paper-synthesizer/internal/domain/registry"
	"github.com/yanqian/paper-synthesizer/internal/domain/session"
	"github.com/yanqian/paper-synthesizer/internal/infra/llm/ollama"
	apperrors "github.com/yanqian/paper-synthesizer/pkg/errors"
)

// ModelCatalog lists and downloads models.
type ModelCatalog interface {
	List(ctx context.Context) registry.Listing
	Pull(ctx context.Context, name string, progress func(ollama.PullProgress)) error
}

// Pipeline drives analysis sessions.
type Pipeline interface {
	CreateSession(ctx context.Context) (analysis.Session, error)
	Get(ctx context.Context, id uuid.UUID) (analysis.Session, error)
	AttachDocument(ctx context.Context, id uuid.UUID, upload extractor.Upload) (analysis.Session, error)
	Generate(ctx context.Context, id uuid.UUID, params analysis.Params) (analysis.Session, error)
	Discussion(ctx context.Context, id uuid.UUID) (analysis.Artifact, error)
}

// Defaults are applied to generate requests that omit a parameter.
type Defaults struct {
	Temperature  float64
	MaxFileBytes int64
}

// Handler wires the HTTP transport to domain services.
type Handler struct {
	catalog  ModelCatalog
	pipeline Pipeline
	tokens   session.Service
	defaults Defaults
	logger   *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(catalog ModelCatalog, pipeline Pipeline, tokens session.Service, defaults Defaults, logger *slog.Logger) *Handler {
	return &Handler{
		catalog:  catalog,
		pipeline: pipeline,
		tokens:   tokens,
		defaults: defaults,
		logger:   logger.With("component", "http.handler"),
	}
}

type modelsResponse struct {
	Models   []string `json:"models"`
	Default  string   `json:"default"`
	Fallback bool     `json:"fallback"`
	Warning  string   `json:"warning,omitempty"`
}

type pullRequest struct {
	Name string `json:"name" binding:"required"`
}

type generateRequest struct {
	Model              string   `json:"model"`
	Temperature        *float64 `json:"temperature"`
	MaxTokens          int      `json:"maxTokens"`
	ContextWindow      int      `json:"contextWindow"`
	Topic              string   `json:"topic"`
	ProjectContext     string   `json:"projectContext"`
	Language           string   `json:"language"`
	HaltOnStageFailure *bool    `json:"haltOnStageFailure"`
}

type documentView struct {
	Key       string    `json:"key"`
	Filename  string    `json:"filename"`
	Pages     int       `json:"pages"`
	Converter string    `json:"converter"`
	Chars     int       `json:"chars"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionView struct {
	ID            uuid.UUID       `json:"id"`
	State         string          `json:"state"`
	Running       bool            `json:"running"`
	Document      *documentView   `json:"document,omitempty"`
	Run           *analysis.Run   `json:"run,omitempty"`
	Result        analysis.Result `json:"result"`
	Notices       []string        `json:"notices,omitempty"`
	FailureReason *string         `json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type createSessionResponse struct {
	Session   sessionView `json:"session"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListModels returns the available models. Listing failures degrade to the fallback model.
func (h *Handler) ListModels(c *gin.Context) {
	listing := h.catalog.List(c.Request.Context())
	resp := modelsResponse{
		Models:   listing.Models,
		Default:  listing.Default,
		Fallback: listing.Fallback,
	}
	if resp.Models == nil {
		resp.Models = []string{}
	}
	if listing.Warning != nil {
		resp.Warning = listing.Warning.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// PullModel downloads a model by name and waits for completion.
func (h *Handler) PullModel(c *gin.Context) {
	var req pullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	var last ollama.PullProgress
	err := h.catalog.Pull(c.Request.Context(), req.Name, func(p ollama.PullProgress) {
		last = p
	})
	if err != nil {
		abortWithError(c, fromAppError(err, "pull_failed"))
		return
	}
	status := last.Status
	if status == "" {
		status = "success"
	}
	c.JSON(http.StatusOK, gin.H{"model": strings.TrimSpace(req.Name), "status": status})
}

// CreateSession starts a session and issues its bearer token.
func (h *Handler) CreateSession(c *gin.Context) {
	created, err := h.pipeline.CreateSession(c.Request.Context())
	if err != nil {
		abortWithError(c, fromAppError(err, "session_failed"))
		return
	}
	token, err := h.tokens.Issue(created.ID.String())
	if err != nil {
		abortWithError(c, fromAppError(err, "session_failed"))
		return
	}
	c.JSON(http.StatusCreated, createSessionResponse{
		Session:   toSessionView(created),
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt,
	})
}

// GetSession returns the session state and results.
func (h *Handler) GetSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	current, err := h.pipeline.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, fromAppError(err, "session_failed"))
		return
	}
	c.JSON(http.StatusOK, toSessionView(current))
}

// UploadDocument extracts a multipart PDF into the session. It does not start generation.
func (h *Handler) UploadDocument(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnprocessableEntity, apperrors.CodeInputIncomplete, "file is required", err))
		return
	}
	if h.defaults.MaxFileBytes > 0 && fileHeader.Size > h.defaults.MaxFileBytes {
		abortWithError(c, NewHTTPError(http.StatusRequestEntityTooLarge, apperrors.CodeInvalidInput, fmt.Sprintf("file exceeds %d bytes", h.defaults.MaxFileBytes), nil))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "failed to read upload", err))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "upload_failed", "failed to read file", err))
		return
	}

	updated, err := h.pipeline.AttachDocument(c.Request.Context(), id, extractor.Upload{
		Filename: fileHeader.Filename,
		Content:  data,
	})
	if err != nil {
		abortWithError(c, fromAppError(err, "upload_failed"))
		return
	}
	c.JSON(http.StatusOK, toSessionView(updated))
}

// Generate runs the summary and discussion stages. Stage failures are reported in the
// returned session with a 200 status.
func (h *Handler) Generate(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}

	params := analysis.Params{
		Generation: prompt.GenerationConfig{
			Model:           strings.TrimSpace(req.Model),
			Temperature:     h.defaults.Temperature,
			MaxOutputTokens: req.MaxTokens,
			ContextWindow:   req.ContextWindow,
		},
		Topic:              req.Topic,
		ProjectContext:     req.ProjectContext,
		Language:           req.Language,
		HaltOnStageFailure: req.HaltOnStageFailure,
	}
	if req.Temperature != nil {
		params.Generation.Temperature = *req.Temperature
	}
	if params.Generation.Model == "" {
		params.Generation.Model = h.catalog.List(c.Request.Context()).Default
	}

	updated, err := h.pipeline.Generate(c.Request.Context(), id, params)
	if err != nil {
		abortWithError(c, fromAppError(err, "generate_failed"))
		return
	}
	c.JSON(http.StatusOK, toSessionView(updated))
}

// DownloadDiscussion serves the discussion draft as a markdown attachment.
func (h *Handler) DownloadDiscussion(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	artifact, err := h.pipeline.Discussion(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, fromAppError(err, "download_failed"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, artifact.Filename))
	c.Data(http.StatusOK, artifact.ContentType+"; charset=utf-8", artifact.Body)
}

// ViewSession renders the latest results as HTML.
func (h *Handler) ViewSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	current, err := h.pipeline.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, fromAppError(err, "view_failed"))
		return
	}
	page, err := renderSessionPage(current)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "view_failed", "failed to render session", err))
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}

func sessionIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusNotFound, apperrors.CodeNotFound, "session not found", err))
		return uuid.UUID{}, false
	}
	return id, true
}

func toSessionView(s analysis.Session) sessionView {
	view := sessionView{
		ID:            s.ID,
		State:         s.State.String(),
		Running:       s.State.Running(),
		Run:           s.Run,
		Result:        s.Result,
		Notices:       s.Notices,
		FailureReason: s.FailureReason,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.Document != nil {
		view.Document = &documentView{
			Key:       s.Document.Key,
			Filename:  s.Document.Filename,
			Pages:     s.Document.Pages,
			Converter: s.Document.Converter,
			Chars:     len([]rune(s.Document.Text)),
			CreatedAt: s.Document.CreatedAt,
		}
	}
	return view
}
