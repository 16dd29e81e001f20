package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:11434"

// Message mirrors the Ollama chat message structure.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries the generation parameters understood by the backend.
type Options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

// ChatRequest is the payload sent to /api/chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  Options   `json:"options"`
}

// ChatResponse captures a non streaming chat reply.
type ChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
	TotalDuration   int64   `json:"total_duration,omitempty"`
}

// PullProgress is one NDJSON frame emitted while a model downloads.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Client performs HTTP requests against a local Ollama server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs an Ollama client. A zero timeout leaves model calls unbounded.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListModels fetches /api/tags and decodes whichever listing shape the server returned.
func (c *Client) ListModels(ctx context.Context) (ListResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return ListResponse{}, fmt.Errorf("build list request: %w", err)
	}
	body, err := c.do(httpReq)
	if err != nil {
		return ListResponse{}, err
	}
	return DecodeListResponse(body), nil
}

// Chat performs a single non streaming chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	req.Stream = false
	httpReq, err := c.newJSONRequest(ctx, "/api/chat", req)
	if err != nil {
		return ChatResponse{}, err
	}
	body, err := c.do(httpReq)
	if err != nil {
		return ChatResponse{}, err
	}
	var out ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return ChatResponse{}, fmt.Errorf("decode chat response: %w", err)
	}
	return out, nil
}

// PullModel downloads a model, reporting each progress frame to progress when non-nil.
func (c *Client) PullModel(ctx context.Context, name string, progress func(PullProgress)) error {
	httpReq, err := c.newJSONRequest(ctx, "/api/pull", map[string]any{"model": name, "stream": true})
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request model pull: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("ollama pull failed: status=%d body=%s", resp.StatusCode, string(payload))
	}

	stream := newPullStream(resp.Body)
	for {
		frame, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if frame.Error != "" {
			return fmt.Errorf("ollama pull failed: %s", frame.Error)
		}
		if progress != nil {
			progress(frame)
		}
	}
}

func (c *Client) do(httpReq *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("ollama request failed: status=%d body=%s", resp.StatusCode, string(payload))
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) newJSONRequest(ctx context.Context, path string, payload any) (*http.Request, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", path, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// pullStream reads newline delimited progress frames.
type pullStream struct {
	scanner *bufio.Scanner
}

func newPullStream(r io.Reader) *pullStream {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024), 1<<20)
	return &pullStream{scanner: scanner}
}

// Recv returns the next frame or io.EOF once the body is exhausted.
func (s *pullStream) Recv() (PullProgress, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var frame PullProgress
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			return PullProgress{}, fmt.Errorf("decode pull frame: %w", err)
		}
		return frame, nil
	}
	if err := s.scanner.Err(); err != nil {
		return PullProgress{}, err
	}
	return PullProgress{}, io.EOF
}
