package http

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/yanqian/paper-synthesizer/internal/infra/config"
)

const retryBodyLimit = 1 << 20 // 1 MiB

var errBodyTooLarge = errors.New("request body exceeds retry limit")

// nonIdempotentPrefixes are never replayed: they create sessions, consume uploads or
// spend model time.
var nonIdempotentPrefixes = []string{"/api/v1/sessions"}

// retryPolicy decides which requests may be replayed and how long to wait between attempts.
type retryPolicy struct {
	attempts int
	base     time.Duration
	exclude  []string
}

func newRetryPolicy(cfg config.RetryConfig) retryPolicy {
	exclude := make([]string, 0, len(nonIdempotentPrefixes)+len(cfg.Exclude))
	exclude = append(exclude, nonIdempotentPrefixes...)
	exclude = append(exclude, cfg.Exclude...)
	return retryPolicy{attempts: cfg.MaxAttempts, base: cfg.BaseBackoff, exclude: exclude}
}

func (p retryPolicy) applies(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	for _, prefix := range p.exclude {
		if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
	}
	return true
}

// delay doubles per attempt, starting at base before the second attempt.
func (p retryPolicy) delay(attempt int) time.Duration {
	return p.base << (attempt - 2)
}

// withRetry replays POST requests that fail with a 5xx, such as a model pull interrupted
// by the backend restarting. Paths under an excluded prefix are passed through.
func withRetry(handler http.Handler, cfg config.RetryConfig, logger *slog.Logger) http.Handler {
	if !cfg.Enabled || cfg.MaxAttempts <= 1 {
		return handler
	}
	policy := newRetryPolicy(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !policy.applies(r) {
			handler.ServeHTTP(w, r)
			return
		}
		body, err := bufferBody(r)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, errBodyTooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			http.Error(w, err.Error(), status)
			return
		}

		var resp *bufferedResponse
		for attempt := 1; attempt <= policy.attempts; attempt++ {
			if attempt > 1 {
				logger.Warn("transient failure, retrying request", "path", r.URL.Path, "status", resp.status, "attempt", attempt)
				timer := time.NewTimer(policy.delay(attempt))
				select {
				case <-r.Context().Done():
					timer.Stop()
					resp.writeTo(w)
					return
				case <-timer.C:
				}
			}
			replay := r.Clone(r.Context())
			replay.Body = io.NopCloser(bytes.NewReader(body))
			replay.ContentLength = int64(len(body))

			resp = newBufferedResponse()
			handler.ServeHTTP(resp, replay)
			if resp.status < http.StatusInternalServerError {
				break
			}
		}
		resp.writeTo(w)
	})
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, retryBodyLimit+1))
	if err != nil {
		return nil, err
	}
	if len(data) > retryBodyLimit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// bufferedResponse holds one attempt's response until it is known to be final.
type bufferedResponse struct {
	header http.Header
	body   bytes.Buffer
	status int
	wrote  bool
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header {
	return b.header
}

func (b *bufferedResponse) WriteHeader(status int) {
	if !b.wrote {
		b.status = status
		b.wrote = true
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.wrote = true
	return b.body.Write(p)
}

func (b *bufferedResponse) Flush() {}

func (b *bufferedResponse) writeTo(w http.ResponseWriter) {
	dst := w.Header()
	for key, values := range b.header {
		dst[key] = append([]string(nil), values...)
	}
	w.WriteHeader(b.status)
	if b.body.Len() > 0 {
		_, _ = w.Write(b.body.Bytes())
	}
}
