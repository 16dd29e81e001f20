package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
)

// DoclingConverter delegates conversion to a docling-serve instance.
type DoclingConverter struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type doclingResponse struct {
	Status   string `json:"status"`
	Document struct {
		Filename  string `json:"filename"`
		MDContent string `json:"md_content"`
	} `json:"document"`
	Errors         []json.RawMessage `json:"errors"`
	ProcessingTime float64           `json:"processing_time"`
}

// NewDoclingConverter constructs the converter. A zero timeout defaults to five minutes.
func NewDoclingConverter(baseURL string, timeout time.Duration, logger *slog.Logger) *DoclingConverter {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &DoclingConverter{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "pdf.docling"),
	}
}

// Name implements extractor.Converter.
func (c *DoclingConverter) Name() string {
	return "docling"
}

// Convert implements extractor.Converter.
func (c *DoclingConverter) Convert(ctx context.Context, filename string, content []byte) (extractor.Conversion, error) {
	body, contentType, err := buildConvertForm(filename, content)
	if err != nil {
		return extractor.Conversion{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/convert/file", body)
	if err != nil {
		return extractor.Conversion{}, fmt.Errorf("build docling request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return extractor.Conversion{}, fmt.Errorf("call docling: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return extractor.Conversion{}, fmt.Errorf("docling request failed: status=%d body=%s", resp.StatusCode, string(payload))
	}

	var out doclingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return extractor.Conversion{}, fmt.Errorf("decode docling response: %w", err)
	}
	if out.Status != "" && out.Status != "success" && out.Status != "partial_success" {
		return extractor.Conversion{}, fmt.Errorf("docling conversion status %q", out.Status)
	}
	if out.Status == "partial_success" {
		c.logger.Warn("docling converted document partially", "filename", filename, "errors", len(out.Errors))
	}

	pages, err := PageCount(content)
	if err != nil {
		c.logger.Warn("page count unavailable", "filename", filename, "error", err)
	}
	return extractor.Conversion{Text: out.Document.MDContent, Pages: pages}, nil
}

func buildConvertForm(filename string, content []byte) (io.Reader, string, error) {
	if strings.TrimSpace(filename) == "" {
		filename = "document.pdf"
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("files", filepath.Base(filename))
	if err != nil {
		return nil, "", fmt.Errorf("build docling form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("build docling form: %w", err)
	}
	for key, value := range map[string]string{"to_formats": "md", "image_export_mode": "placeholder"} {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("build docling form: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("build docling form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

var _ extractor.Converter = (*DoclingConverter)(nil)
