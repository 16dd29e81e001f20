package extractor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/yanqian/paper-synthesizer/pkg/errors"
	"github.com/yanqian/paper-synthesizer/pkg/util"
)

var pdfMagic = []byte("%PDF-")

type service struct {
	cfg       Config
	converter Converter
	cache     Cache
	stager    Stager
	logger    *slog.Logger
	group     singleflight.Group
}

// NewService wires the extractor. stager may be nil to convert straight from memory.
func NewService(cfg Config, converter Converter, cache Cache, stager Stager, logger *slog.Logger) Service {
	return &service{
		cfg:       cfg,
		converter: converter,
		cache:     cache,
		stager:    stager,
		logger:    logger.With("component", "extractor.service"),
	}
}

// ContentKey returns the memoization key for content.
func ContentKey(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (s *service) Extract(ctx context.Context, upload Upload) (ExtractedDocument, error) {
	if len(upload.Content) == 0 {
		return ExtractedDocument{}, apperrors.Wrap(apperrors.CodeInputIncomplete, "no document was uploaded", nil)
	}
	if s.cfg.MaxFileBytes > 0 && int64(len(upload.Content)) > s.cfg.MaxFileBytes {
		return ExtractedDocument{}, apperrors.Wrap(apperrors.CodeInvalidInput, fmt.Sprintf("document exceeds %d bytes", s.cfg.MaxFileBytes), nil)
	}
	if !isPDF(upload.Content) {
		return ExtractedDocument{}, apperrors.Wrap(apperrors.CodeInvalidInput, "document is not a PDF", nil)
	}

	key := strings.TrimSpace(upload.Key)
	if key == "" {
		key = ContentKey(upload.Content)
	}
	logger := s.logger.With("key", shortKey(key), "filename", upload.Filename)

	if doc, ok := s.lookup(ctx, key, logger); ok {
		return withFilename(doc, upload.Filename), nil
	}

	result, err, shared := s.group.Do(key, func() (any, error) {
		if doc, ok := s.lookup(ctx, key, logger); ok {
			return doc, nil
		}
		doc, err := s.convert(ctx, key, upload, logger)
		if err != nil {
			return ExtractedDocument{}, err
		}
		if err := s.cache.Put(ctx, doc); err != nil {
			logger.Warn("failed to cache extraction", "error", err)
		}
		return doc, nil
	})
	if err != nil {
		return ExtractedDocument{}, err
	}
	if shared {
		logger.Debug("joined in-flight extraction")
	}
	return withFilename(result.(ExtractedDocument), upload.Filename), nil
}

func (s *service) lookup(ctx context.Context, key string, logger *slog.Logger) (ExtractedDocument, bool) {
	doc, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("extraction cache lookup failed", "error", err)
		return ExtractedDocument{}, false
	}
	if ok {
		logger.Debug("extraction cache hit")
	}
	return doc, ok
}

func (s *service) convert(ctx context.Context, key string, upload Upload, logger *slog.Logger) (ExtractedDocument, error) {
	content, cleanup, err := s.stage(ctx, key, upload.Content)
	if err != nil {
		return ExtractedDocument{}, err
	}
	defer cleanup()

	conversion, err := s.converter.Convert(ctx, upload.Filename, content)
	if err != nil {
		logger.Error("conversion failed", "converter", s.converter.Name(), "error", err)
		return ExtractedDocument{}, apperrors.Wrap(apperrors.CodeConversionFailed, "failed to convert document", err)
	}
	text := strings.TrimSpace(conversion.Text)
	if text == "" {
		return ExtractedDocument{}, apperrors.Wrap(apperrors.CodeConversionFailed, "document contains no extractable text", nil)
	}
	logger.Info("document extracted", "converter", s.converter.Name(), "pages", conversion.Pages, "chars", len(text))

	return ExtractedDocument{
		Key:       key,
		Filename:  upload.Filename,
		Text:      text,
		Pages:     conversion.Pages,
		Converter: s.converter.Name(),
		CreatedAt: util.NowUTC(),
	}, nil
}

// stage round-trips content through object storage. The staged copy is removed by cleanup.
func (s *service) stage(ctx context.Context, key string, content []byte) ([]byte, func(), error) {
	if s.stager == nil {
		return content, func() {}, nil
	}
	objectKey := "staging/" + key + ".pdf"
	if err := s.stager.Put(ctx, objectKey, content, "application/pdf"); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeStorage, "failed to stage document", err)
	}
	cleanup := func() {
		if err := s.stager.Delete(context.WithoutCancel(ctx), objectKey); err != nil {
			s.logger.Warn("failed to remove staged document", "object", objectKey, "error", err)
		}
	}
	reader, err := s.stager.Get(ctx, objectKey)
	if err != nil {
		cleanup()
		return nil, nil, apperrors.Wrap(apperrors.CodeStorage, "failed to read staged document", err)
	}
	defer reader.Close()
	staged, err := io.ReadAll(reader)
	if err != nil {
		cleanup()
		return nil, nil, apperrors.Wrap(apperrors.CodeStorage, "failed to read staged document", err)
	}
	return staged, cleanup, nil
}

func isPDF(content []byte) bool {
	trimmed := bytes.TrimLeft(content[:min(len(content), 1024)], "\x00\t\r\n ")
	return bytes.HasPrefix(trimmed, pdfMagic)
}

func withFilename(doc ExtractedDocument, filename string) ExtractedDocument {
	if filename != "" {
		doc.Filename = filename
	}
	return doc
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
