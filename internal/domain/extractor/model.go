package extractor

import (
	"context"
	"io"
	"time"
)

// Upload is a PDF handed to the extractor. Key identifies the content; when empty
// the service derives it from a digest of Content.
type Upload struct {
	Filename string
	Content  []byte
	Key      string
}

// ExtractedDocument is the plain text rendition of one uploaded PDF.
type ExtractedDocument struct {
	Key       string    `json:"key"`
	Filename  string    `json:"filename"`
	Text      string    `json:"text"`
	Pages     int       `json:"pages"`
	Converter string    `json:"converter"`
	CreatedAt time.Time `json:"createdAt"`
}

// Conversion is what a Converter produces for a single file.
type Conversion struct {
	Text  string
	Pages int
}

// Converter turns PDF bytes into markdown flavoured text.
type Converter interface {
	Name() string
	Convert(ctx context.Context, filename string, content []byte) (Conversion, error)
}

// Cache memoizes extraction results by content key.
type Cache interface {
	Get(ctx context.Context, key string) (ExtractedDocument, bool, error)
	Put(ctx context.Context, doc ExtractedDocument) error
}

// Stager holds upload bytes in object storage while they are converted.
type Stager interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Config tunes the extractor.
type Config struct {
	MaxFileBytes int64
}

// Service is the public contract of the extractor.
type Service interface {
	Extract(ctx context.Context, upload Upload) (ExtractedDocument, error)
}
