package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/yanqian/paper-synthesizer/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var samplePDF = []byte("%PDF-1.7\nfake body for tests\n%%EOF")

func TestExtractRejectsInvalidUploads(t *testing.T) {
	converter := &stubConverter{text: "unused"}
	svc := NewService(Config{MaxFileBytes: 64}, converter, newStubCache(), nil, newTestLogger())

	_, err := svc.Extract(context.Background(), Upload{Filename: "empty.pdf"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInputIncomplete))

	_, err = svc.Extract(context.Background(), Upload{Filename: "notes.txt", Content: []byte("plain text")})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))

	_, err = svc.Extract(context.Background(), Upload{Filename: "big.pdf", Content: append([]byte("%PDF-"), bytes.Repeat([]byte("x"), 100)...)})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))

	require.Zero(t, converter.calls.Load())
}

func TestExtractMemoizesByContent(t *testing.T) {
	converter := &stubConverter{text: "# Title\n\nBody text.", pages: 3}
	svc := NewService(Config{}, converter, newStubCache(), nil, newTestLogger())

	first, err := svc.Extract(context.Background(), Upload{Filename: "paper.pdf", Content: samplePDF})
	require.NoError(t, err)
	require.Equal(t, "# Title\n\nBody text.", first.Text)
	require.Equal(t, 3, first.Pages)
	require.Equal(t, "stub", first.Converter)
	require.Equal(t, ContentKey(samplePDF), first.Key)

	second, err := svc.Extract(context.Background(), Upload{Filename: "renamed.pdf", Content: samplePDF})
	require.NoError(t, err)
	require.Equal(t, first.Text, second.Text)
	require.Equal(t, "renamed.pdf", second.Filename)
	require.EqualValues(t, 1, converter.calls.Load())
}

func TestExtractHonoursExplicitKey(t *testing.T) {
	converter := &stubConverter{text: "text"}
	svc := NewService(Config{}, converter, newStubCache(), nil, newTestLogger())

	doc, err := svc.Extract(context.Background(), Upload{Filename: "a.pdf", Content: samplePDF, Key: "upload-1"})
	require.NoError(t, err)
	require.Equal(t, "upload-1", doc.Key)

	_, err = svc.Extract(context.Background(), Upload{Filename: "a.pdf", Content: samplePDF, Key: "upload-2"})
	require.NoError(t, err)
	require.EqualValues(t, 2, converter.calls.Load())
}

func TestExtractSharesConcurrentConversions(t *testing.T) {
	release := make(chan struct{})
	converter := &stubConverter{text: "shared", block: release}
	svc := NewService(Config{}, converter, newStubCache(), nil, newTestLogger())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := svc.Extract(context.Background(), Upload{Filename: "paper.pdf", Content: samplePDF})
			results[i] = doc.Text
			errs[i] = err
		}(i)
	}

	require.Eventually(t, func() bool { return converter.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "shared", results[i])
	}
	require.EqualValues(t, 1, converter.calls.Load())
}

func TestExtractDoesNotCacheFailures(t *testing.T) {
	converter := &stubConverter{err: errors.New("broken xref table")}
	svc := NewService(Config{}, converter, newStubCache(), nil, newTestLogger())

	_, err := svc.Extract(context.Background(), Upload{Filename: "paper.pdf", Content: samplePDF})
	require.True(t, apperrors.IsCode(err, apperrors.CodeConversionFailed))

	converter.setResult("recovered", nil)
	doc, err := svc.Extract(context.Background(), Upload{Filename: "paper.pdf", Content: samplePDF})
	require.NoError(t, err)
	require.Equal(t, "recovered", doc.Text)
	require.EqualValues(t, 2, converter.calls.Load())
}

func TestExtractRejectsEmptyConversion(t *testing.T) {
	svc := NewService(Config{}, &stubConverter{text: "   \n"}, newStubCache(), nil, newTestLogger())

	_, err := svc.Extract(context.Background(), Upload{Filename: "scan.pdf", Content: samplePDF})
	require.True(t, apperrors.IsCode(err, apperrors.CodeConversionFailed))
}

func TestExtractStagesAndRemovesUpload(t *testing.T) {
	stager := newStubStager()
	converter := &stubConverter{text: "staged text"}
	svc := NewService(Config{}, converter, newStubCache(), stager, newTestLogger())

	doc, err := svc.Extract(context.Background(), Upload{Filename: "paper.pdf", Content: samplePDF})
	require.NoError(t, err)
	require.Equal(t, "staged text", doc.Text)

	require.Equal(t, []string{"staging/" + doc.Key + ".pdf"}, stager.puts)
	require.Equal(t, stager.puts, stager.deletes)
	require.Empty(t, stager.blobs)
	require.Equal(t, samplePDF, converter.lastContent)
}

func TestExtractReportsStagingFailure(t *testing.T) {
	stager := newStubStager()
	stager.putErr = errors.New("bucket unavailable")
	converter := &stubConverter{text: "unused"}
	svc := NewService(Config{}, converter, newStubCache(), stager, newTestLogger())

	_, err := svc.Extract(context.Background(), Upload{Filename: "paper.pdf", Content: samplePDF})
	require.True(t, apperrors.IsCode(err, apperrors.CodeStorage))
	require.Zero(t, converter.calls.Load())
}

func TestExtractSurvivesCacheErrors(t *testing.T) {
	cache := newStubCache()
	cache.err = errors.New("valkey down")
	svc := NewService(Config{}, &stubConverter{text: "still works"}, cache, nil, newTestLogger())

	doc, err := svc.Extract(context.Background(), Upload{Filename: "paper.pdf", Content: samplePDF})
	require.NoError(t, err)
	require.Equal(t, "still works", doc.Text)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubConverter struct {
	mu          sync.Mutex
	text        string
	pages       int
	err         error
	block       chan struct{}
	calls       atomic.Int32
	lastContent []byte
}

func (s *stubConverter) Name() string { return "stub" }

func (s *stubConverter) Convert(ctx context.Context, filename string, content []byte) (Conversion, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastContent = content
	if s.err != nil {
		return Conversion{}, s.err
	}
	return Conversion{Text: s.text, Pages: s.pages}, nil
}

func (s *stubConverter) setResult(text string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
	s.err = err
}

type stubCache struct {
	mu   sync.Mutex
	docs map[string]ExtractedDocument
	err  error
}

func newStubCache() *stubCache {
	return &stubCache{docs: make(map[string]ExtractedDocument)}
}

func (c *stubCache) Get(_ context.Context, key string) (ExtractedDocument, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return ExtractedDocument{}, false, c.err
	}
	doc, ok := c.docs[key]
	return doc, ok, nil
}

func (c *stubCache) Put(_ context.Context, doc ExtractedDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.docs[doc.Key] = doc
	return nil
}

type stubStager struct {
	blobs   map[string][]byte
	puts    []string
	deletes []string
	putErr  error
}

func newStubStager() *stubStager {
	return &stubStager{blobs: make(map[string][]byte)}
}

func (s *stubStager) Put(_ context.Context, key string, data []byte, _ string) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.puts = append(s.puts, key)
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *stubStager) Get(_ context.Context, key string) (io.ReadCloser, error) {
	blob, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(blob)), nil
}

func (s *stubStager) Delete(_ context.Context, key string) error {
	s.deletes = append(s.deletes, key)
	delete(s.blobs, key)
	return nil
}
