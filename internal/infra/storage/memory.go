package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
)

// MemoryStorage keeps staged blobs in memory. Useful for tests and local dev.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string]storedBlob
}

type storedBlob struct {
	data     []byte
	mimeType string
}

// NewMemoryStorage constructs storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string]storedBlob)}
}

// Put stores a copy of data under key.
func (s *MemoryStorage) Put(_ context.Context, key string, data []byte, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = storedBlob{data: append([]byte(nil), data...), mimeType: mimeType}
	return nil
}

// Get returns a reader for the stored blob.
func (s *MemoryStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("blob %q not found", key)
	}
	return io.NopCloser(bytes.NewReader(blob.data)), nil
}

// Delete removes the blob.
func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Len reports how many blobs are currently staged.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

var _ extractor.Stager = (*MemoryStorage)(nil)
