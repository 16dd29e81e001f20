package extractcache

import (
	"context"
	"sync"
	"time"

	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
)

type cachedDocument struct {
	doc       extractor.ExtractedDocument
	expiresAt time.Time
}

// MemoryCache is an in-process extraction cache with optional expiry.
type MemoryCache struct {
	mu   sync.RWMutex
	ttl  time.Duration
	docs map[string]cachedDocument
	now  func() time.Time
}

// NewMemoryCache constructs a cache. A non-positive ttl keeps entries forever.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, docs: make(map[string]cachedDocument), now: time.Now}
}

// Get implements extractor.Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (extractor.ExtractedDocument, bool, error) {
	c.mu.RLock()
	entry, ok := c.docs[key]
	c.mu.RUnlock()
	if !ok {
		return extractor.ExtractedDocument{}, false, nil
	}
	if entry.expired(c.now()) {
		c.mu.Lock()
		// A Put may have refreshed the entry since the read lock was released.
		if current, ok := c.docs[key]; ok && current.expired(c.now()) {
			delete(c.docs, key)
		}
		c.mu.Unlock()
		return extractor.ExtractedDocument{}, false, nil
	}
	return entry.doc, true, nil
}

func (d cachedDocument) expired(now time.Time) bool {
	return !d.expiresAt.IsZero() && now.After(d.expiresAt)
}

// Put implements extractor.Cache.
func (c *MemoryCache) Put(_ context.Context, doc extractor.ExtractedDocument) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if c.ttl > 0 {
		exp = c.now().Add(c.ttl)
	}
	c.docs[doc.Key] = cachedDocument{doc: doc, expiresAt: exp}
	return nil
}

var _ extractor.Cache = (*MemoryCache)(nil)
