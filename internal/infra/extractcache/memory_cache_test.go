package extractcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
)

func TestMemoryCacheExpiresEntries(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	doc := extractor.ExtractedDocument{Key: "abc", Text: "hello", Pages: 2}
	require.NoError(t, cache.Put(context.Background(), doc))

	got, ok, err := cache.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, doc, got)

	now = now.Add(2 * time.Minute)
	_, ok, err = cache.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCacheWithoutTTLKeepsEntries(t *testing.T) {
	cache := NewMemoryCache(0)
	require.NoError(t, cache.Put(context.Background(), extractor.ExtractedDocument{Key: "k", Text: "t"}))

	_, ok, err := cache.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = cache.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCacheKeepsEntryRefreshedDuringExpiry(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	require.NoError(t, cache.Put(context.Background(), extractor.ExtractedDocument{Key: "abc", Text: "stale"}))

	// The clock hook runs after Get releases its read lock, which is where a
	// concurrent Put can land before the expired entry is removed.
	now = now.Add(2 * time.Minute)
	fresh := extractor.ExtractedDocument{Key: "abc", Text: "fresh"}
	refreshed := false
	cache.now = func() time.Time {
		if !refreshed {
			refreshed = true
			require.NoError(t, cache.Put(context.Background(), fresh))
		}
		return now
	}

	_, ok, err := cache.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, refreshed)

	got, ok, err := cache.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, fresh, got)
}
