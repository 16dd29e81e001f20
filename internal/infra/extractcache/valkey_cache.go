package extractcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/paper-synthesizer/internal/domain/extractor"
)

// ValkeyCache stores extraction results in a Valkey-compatible database so that
// several processes share conversions.
type ValkeyCache struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// NewValkeyCache constructs a cache backed by Valkey.
func NewValkeyCache(client valkey.Client, prefix string, ttl time.Duration) *ValkeyCache {
	if prefix == "" {
		prefix = "extract"
	}
	return &ValkeyCache{client: client, prefix: prefix, ttl: ttl}
}

// Get implements extractor.Cache.
func (c *ValkeyCache) Get(ctx context.Context, key string) (extractor.ExtractedDocument, bool, error) {
	payload, err := c.client.Do(ctx, c.client.B().Get().Key(c.entryKey(key)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return extractor.ExtractedDocument{}, false, nil
		}
		return extractor.ExtractedDocument{}, false, err
	}
	var doc extractor.ExtractedDocument
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return extractor.ExtractedDocument{}, false, err
	}
	return doc, true, nil
}

// Put implements extractor.Cache.
func (c *ValkeyCache) Put(ctx context.Context, doc extractor.ExtractedDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	builder := c.client.B().Set().Key(c.entryKey(doc.Key)).Value(string(payload))
	var cmd valkey.Completed
	if c.ttl > 0 {
		ttl := c.ttl
		if ttl < time.Second {
			ttl = time.Second
		}
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}
	return c.client.Do(ctx, cmd).Error()
}

func (c *ValkeyCache) entryKey(key string) string {
	return c.prefix + ":doc:" + key
}

var _ extractor.Cache = (*ValkeyCache)(nil)
