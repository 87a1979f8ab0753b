package index

import (
	"context"
	"fmt"
	"log"

	"github.com/dgraph-io/ristretto"
)

// CachingEmbedder wraps an Embedder with a ristretto cache keyed by the
// exact input text. Refinement turns re-embed the same query text often, so
// hits here skip the embedding backend entirely.
type CachingEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachingEmbedder wraps inner with a cache holding up to maxEntries
// embeddings. maxEntries <= 0 falls back to 4096.
func NewCachingEmbedder(inner Embedder, maxEntries int64) (*CachingEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachingEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns a cached vector when available, otherwise delegates and
// caches the result. Failures are never cached.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if val, ok := c.cache.Get(text); ok {
		if vec, ok := val.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if !c.cache.Set(text, vec, 1) {
		log.Printf("[INDEX] embedding cache rejected entry (len=%d)", len(text))
	}
	return vec, nil
}

// Dimensions returns the wrapped embedder's vector size.
func (c *CachingEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Close releases the cache.
func (c *CachingEmbedder) Close() {
	c.cache.Close()
}
