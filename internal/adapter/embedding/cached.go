package embedding

import (
	"context"
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"

	"mnemo/internal/domain"
)

// CachedEmbedder wraps a domain.EmbeddingProvider with an LRU cache for
// single-text calls (record writes and search queries). Batch calls pass
// through uncached.
type CachedEmbedder struct {
	inner domain.EmbeddingProvider
	cache *lru.Cache[uint64, []float32]
}

// NewCachedEmbedder wraps inner with an LRU embedding cache of maxSize
// entries. If maxSize <= 0, the inner provider is returned directly.
func NewCachedEmbedder(inner domain.EmbeddingProvider, maxSize int) domain.EmbeddingProvider {
	if maxSize <= 0 {
		return inner
	}
	cache, err := lru.New[uint64, []float32](maxSize)
	if err != nil {
		// Only reachable with a non-positive size, handled above.
		return inner
	}
	return &CachedEmbedder{inner: inner, cache: cache}
}

// Embed implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return c.inner.Embed(ctx, texts)
	}

	key := hashText(texts[0])
	if vec, ok := c.cache.Get(key); ok {
		return [][]float32{vec}, nil
	}

	result, err := c.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(result) == 1 {
		c.cache.Add(key, result[0])
	}
	return result, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (c *CachedEmbedder) Name() string { return c.inner.Name() }

func hashText(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s)) //nolint:errcheck
	return h.Sum64()
}
