package embedding

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/domain"
)

// countingEmbedder is a deterministic provider that counts calls.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail != nil {
		return nil, c.fail
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int { return 2 }
func (c *countingEmbedder) Name() string    { return "counting" }

func (c *countingEmbedder) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestCachedEmbedderHit(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 8)
	ctx := context.Background()

	first, err := cached.Embed(ctx, []string{"hello"})
	require.NoError(t, err)
	second, err := cached.Embed(ctx, []string{"hello"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.callCount(), "second call must hit the cache")
}

func TestCachedEmbedderBatchPassthrough(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 8)
	ctx := context.Background()

	_, err := cached.Embed(ctx, []string{"a", "b"})
	require.NoError(t, err)
	_, err = cached.Embed(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.callCount())
}

func TestCachedEmbedderEviction(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 1)
	ctx := context.Background()

	cached.Embed(ctx, []string{"a"}) //nolint:errcheck
	cached.Embed(ctx, []string{"b"}) //nolint:errcheck  // evicts "a"
	cached.Embed(ctx, []string{"a"}) //nolint:errcheck
	assert.Equal(t, 3, inner.callCount())
}

func TestCachedEmbedderErrorNotCached(t *testing.T) {
	inner := &countingEmbedder{fail: domain.ErrProviderUnavailable}
	cached := NewCachedEmbedder(inner, 8)
	ctx := context.Background()

	_, err := cached.Embed(ctx, []string{"x"})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)

	inner.mu.Lock()
	inner.fail = nil
	inner.mu.Unlock()

	_, err = cached.Embed(ctx, []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.callCount())
}

func TestCachedEmbedderDisabled(t *testing.T) {
	inner := &countingEmbedder{}
	assert.Equal(t, domain.EmbeddingProvider(inner), NewCachedEmbedder(inner, 0))
}
