package embedding

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/domain"
	"mnemo/internal/infra/config"
)

func TestBreakerEmbedderPassthrough(t *testing.T) {
	inner := &countingEmbedder{}
	b := NewBreakerEmbedder(inner, config.BreakerConfig{}, slog.New(slog.DiscardHandler))

	vecs, err := b.Embed(context.Background(), []string{"hi"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, inner.Dimensions(), b.Dimensions())
	assert.Equal(t, inner.Name(), b.Name())
}

func TestBreakerEmbedderOpensAfterFailures(t *testing.T) {
	inner := &countingEmbedder{fail: domain.ErrProviderUnavailable}
	b := NewBreakerEmbedder(inner, config.BreakerConfig{MaxFailures: 3}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Embed(ctx, []string{"x"})
		require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	}
	assert.Equal(t, 3, inner.callCount())

	// Circuit is now open; calls fail fast without hitting the provider.
	_, err := b.Embed(ctx, []string{"x"})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, 3, inner.callCount())
}

func TestBreakerEmbedderRecovers(t *testing.T) {
	inner := &countingEmbedder{}
	b := NewBreakerEmbedder(inner, config.BreakerConfig{MaxFailures: 2}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Embed(ctx, []string{"x"})
		require.NoError(t, err)
	}
	assert.Equal(t, 5, inner.callCount())
}
