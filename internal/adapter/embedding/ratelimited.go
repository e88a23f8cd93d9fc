package embedding

import (
	"context"

	"golang.org/x/time/rate"

	"mnemo/internal/domain"
)

// RateLimitedEmbedder throttles calls to the wrapped provider. Waiting
// respects the caller's context, so a cancelled retrieval never queues
// behind the limiter.
type RateLimitedEmbedder struct {
	inner   domain.EmbeddingProvider
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps inner with a requests-per-minute limit.
// If requestsPerMin <= 0, the inner provider is returned directly.
func NewRateLimitedEmbedder(inner domain.EmbeddingProvider, requestsPerMin int) domain.EmbeddingProvider {
	if requestsPerMin <= 0 {
		return inner
	}
	burst := requestsPerMin / 4
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerMin)/60.0, burst),
	}
}

// Embed implements domain.EmbeddingProvider.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, classifyTransportError(err)
	}
	return r.inner.Embed(ctx, texts)
}

// Dimensions implements domain.EmbeddingProvider.
func (r *RateLimitedEmbedder) Dimensions() int { return r.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (r *RateLimitedEmbedder) Name() string { return r.inner.Name() }
