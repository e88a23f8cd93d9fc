package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"mnemo/internal/domain"
	"mnemo/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerEmbedder wraps an EmbeddingProvider with circuit breaker
// protection. When the wrapped provider fails repeatedly, the circuit opens
// and subsequent calls fail fast without reaching the provider, preventing
// retry storms against a struggling endpoint.
type BreakerEmbedder struct {
	inner   domain.EmbeddingProvider
	breaker *gobreaker.CircuitBreaker[[][]float32]
}

// NewBreakerEmbedder wraps inner with a circuit breaker. Zero-valued config
// fields fall back to defaults.
func NewBreakerEmbedder(inner domain.EmbeddingProvider, cfg config.BreakerConfig, logger *slog.Logger) *BreakerEmbedder {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name:        "embedding:" + inner.Name(),
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &BreakerEmbedder{inner: inner, breaker: cb}
}

// Embed implements domain.EmbeddingProvider. Calls are routed through the
// circuit breaker; an open circuit reports ErrProviderUnavailable.
func (b *BreakerEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := b.breaker.Execute(func() ([][]float32, error) {
		return b.inner.Embed(ctx, texts)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, domain.WrapOp("circuit open", domain.ErrProviderUnavailable)
	}
	return result, err
}

// Dimensions implements domain.EmbeddingProvider.
func (b *BreakerEmbedder) Dimensions() int { return b.inner.Dimensions() }

// Name implements domain.EmbeddingProvider.
func (b *BreakerEmbedder) Name() string { return b.inner.Name() }
