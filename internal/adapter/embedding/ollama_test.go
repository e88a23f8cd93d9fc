package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/domain"
)

func TestOllamaProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Input, 2)

		resp := ollamaEmbedResponse{Embeddings: [][]float32{{0.1, 0.2}, {0.3, 0.4}}}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewOllamaProvider(
		WithOllamaBaseURL(srv.URL),
		WithOllamaModel("test-model"),
		WithOllamaDimensions(2),
	)

	vecs, err := p.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{0.1, 0.2}, vecs[0])
	assert.Equal(t, []float32{0.3, 0.4}, vecs[1])
	assert.Equal(t, 2, p.Dimensions())
	assert.Equal(t, "ollama", p.Name())
}

func TestOllamaProviderEmptyInput(t *testing.T) {
	p := NewOllamaProvider()
	vecs, err := p.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestOllamaProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllamaProvider(WithOllamaBaseURL(srv.URL))
	_, err := p.Embed(context.Background(), []string{"x"})
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestOllamaProviderCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1}}}) //nolint:errcheck
	}))
	defer srv.Close()

	p := NewOllamaProvider(WithOllamaBaseURL(srv.URL))
	_, err := p.Embed(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, domain.ErrEmbeddingFailed)
}

func TestOllamaProviderTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	p := NewOllamaProvider(WithOllamaBaseURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Embed(ctx, []string{"x"})
	require.ErrorIs(t, err, domain.ErrProviderTimeout)
}

func TestRateLimitedEmbedderDisabled(t *testing.T) {
	inner := &countingEmbedder{}
	assert.Equal(t, domain.EmbeddingProvider(inner), NewRateLimitedEmbedder(inner, 0))
}

func TestRateLimitedEmbedderCancelledContext(t *testing.T) {
	inner := &countingEmbedder{}
	limited := NewRateLimitedEmbedder(inner, 60)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limited.Embed(ctx, []string{"x"})
	require.Error(t, err)
	assert.Equal(t, 0, inner.callCount())
}
