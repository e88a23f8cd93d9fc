package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/core/store"
	"mnemo/internal/domain"
)

type memGateway struct {
	records []domain.Interaction
}

func (g *memGateway) WriteRecord(_ context.Context, rec domain.Interaction) error {
	g.records = append(g.records, rec)
	return nil
}

func (g *memGateway) UpdateRecord(_ context.Context, rec domain.Interaction) error {
	for i := range g.records {
		if g.records[i].ID == rec.ID {
			g.records[i] = rec
			return nil
		}
	}
	return domain.ErrNotFound
}

func (g *memGateway) ReadAllRecords(_ context.Context) ([]domain.Interaction, error) {
	return g.records, nil
}

func (g *memGateway) Close() error { return nil }

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0.5, 0, 0}
	}
	return out, nil
}

func (constEmbedder) Dimensions() int { return 4 }
func (constEmbedder) Name() string    { return "const" }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.New(&memGateway{}, constEmbedder{}, slog.New(slog.DiscardHandler), store.Config{
		SimilarityThreshold: 40,
	})
	return New(st, slog.New(slog.DiscardHandler))
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	tc, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return tc.Text
}

func TestHandleStoreAndRetrieve(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleStore(ctx, callRequest("memory_store", map[string]any{
		"prompt": "what is a goroutine?",
		"output": "a lightweight thread managed by the runtime",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var stored storedRecord
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &stored))
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, string(domain.TierShortTerm), stored.Tier)
	assert.True(t, stored.Indexed)

	result, err = s.handleRetrieve(ctx, callRequest("memory_retrieve", map[string]any{
		"query": "goroutines",
		"limit": float64(3),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var hits []retrievedRecord
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, stored.ID, hits[0].ID)
	assert.Equal(t, 2, hits[0].AccessCount)
}

func TestHandleStoreMissingArgument(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleStore(context.Background(), callRequest("memory_store", map[string]any{
		"prompt": "no output given",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleContextWindow(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	for _, prompt := range []string{"first", "second", "third"} {
		_, err := s.handleStore(ctx, callRequest("memory_store", map[string]any{
			"prompt": prompt,
			"output": "ok",
		}))
		require.NoError(t, err)
	}

	result, err := s.handleContext(ctx, callRequest("memory_context", map[string]any{
		"count": float64(2),
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var window []contextRecord
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &window))
	assert.Len(t, window, 2)
}
