package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, 0.0001, cfg.Memory.DecayRate)
	assert.Equal(t, 10, cfg.Memory.PromotionThreshold)
	assert.Equal(t, 40.0, cfg.Memory.SimilarityThreshold)
	assert.Equal(t, 2, cfg.Memory.OversampleFactor)
	assert.Equal(t, 3, cfg.Memory.ContextWindowSize)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Memory, cfg.Memory)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
memory:
  decay_rate: 0.001
  promotion_threshold: 5
embedding:
  provider: openai
  model: text-embedding-3-small
  dimensions: 1536
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.001, cfg.Memory.DecayRate)
	assert.Equal(t, 5, cfg.Memory.PromotionThreshold)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	// untouched fields keep their defaults
	assert.Equal(t, 40.0, cfg.Memory.SimilarityThreshold)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad threshold", "memory:\n  similarity_threshold: 150\n"},
		{"bad oversample", "memory:\n  oversample_factor: 0\n"},
		{"bad backend", "storage:\n  backend: cassandra\n"},
		{"bad dimensions", "embedding:\n  dimensions: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "mnemo.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MNEMO_SQLITE_PATH", "/tmp/override.db")
	t.Setenv("MNEMO_LOG_LEVEL", "debug")
	t.Setenv("MNEMO_EMBEDDING_DIMENSIONS", "1024")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 1024, cfg.Embedding.Dimensions)
}
