// Package config loads the mnemo configuration from YAML with defaults and
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Memory    MemoryConfig    `yaml:"memory"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Concepts  ConceptsConfig  `yaml:"concepts"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// MemoryConfig holds the scoring and retrieval tuning surface.
type MemoryConfig struct {
	DecayRate           float64 `yaml:"decay_rate"`           // per-second exponential rate
	PromotionThreshold  int     `yaml:"promotion_threshold"`  // accesses before long-term promotion
	SimilarityThreshold float64 `yaml:"similarity_threshold"` // 0-100 scale
	OversampleFactor    int     `yaml:"oversample_factor"`    // candidate multiplier before filtering
	ContextWindowSize   int     `yaml:"context_window_size"`  // recent interactions for prompt assembly
	SpreadingActivation bool    `yaml:"spreading_activation"` // concept-graph candidate widening
}

// StorageConfig selects and configures the persistence gateway.
type StorageConfig struct {
	Backend string       `yaml:"backend"` // "sqlite" or "sparql"
	SQLite  SQLiteConfig `yaml:"sqlite"`
	SPARQL  SPARQLConfig `yaml:"sparql"`
}

// SQLiteConfig holds the local database settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// SPARQLConfig holds the remote triple-store endpoints.
type SPARQLConfig struct {
	QueryEndpoint  string `yaml:"query_endpoint"`
	UpdateEndpoint string `yaml:"update_endpoint"`
	Graph          string `yaml:"graph"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
}

// EmbeddingConfig holds text embedding provider settings.
type EmbeddingConfig struct {
	Provider       string        `yaml:"provider"` // "ollama", "openai"
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Dimensions     int           `yaml:"dimensions"`
	CacheSize      int           `yaml:"cache_size"`       // LRU entries; 0 disables caching
	RequestsPerMin int           `yaml:"requests_per_min"` // 0 disables rate limiting
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around provider calls.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ConceptsConfig holds concept extraction settings.
type ConceptsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// SchedulerConfig holds the periodic maintenance settings.
type SchedulerConfig struct {
	ClassifySchedule string `yaml:"classify_schedule"` // cron expression, e.g. "@every 5m"
}

// defaultDataDir returns the persistent data directory under $HOME/.mnemo.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".mnemo")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Memory: MemoryConfig{
			DecayRate:           0.0001,
			PromotionThreshold:  10,
			SimilarityThreshold: 40,
			OversampleFactor:    2,
			ContextWindowSize:   3,
			SpreadingActivation: true,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			SQLite: SQLiteConfig{
				Path: filepath.Join(dataDir, "memory.db"),
			},
			SPARQL: SPARQLConfig{
				Graph: "http://mnemo.local/memory",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			Model:      "nomic-embed-text",
			BaseURL:    "http://localhost:11434",
			Dimensions: 768,
			CacheSize:  256,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Concepts: ConceptsConfig{
			Enabled: false,
			Model:   "llama3.2",
			BaseURL: "http://localhost:11434",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Scheduler: SchedulerConfig{
			ClassifySchedule: "@every 5m",
		},
	}
}

// Load reads YAML configuration from path, layered over Defaults and under
// environment overrides. A missing file is not an error: defaults plus the
// environment apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps MNEMO_* environment variables onto the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MNEMO_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLite.Path = v
	}
	if v := os.Getenv("MNEMO_SPARQL_QUERY"); v != "" {
		cfg.Storage.Backend = "sparql"
		cfg.Storage.SPARQL.QueryEndpoint = v
	}
	if v := os.Getenv("MNEMO_SPARQL_UPDATE"); v != "" {
		cfg.Storage.SPARQL.UpdateEndpoint = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("MNEMO_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MNEMO_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Embedding.Dimensions = n
		}
	}
}

// Validate rejects configurations the store cannot run with.
func (c *Config) Validate() error {
	if c.Memory.DecayRate < 0 {
		return fmt.Errorf("config: memory.decay_rate must be >= 0, got %v", c.Memory.DecayRate)
	}
	if c.Memory.PromotionThreshold < 1 {
		return fmt.Errorf("config: memory.promotion_threshold must be >= 1, got %d", c.Memory.PromotionThreshold)
	}
	if c.Memory.SimilarityThreshold < 0 || c.Memory.SimilarityThreshold > 100 {
		return fmt.Errorf("config: memory.similarity_threshold must be in [0,100], got %v", c.Memory.SimilarityThreshold)
	}
	if c.Memory.OversampleFactor < 1 {
		return fmt.Errorf("config: memory.oversample_factor must be >= 1, got %d", c.Memory.OversampleFactor)
	}
	if c.Embedding.Dimensions < 1 {
		return fmt.Errorf("config: embedding.dimensions must be >= 1, got %d", c.Embedding.Dimensions)
	}
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("config: storage.sqlite.path is required")
		}
	case "sparql":
		if c.Storage.SPARQL.QueryEndpoint == "" || c.Storage.SPARQL.UpdateEndpoint == "" {
			return fmt.Errorf("config: storage.sparql endpoints are required")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
