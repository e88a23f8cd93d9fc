// Command mnemo runs the semantic memory store as an MCP stdio server.
// Agents connect over stdio and use the memory_store, memory_retrieve and
// memory_context tools; a background scheduler reclassifies memory tiers.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"mnemo/internal/adapter/concepts"
	"mnemo/internal/adapter/embedding"
	"mnemo/internal/adapter/mcpserver"
	"mnemo/internal/adapter/persistence/sparql"
	"mnemo/internal/adapter/persistence/sqlite"
	"mnemo/internal/core/store"
	"mnemo/internal/domain"
	"mnemo/internal/infra/config"
	"mnemo/internal/infra/logger"
	"mnemo/internal/infra/tracer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`mnemo - semantic memory store for AI agents

USAGE:
    mnemo [FLAGS]

Runs an MCP server on stdio exposing three tools:
    memory_store      persist a prompt/response exchange
    memory_retrieve   semantic search with decay-adjusted ranking
    memory_context    recently accessed interactions

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: MNEMO_* variables override config`)
}

func configPath() string {
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--config" && i+1 < len(os.Args):
			return os.Args[i+1]
		case strings.HasPrefix(os.Args[i], "--config="):
			return strings.TrimPrefix(os.Args[i], "--config=")
		}
	}
	return "./config.yaml"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Persistence gateway
	gateway, err := buildGateway(cfg, log)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer gateway.Close()

	// 4. Embedding provider with decorators
	embedder, err := buildEmbedder(cfg, log)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	// 5. Memory store
	opts := []store.Option{}
	if cfg.Concepts.Enabled {
		opts = append(opts, store.WithConceptExtractor(concepts.New(
			concepts.WithModel(cfg.Concepts.Model),
			concepts.WithBaseURL(cfg.Concepts.BaseURL),
		)))
	}
	st := store.New(gateway, embedder, log, store.Config{
		DecayRate:           cfg.Memory.DecayRate,
		PromotionThreshold:  cfg.Memory.PromotionThreshold,
		SimilarityThreshold: cfg.Memory.SimilarityThreshold,
		OversampleFactor:    cfg.Memory.OversampleFactor,
		ContextWindowSize:   cfg.Memory.ContextWindowSize,
		Dimensions:          cfg.Embedding.Dimensions,
		SpreadingActivation: cfg.Memory.SpreadingActivation,
	}, opts...)

	if err := st.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	log.Info("memory store ready",
		"records", st.Len(),
		"indexed", st.IndexSize(),
		"backend", cfg.Storage.Backend,
		"provider", embedder.Name(),
	)

	// 6. Tier classification scheduler
	scheduler := cron.New()
	if cfg.Scheduler.ClassifySchedule != "" {
		_, err := scheduler.AddFunc(cfg.Scheduler.ClassifySchedule, func() {
			cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if promoted := st.Classify(cctx); promoted > 0 {
				log.Info("classification pass", "promoted", promoted)
			}
		})
		if err != nil {
			return fmt.Errorf("scheduler: invalid schedule %q: %w", cfg.Scheduler.ClassifySchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// 7. MCP stdio server, blocks until the client disconnects
	srv := mcpserver.New(st, log)
	log.Info("serving MCP on stdio")
	if err := srv.ServeStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	log.Info("shutting down")
	return nil
}

// buildGateway constructs the configured persistence backend.
func buildGateway(cfg *config.Config, log *slog.Logger) (domain.RecordGateway, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return sqlite.New(cfg.Storage.SQLite.Path, log)
	case "sparql":
		var opts []sparql.Option
		if cfg.Storage.SPARQL.Username != "" {
			opts = append(opts, sparql.WithBasicAuth(cfg.Storage.SPARQL.Username, cfg.Storage.SPARQL.Password))
		}
		return sparql.New(
			cfg.Storage.SPARQL.QueryEndpoint,
			cfg.Storage.SPARQL.UpdateEndpoint,
			cfg.Storage.SPARQL.Graph,
			log,
			opts...,
		), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Storage.Backend)
	}
}

// buildEmbedder constructs the provider and wraps it with rate limiting,
// circuit breaking and caching, innermost first.
func buildEmbedder(cfg *config.Config, log *slog.Logger) (domain.EmbeddingProvider, error) {
	var provider domain.EmbeddingProvider
	switch cfg.Embedding.Provider {
	case "ollama":
		opts := []embedding.OllamaOption{
			embedding.WithOllamaModel(cfg.Embedding.Model),
			embedding.WithOllamaDimensions(cfg.Embedding.Dimensions),
		}
		if cfg.Embedding.BaseURL != "" {
			opts = append(opts, embedding.WithOllamaBaseURL(cfg.Embedding.BaseURL))
		}
		provider = embedding.NewOllamaProvider(opts...)
	case "openai":
		if cfg.Embedding.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an api key")
		}
		opts := []embedding.OpenAIOption{
			embedding.WithOpenAIModel(cfg.Embedding.Model),
			embedding.WithOpenAIDimensions(cfg.Embedding.Dimensions),
		}
		if cfg.Embedding.BaseURL != "" {
			opts = append(opts, embedding.WithOpenAIBaseURL(cfg.Embedding.BaseURL))
		}
		provider = embedding.NewOpenAIProvider(cfg.Embedding.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Embedding.Provider)
	}

	provider = embedding.NewRateLimitedEmbedder(provider, cfg.Embedding.RequestsPerMin)
	provider = embedding.NewBreakerEmbedder(provider, cfg.Embedding.Breaker, log)
	provider = embedding.NewCachedEmbedder(provider, cfg.Embedding.CacheSize)
	return provider, nil
}
