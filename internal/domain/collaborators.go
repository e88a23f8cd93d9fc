package domain

import "context"

// EmbeddingProvider is the interface for text embedding backends.
type EmbeddingProvider interface {
	// Embed generates embeddings for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the dimensionality of the embedding vectors.
	Dimensions() int
	// Name returns the provider's identifier (e.g., "ollama", "openai").
	Name() string
}

// ConceptExtractor returns the topic strings present in a text. Extraction is
// best-effort: callers degrade to an empty concept list on failure.
type ConceptExtractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// RecordGateway is the durability boundary for interactions. The in-memory
// store is a write-through cache of it and can always be rebuilt from
// ReadAllRecords. Implementations must round-trip the full record shape
// losslessly and preserve write order in ReadAllRecords.
type RecordGateway interface {
	// WriteRecord persists a new record. A duplicate id fails with
	// ErrWriteConflict; a transport failure with ErrStorageUnavailable.
	WriteRecord(ctx context.Context, in Interaction) error
	// UpdateRecord persists lifecycle mutations (timestamp, access count,
	// decay factor, tier) for an existing record.
	UpdateRecord(ctx context.Context, in Interaction) error
	// ReadAllRecords returns every record in original write order.
	ReadAllRecords(ctx context.Context) ([]Interaction, error)
	Close() error
}
