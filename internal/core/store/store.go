// Package store composes the record table, the vector index synchronizer,
// the decay engine, and the concept graph into the hybrid semantic memory
// store: store(record) and retrieve(query) with decay-adjusted ranking and
// access reinforcement.
package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mnemo/internal/core/activation"
	"mnemo/internal/core/decay"
	"mnemo/internal/core/index"
	"mnemo/internal/domain"
	"mnemo/internal/infra/tracer"
)

// Config is the tuning surface of the memory store.
type Config struct {
	DecayRate           float64 // per-second exponential decay rate
	PromotionThreshold  int     // accesses before long-term promotion
	SimilarityThreshold float64 // default retrieval threshold, 0-100
	OversampleFactor    int     // candidate multiplier before post-filtering
	ContextWindowSize   int     // size of the recent-interaction window
	Dimensions          int     // embedding dimension, deployment-fixed
	SpreadingActivation bool    // widen candidates via concept overlap
}

func (c Config) withDefaults() Config {
	if c.DecayRate == 0 {
		c.DecayRate = decay.DefaultRate
	}
	if c.PromotionThreshold == 0 {
		c.PromotionThreshold = 10
	}
	if c.OversampleFactor < 1 {
		c.OversampleFactor = 2
	}
	if c.ContextWindowSize < 1 {
		c.ContextWindowSize = 3
	}
	return c
}

// Store is the hybrid semantic memory store. Any number of concurrent
// readers are allowed; writers (Store, Rebuild, Classify, and the retrieval
// completion path that commits reinforcement) serialize on a single lock
// covering the record table, the index mapping pair, and the concept graph
// as one unit.
type Store struct {
	cfg       Config
	gateway   domain.RecordGateway
	embedder  domain.EmbeddingProvider // nil: records stored unembedded, retrieval unavailable
	extractor domain.ConceptExtractor  // nil: no concept extraction
	logger    *slog.Logger
	clock     func() time.Time

	mu      sync.RWMutex
	records map[string]*domain.Interaction
	order   []string // persistent write order, mirrors the gateway
	idx     *index.Synchronizer
	graph   *activation.Graph
	halted  bool // writes rejected after corruption, until Rebuild
}

// Option customizes a Store.
type Option func(*Store)

// WithConceptExtractor enables best-effort concept extraction on store().
func WithConceptExtractor(e domain.ConceptExtractor) Option {
	return func(s *Store) { s.extractor = e }
}

// WithClock overrides the time source. Tests use this to control decay.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New creates a memory store over the given gateway. The store is empty;
// call Rebuild to hydrate it from persistence.
func New(gateway domain.RecordGateway, embedder domain.EmbeddingProvider, logger *slog.Logger, cfg Config, opts ...Option) *Store {
	cfg = cfg.withDefaults()
	if cfg.Dimensions == 0 && embedder != nil {
		cfg.Dimensions = embedder.Dimensions()
	}
	s := &Store{
		cfg:      cfg,
		gateway:  gateway,
		embedder: embedder,
		logger:   logger,
		clock:    time.Now,
		records:  make(map[string]*domain.Interaction),
		idx:      index.New(cfg.Dimensions),
		graph:    activation.NewGraph(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Input is the payload of a store() call. Embedding and Concepts are
// optional: when absent they are generated through the collaborators.
type Input struct {
	Prompt    string
	Output    string
	Embedding []float32
	Concepts  []string
}

// Store persists a new interaction and makes it searchable. Embedding and
// concept generation are best-effort: a failed provider call stores the
// record unembedded (unindexed but durable). A failed gateway write fails
// the whole call and mutates nothing in memory.
func (s *Store) Store(ctx context.Context, in Input) (domain.Interaction, error) {
	ctx, span := tracer.StartSpan(ctx, "memory.store")
	defer span.End()

	if s.isHalted() {
		return domain.Interaction{}, domain.WrapOp("store", domain.ErrWritesHalted)
	}

	embedding := in.Embedding
	if embedding == nil && s.embedder != nil {
		vecs, err := s.embedder.Embed(ctx, []string{in.Prompt + "\n" + in.Output})
		if err != nil {
			s.logger.Warn("embedding failed, storing record unindexed", "error", err)
		} else if len(vecs) > 0 {
			embedding = vecs[0]
		}
	}

	concepts := in.Concepts
	if concepts == nil && s.extractor != nil {
		extracted, err := s.extractor.Extract(ctx, in.Prompt+"\n"+in.Output)
		if err != nil {
			s.logger.Warn("concept extraction failed", "error", err)
		} else {
			concepts = extracted
		}
	}

	rec := domain.NewInteraction(in.Prompt, in.Output, embedding, concepts, s.clock())

	if err := s.gateway.WriteRecord(ctx, rec); err != nil {
		tracer.RecordError(span, err)
		return domain.Interaction{}, domain.WrapOp("store", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		// Corruption surfaced while we were persisting. The record is
		// durable and will appear after the rebuild; the table stays
		// untouched so the mapping invariant is not stretched further.
		return domain.Interaction{}, domain.WrapOp("store", domain.ErrWritesHalted)
	}

	s.records[rec.ID] = &rec
	s.order = append(s.order, rec.ID)
	if _, err := s.idx.Append(rec); err != nil {
		s.logger.Debug("record not indexed", "id", rec.ID, "reason", err)
	}
	s.graph.Add(rec.ID, rec.Concepts)

	return rec, nil
}

// Rebuild discards all in-memory state and re-derives it from the gateway in
// persistent order, re-validating every record and embedding. Malformed
// records are skipped with a warning. A successful rebuild clears the
// corruption halt. Runs exclusively: no append or retrieve commits overlap.
func (s *Store) Rebuild(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, "memory.rebuild")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.gateway.ReadAllRecords(ctx)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.WrapOp("rebuild", err)
	}

	s.records = make(map[string]*domain.Interaction, len(all))
	s.order = s.order[:0]
	s.graph.Reset()

	valid := make([]domain.Interaction, 0, len(all))
	for _, rec := range all {
		if err := rec.Validate(); err != nil {
			s.logger.Warn("skipping malformed record", "id", rec.ID, "error", err)
			continue
		}
		if _, dup := s.records[rec.ID]; dup {
			s.logger.Warn("skipping duplicate record id", "id", rec.ID)
			continue
		}
		rec := rec
		s.records[rec.ID] = &rec
		s.order = append(s.order, rec.ID)
		s.graph.Add(rec.ID, rec.Concepts)
		valid = append(valid, rec)
	}
	s.idx.Rebuild(valid)
	s.halted = false

	span.SetAttributes(tracer.IntAttr("records", len(s.order)), tracer.IntAttr("indexed", s.idx.Size()))
	s.logger.Info("memory rebuilt", "records", len(s.order), "indexed", s.idx.Size())
	return nil
}

// Classify promotes every short-term record whose access count has exceeded
// the promotion threshold. Idempotent; promotion is monotonic. Safe to run
// concurrently with reads.
func (s *Store) Classify(ctx context.Context) int {
	_, span := tracer.StartSpan(ctx, "memory.classify")
	defer span.End()

	s.mu.Lock()
	var promoted []domain.Interaction
	for _, id := range s.order {
		rec := s.records[id]
		if rec.Tier == domain.TierShortTerm && rec.AccessCount > s.cfg.PromotionThreshold {
			rec.Promote()
			promoted = append(promoted, *rec)
		}
	}
	s.mu.Unlock()

	for _, rec := range promoted {
		if err := s.gateway.UpdateRecord(ctx, rec); err != nil {
			s.logger.Warn("failed to persist promotion", "id", rec.ID, "error", err)
		}
	}
	if len(promoted) > 0 {
		s.logger.Info("promoted to long-term", "count", len(promoted))
	}
	span.SetAttributes(tracer.IntAttr("promoted", len(promoted)))
	return len(promoted)
}

// LastAccessed returns the n most recently touched interactions, newest
// first. n <= 0 uses the configured context window size.
func (s *Store) LastAccessed(n int) []domain.Interaction {
	if n <= 0 {
		n = s.cfg.ContextWindowSize
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Interaction, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sortByTimestampDesc(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Get returns a copy of the record with the given id.
func (s *Store) Get(id string) (domain.Interaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.Interaction{}, false
	}
	return *rec, true
}

// Len returns the number of records in the table.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// IndexSize returns the number of indexed vectors; always <= Len().
func (s *Store) IndexSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Size()
}

// Locate reports the similarity-index slot of a record, or false if the
// record was never indexed.
func (s *Store) Locate(id string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Locate(id)
}

func (s *Store) isHalted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.halted
}

// markCorrupt records an invariant violation: writes stop until Rebuild.
func (s *Store) markCorrupt(err error) {
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
	s.logger.Error("index corruption detected, writes halted until rebuild", "error", err)
}

func sortByTimestampDesc(recs []domain.Interaction) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
}
