package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"mnemo/internal/core/activation"
	"mnemo/internal/core/decay"
	"mnemo/internal/core/index"
	"mnemo/internal/domain"
	"mnemo/internal/infra/tracer"
)

// Result is one ranked retrieval hit.
type Result struct {
	Interaction domain.Interaction
	Score       float64 // decay/reinforcement adjusted score
	Similarity  float64 // raw similarity, 0-100
	Activated   bool    // pulled in by concept overlap, not direct similarity
}

// candidate is a record considered during one retrieval cycle. Everything is
// computed on a copy taken under the read lock; reinforcement mutates the
// live record only at commit time.
type candidate struct {
	rec       domain.Interaction
	raw       float64
	score     float64
	activated bool
}

// Retrieve embeds the query, searches the similarity index with an
// oversampled candidate count, applies the decay/reinforcement adjustment,
// filters by threshold, and returns at most limit results in descending
// adjusted-score order.
//
// Completing the call commits reinforcement: selected records are touched
// (access count, timestamp, decay factor), candidates that lost out are
// weakened. A cancelled call commits nothing. An empty store or an
// over-strict threshold yields an empty result, not an error. A negative
// threshold selects the configured default.
func (s *Store) Retrieve(ctx context.Context, query string, limit int, threshold float64) ([]Result, error) {
	ctx, span := tracer.StartSpan(ctx, "memory.retrieve")
	defer span.End()

	if limit <= 0 {
		limit = 10
	}
	if threshold < 0 {
		threshold = s.cfg.SimilarityThreshold
	}
	if s.embedder == nil {
		return nil, domain.WrapOp("retrieve", fmt.Errorf("%w: no embedding provider configured", domain.ErrProviderUnavailable))
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("retrieve", err)
	}
	if len(vecs) == 0 {
		return nil, domain.WrapOp("retrieve", fmt.Errorf("%w: provider returned no vector", domain.ErrEmbeddingFailed))
	}
	queryVec := vecs[0]
	if err := index.ValidateEmbedding(queryVec, s.cfg.Dimensions); err != nil {
		return nil, domain.WrapOp("retrieve", err)
	}

	now := s.clock()

	candidates, corrupt := s.collectCandidates(queryVec, limit, now)
	if corrupt != nil {
		s.markCorrupt(corrupt)
		tracer.RecordError(span, corrupt)
		return nil, domain.WrapOp("retrieve", corrupt)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	selected := make([]Result, 0, limit)
	selectedIDs := make(map[string]struct{}, limit)
	for _, c := range candidates {
		if len(selected) == limit {
			break
		}
		if c.score < threshold {
			continue
		}
		selected = append(selected, Result{
			Interaction: c.rec,
			Score:       c.score,
			Similarity:  c.raw,
			Activated:   c.activated,
		})
		selectedIDs[c.rec.ID] = struct{}{}
	}

	// A cancelled retrieval must not mutate reinforcement state.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.commitReinforcement(ctx, candidates, selectedIDs, now)

	span.SetAttributes(
		tracer.IntAttr("candidates", len(candidates)),
		tracer.IntAttr("results", len(selected)),
	)
	return selected, nil
}

// collectCandidates snapshots the retrieval candidate set under the read
// lock: the oversampled nearest slots resolved to record copies, plus the
// concept-overlap widening pass. A duplicate resolved id is an invariant
// violation and is returned as corruption; an unresolvable slot (stale hit
// from a racing write) is skipped rather than aborting the query.
func (s *Store) collectCandidates(queryVec []float32, limit int, now time.Time) ([]candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.idx.Size() == 0 {
		return nil, nil
	}

	k := limit * s.cfg.OversampleFactor
	if k > s.idx.Size() {
		k = s.idx.Size()
	}
	hits := s.idx.Search(queryVec, k)

	candidates := make([]candidate, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, hit := range hits {
		id, err := s.idx.Resolve(hit.Slot)
		if err != nil {
			s.logger.Warn("skipping unresolvable similarity hit", "slot", hit.Slot, "error", err)
			continue
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: record %s resolved from multiple slots", domain.ErrIndexCorruption, id)
		}
		seen[id] = struct{}{}

		rec, ok := s.records[id]
		if !ok {
			return nil, fmt.Errorf("%w: slot %d maps to unknown record %s", domain.ErrIndexCorruption, hit.Slot, id)
		}
		candidates = append(candidates, candidate{
			rec:   *rec,
			raw:   hit.Similarity,
			score: decay.AdjustedScore(hit.Similarity, *rec, now, s.cfg.DecayRate),
		})
	}

	if s.cfg.SpreadingActivation {
		candidates = append(candidates, s.activationPass(queryVec, candidates, seen, now)...)
	}
	return candidates, nil
}

// activationPass widens the candidate set: records sharing at least one
// concept with a top-ranked direct hit are scored against the query at a
// secondary weight. Additive refinement only; never removes direct hits.
// Caller holds the read lock.
func (s *Store) activationPass(queryVec []float32, direct []candidate, exclude map[string]struct{}, now time.Time) []candidate {
	if len(direct) == 0 {
		return nil
	}

	// Seed from the best-scored direct hits.
	top := make([]candidate, len(direct))
	copy(top, direct)
	sort.SliceStable(top, func(i, j int) bool { return top[i].score > top[j].score })
	const seedCount = 3
	var concepts []string
	for i := 0; i < len(top) && i < seedCount; i++ {
		concepts = append(concepts, top[i].rec.Concepts...)
	}
	if len(concepts) == 0 {
		return nil
	}

	var widened []candidate
	for _, id := range s.graph.Related(concepts, exclude) {
		rec, ok := s.records[id]
		if !ok {
			continue
		}
		slot, indexed := s.idx.Locate(id)
		if !indexed {
			continue
		}
		raw := s.idx.SimilarityAt(slot, queryVec)
		if raw == 0 {
			continue
		}
		exclude[id] = struct{}{}
		widened = append(widened, candidate{
			rec:       *rec,
			raw:       raw,
			score:     decay.AdjustedScore(raw, *rec, now, s.cfg.DecayRate) * activation.SecondaryWeight,
			activated: true,
		})
	}
	return widened
}

// commitReinforcement applies the access bookkeeping for a completed
// retrieval under the writer lock: selected records are touched, the rest of
// the candidate set is weakened. Only the candidates of this cycle are
// affected, never the whole table. Persistence of the mutations is
// best-effort; the in-memory state is authoritative until the next rebuild.
func (s *Store) commitReinforcement(ctx context.Context, candidates []candidate, selected map[string]struct{}, now time.Time) {
	s.mu.Lock()
	updated := make([]domain.Interaction, 0, len(candidates))
	for _, c := range candidates {
		rec, ok := s.records[c.rec.ID]
		if !ok {
			continue
		}
		if _, hit := selected[c.rec.ID]; hit {
			rec.Touch(now)
		} else {
			rec.Weaken()
		}
		updated = append(updated, *rec)
	}
	s.mu.Unlock()

	for _, rec := range updated {
		if err := s.gateway.UpdateRecord(ctx, rec); err != nil {
			s.logger.Warn("failed to persist reinforcement update", "id", rec.ID, "error", err)
		}
	}
}
