// Package index maintains the similarity index and the bidirectional
// position mapping between index slots and record identifiers.
//
// Invalid embeddings (wrong dimension, all-zero, non-finite) are skipped
// rather than padded with placeholder vectors, so slot numbers are NOT equal
// to record insertion order. The explicit slot<->record mapping is the
// load-bearing invariant of the whole store: after every mutation, for every
// record r with slot i, slotToID[i] == r and vectors[i] is exactly r's
// embedding.
package index

import (
	"fmt"
	"math"
	"sort"

	"github.com/viterin/vek/vek32"

	"mnemo/internal/domain"
)

// Synchronizer owns the vector slab and the mapping pair. It performs no
// internal locking: the store's single-writer lock covers the synchronizer
// and the record table together, so the pair always mutates as one atomic
// unit from a reader's point of view.
type Synchronizer struct {
	dim      int
	vectors  [][]float32
	norms    []float64
	slotToID []string
	idToSlot map[string]int
	rejected map[string]string // record id -> rejection reason
}

// Hit is one similarity match: a slot plus its raw similarity on the 0-100
// scale (cosine clamped at zero and scaled).
type Hit struct {
	Slot       int
	Similarity float64
}

// New creates an empty synchronizer for vectors of the given dimension.
func New(dim int) *Synchronizer {
	return &Synchronizer{
		dim:      dim,
		idToSlot: make(map[string]int),
		rejected: make(map[string]string),
	}
}

// ValidateEmbedding reports why a vector cannot be indexed, or nil if it can.
// A vector must match the configured dimension, contain only finite values,
// and have at least one non-zero component.
func ValidateEmbedding(vec []float32, dim int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: missing vector", domain.ErrInvalidEmbedding)
	}
	if len(vec) != dim {
		return fmt.Errorf("%w: dimension %d, want %d", domain.ErrInvalidEmbedding, len(vec), dim)
	}
	nonZero := false
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component", domain.ErrInvalidEmbedding)
		}
		if v != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return fmt.Errorf("%w: all-zero vector", domain.ErrInvalidEmbedding)
	}
	return nil
}

// Append validates the record's embedding and, if valid, appends it at slot
// Size() and records both directions of the mapping. Invalid embeddings are
// recorded as unindexed and leave the index untouched; the returned slot is
// -1 and the validation error describes the rejection. Slot numbers assigned
// here are only ever discarded by Rebuild.
func (s *Synchronizer) Append(in domain.Interaction) (int, error) {
	if err := ValidateEmbedding(in.Embedding, s.dim); err != nil {
		s.rejected[in.ID] = err.Error()
		return -1, err
	}

	slot := len(s.vectors)
	s.vectors = append(s.vectors, in.Embedding)
	s.norms = append(s.norms, norm(in.Embedding))
	s.slotToID = append(s.slotToID, in.ID)
	s.idToSlot[in.ID] = slot
	delete(s.rejected, in.ID)
	return slot, nil
}

// Rebuild re-derives the entire mapping pair from the records in persistent
// order, re-validating every embedding. It is the only operation allowed to
// discard prior slot assignments and must not run concurrently with Append;
// the store's writer lock enforces that.
func (s *Synchronizer) Rebuild(records []domain.Interaction) {
	s.vectors = s.vectors[:0]
	s.norms = s.norms[:0]
	s.slotToID = s.slotToID[:0]
	s.idToSlot = make(map[string]int, len(records))
	s.rejected = make(map[string]string)

	for _, in := range records {
		s.Append(in) //nolint:errcheck // rejection is recorded, not an error here
	}
}

// Resolve maps a similarity slot back to its record id. An out-of-bounds
// slot is an internal invariant violation, not a recoverable condition.
func (s *Synchronizer) Resolve(slot int) (string, error) {
	if slot < 0 || slot >= len(s.slotToID) {
		return "", fmt.Errorf("%w: slot %d out of range [0,%d)", domain.ErrIndexCorruption, slot, len(s.slotToID))
	}
	return s.slotToID[slot], nil
}

// Locate returns the slot holding the record's vector, or false if the
// record was never indexed (invalid or missing embedding).
func (s *Synchronizer) Locate(id string) (int, bool) {
	slot, ok := s.idToSlot[id]
	return slot, ok
}

// Rejected returns the recorded rejection reason for an unindexed record.
func (s *Synchronizer) Rejected(id string) (string, bool) {
	reason, ok := s.rejected[id]
	return reason, ok
}

// Size returns the number of indexed vectors.
func (s *Synchronizer) Size() int { return len(s.vectors) }

// Search returns the k most similar slots to the query vector, descending by
// similarity. Similarity is cosine mapped onto 0-100; negative cosines score
// zero and are dropped.
func (s *Synchronizer) Search(query []float32, k int) []Hit {
	if len(s.vectors) == 0 || k <= 0 {
		return nil
	}
	qn := norm(query)
	if qn == 0 {
		return nil
	}

	hits := make([]Hit, 0, len(s.vectors))
	for slot, vec := range s.vectors {
		if len(vec) != len(query) || s.norms[slot] == 0 {
			continue
		}
		cos := float64(vek32.Dot(query, vec)) / (qn * s.norms[slot])
		if cos <= 0 || math.IsNaN(cos) {
			continue
		}
		if cos > 1 {
			cos = 1 // float round-off
		}
		hits = append(hits, Hit{Slot: slot, Similarity: cos * 100})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// SimilarityAt returns the 0-100 similarity between the query and the vector
// at slot, or 0 when the slot is out of range or the cosine is non-positive.
// Used by the spreading-activation pass to score records pulled in by concept
// overlap rather than by the nearest-neighbor search.
func (s *Synchronizer) SimilarityAt(slot int, query []float32) float64 {
	if slot < 0 || slot >= len(s.vectors) {
		return 0
	}
	vec := s.vectors[slot]
	qn := norm(query)
	if qn == 0 || s.norms[slot] == 0 || len(vec) != len(query) {
		return 0
	}
	cos := float64(vek32.Dot(query, vec)) / (qn * s.norms[slot])
	if cos <= 0 || math.IsNaN(cos) {
		return 0
	}
	if cos > 1 {
		cos = 1
	}
	return cos * 100
}

func norm(vec []float32) float64 {
	return math.Sqrt(float64(vek32.Dot(vec, vec)))
}
