package index

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/domain"
)

const dim = 4

func rec(id string, vec []float32) domain.Interaction {
	return domain.Interaction{
		ID:          id,
		Embedding:   vec,
		Timestamp:   time.Now(),
		AccessCount: 1,
		DecayFactor: 1.0,
		Tier:        domain.TierShortTerm,
	}
}

func TestAppendAssignsSequentialSlots(t *testing.T) {
	s := New(dim)

	slot, err := s.Append(rec("a", []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, 0, slot)

	slot, err = s.Append(rec("b", []float32{0, 1, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
	assert.Equal(t, 2, s.Size())
}

func TestMappingBidirectional(t *testing.T) {
	s := New(dim)
	records := []domain.Interaction{
		rec("a", []float32{1, 0, 0, 0}),
		rec("bad", []float32{0, 0, 0, 0}), // skipped
		rec("b", []float32{0, 1, 0, 0}),
		rec("c", []float32{0, 0, 1, 0}),
	}
	for _, r := range records {
		s.Append(r) //nolint:errcheck
	}

	for _, id := range []string{"a", "b", "c"} {
		slot, ok := s.Locate(id)
		require.True(t, ok, "record %s should be indexed", id)
		resolved, err := s.Resolve(slot)
		require.NoError(t, err)
		assert.Equal(t, id, resolved)
	}
}

func TestInvalidEmbeddingExcluded(t *testing.T) {
	cases := []struct {
		name string
		vec  []float32
	}{
		{"nil", nil},
		{"wrong dimension", []float32{1, 2}},
		{"all zero", []float32{0, 0, 0, 0}},
		{"nan", []float32{1, float32(math.NaN()), 0, 0}},
		{"inf", []float32{1, float32(math.Inf(1)), 0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := New(dim)
			s.Append(rec("ok", []float32{1, 0, 0, 0})) //nolint:errcheck

			slot, err := s.Append(rec("x", tc.vec))
			require.ErrorIs(t, err, domain.ErrInvalidEmbedding)
			assert.Equal(t, -1, slot)
			assert.Equal(t, 1, s.Size(), "index size must be unchanged")

			_, ok := s.Locate("x")
			assert.False(t, ok)
			reason, ok := s.Rejected("x")
			require.True(t, ok)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestSlotsDivergeFromInsertionOrder(t *testing.T) {
	s := New(dim)
	s.Append(rec("a", []float32{1, 0, 0, 0}))   //nolint:errcheck
	s.Append(rec("bad", []float32{0, 0}))       //nolint:errcheck
	s.Append(rec("b", []float32{0, 1, 0, 0}))   //nolint:errcheck

	// "b" is the third record but occupies slot 1.
	slot, ok := s.Locate("b")
	require.True(t, ok)
	assert.Equal(t, 1, slot)
}

func TestResolveOutOfRange(t *testing.T) {
	s := New(dim)
	s.Append(rec("a", []float32{1, 0, 0, 0})) //nolint:errcheck

	for _, slot := range []int{-1, 1, 99} {
		_, err := s.Resolve(slot)
		require.ErrorIs(t, err, domain.ErrIndexCorruption, "slot %d", slot)
	}
}

func TestRebuildIdempotent(t *testing.T) {
	records := []domain.Interaction{
		rec("a", []float32{1, 0, 0, 0}),
		rec("bad", []float32{0, 0, 0, 0}),
		rec("b", []float32{0, 1, 0, 0}),
	}

	s := New(dim)
	s.Rebuild(records)
	first := snapshot(t, s)

	s.Rebuild(records)
	second := snapshot(t, s)

	assert.Equal(t, first, second)
}

func TestRebuildDiscardsPriorAssignments(t *testing.T) {
	s := New(dim)
	s.Append(rec("a", []float32{1, 0, 0, 0})) //nolint:errcheck
	s.Append(rec("b", []float32{0, 1, 0, 0})) //nolint:errcheck

	// Rebuild from an order where "b" comes first.
	s.Rebuild([]domain.Interaction{
		rec("b", []float32{0, 1, 0, 0}),
		rec("a", []float32{1, 0, 0, 0}),
	})

	slot, ok := s.Locate("b")
	require.True(t, ok)
	assert.Equal(t, 0, slot)
	id, err := s.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, "a", id)
}

func TestSearchRanksByCosine(t *testing.T) {
	s := New(dim)
	s.Append(rec("x", []float32{1, 0, 0, 0}))       //nolint:errcheck
	s.Append(rec("y", []float32{0.9, 0.1, 0, 0}))   //nolint:errcheck
	s.Append(rec("z", []float32{0, 0, 1, 0}))       //nolint:errcheck
	s.Append(rec("neg", []float32{-1, 0, 0, 0}))    //nolint:errcheck

	hits := s.Search([]float32{1, 0, 0, 0}, 10)
	require.Len(t, hits, 2, "orthogonal and negative matches are dropped")

	top, err := s.Resolve(hits[0].Slot)
	require.NoError(t, err)
	assert.Equal(t, "x", top)
	assert.InDelta(t, 100.0, hits[0].Similarity, 1e-6)
	assert.Greater(t, hits[0].Similarity, hits[1].Similarity)
}

func TestSearchTruncatesToK(t *testing.T) {
	s := New(dim)
	s.Append(rec("a", []float32{1, 0, 0, 0}))     //nolint:errcheck
	s.Append(rec("b", []float32{1, 0.1, 0, 0}))   //nolint:errcheck
	s.Append(rec("c", []float32{1, 0.2, 0, 0}))   //nolint:errcheck

	assert.Len(t, s.Search([]float32{1, 0, 0, 0}, 2), 2)
	assert.Empty(t, s.Search([]float32{1, 0, 0, 0}, 0))
	assert.Empty(t, New(dim).Search([]float32{1, 0, 0, 0}, 5))
}

// snapshot captures the full mapping state for equality comparison.
func snapshot(t *testing.T, s *Synchronizer) map[string]int {
	t.Helper()
	m := make(map[string]int)
	for slot := 0; slot < s.Size(); slot++ {
		id, err := s.Resolve(slot)
		require.NoError(t, err)
		m[id] = slot
		located, ok := s.Locate(id)
		require.True(t, ok)
		require.Equal(t, slot, located)
	}
	return m
}
