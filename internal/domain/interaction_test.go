package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInteractionDefaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewInteraction("p", "o", []float32{1, 2}, []string{"go"}, now)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 1, rec.AccessCount)
	assert.Equal(t, 1.0, rec.DecayFactor)
	assert.Equal(t, TierShortTerm, rec.Tier)
	assert.Equal(t, now, rec.Timestamp)
}

func TestNewInteractionIDsAreUnique(t *testing.T) {
	a := NewInteraction("p", "o", nil, nil, time.Now())
	b := NewInteraction("p", "o", nil, nil, time.Now())
	assert.NotEqual(t, a.ID, b.ID)
}

func TestValidate(t *testing.T) {
	rec := NewInteraction("p", "o", nil, nil, time.Now())
	require.NoError(t, rec.Validate())

	missing := rec
	missing.ID = ""
	assert.ErrorIs(t, missing.Validate(), ErrInvalidRecord)

	negative := rec
	negative.AccessCount = 0
	assert.ErrorIs(t, negative.Validate(), ErrInvalidRecord)

	badTier := rec
	badTier.Tier = "archived"
	assert.ErrorIs(t, badTier.Validate(), ErrInvalidRecord)
}

func TestTouchReinforces(t *testing.T) {
	rec := NewInteraction("p", "o", nil, nil, time.Now())
	now := rec.Timestamp.Add(time.Hour)

	rec.Touch(now)
	assert.Equal(t, 2, rec.AccessCount)
	assert.Equal(t, now, rec.Timestamp)
	assert.InDelta(t, ReinforceGain, rec.DecayFactor, 1e-9)

	rec.Weaken()
	assert.InDelta(t, ReinforceGain*WeakenFactor, rec.DecayFactor, 1e-9)
}

func TestPromoteIsMonotonic(t *testing.T) {
	rec := NewInteraction("p", "o", nil, nil, time.Now())
	rec.Promote()
	assert.Equal(t, TierLongTerm, rec.Tier)
	rec.Promote()
	assert.Equal(t, TierLongTerm, rec.Tier)
}

func TestErrWritesHaltedWrapsCorruption(t *testing.T) {
	assert.True(t, errors.Is(ErrWritesHalted, ErrIndexCorruption))
}
