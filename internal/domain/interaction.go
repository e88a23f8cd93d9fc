package domain

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Tier is the coarse memory classification derived from access frequency.
type Tier string

const (
	TierShortTerm Tier = "short-term"
	TierLongTerm  Tier = "long-term"
)

// Reinforcement constants. Strengthening has no upper clamp; the exponential
// time decay keeps realized scores bounded.
const (
	ReinforceGain = 1.1
	WeakenFactor  = 0.9
)

// Interaction is the unit of memory: a stored prompt/response pair with the
// lifecycle fields the scoring engine mutates. The embedding may be nil when
// generation failed or the vector was rejected by validation; such records
// are persisted but never indexed.
type Interaction struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	Output      string    `json:"output"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Concepts    []string  `json:"concepts,omitempty"`
	Timestamp   time.Time `json:"timestamp"` // creation or last successful access
	AccessCount int       `json:"access_count"`
	DecayFactor float64   `json:"decay_factor"`
	Tier        Tier      `json:"tier"`
}

// NewInteraction creates a well-formed Interaction with a fresh ULID,
// AccessCount 1, DecayFactor 1.0, and short-term tier.
func NewInteraction(prompt, output string, embedding []float32, concepts []string, now time.Time) Interaction {
	return Interaction{
		ID:          ulid.Make().String(),
		Prompt:      prompt,
		Output:      output,
		Embedding:   embedding,
		Concepts:    concepts,
		Timestamp:   now.UTC(),
		AccessCount: 1,
		DecayFactor: 1.0,
		Tier:        TierShortTerm,
	}
}

// Validate checks the lifecycle invariants on a record loaded from
// persistence. Records that fail validation are skipped during rebuild.
func (in Interaction) Validate() error {
	if in.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if in.AccessCount < 1 {
		return fmt.Errorf("%w: access count %d < 1", ErrInvalidRecord, in.AccessCount)
	}
	if !(in.DecayFactor > 0) {
		return fmt.Errorf("%w: decay factor %v must be > 0", ErrInvalidRecord, in.DecayFactor)
	}
	switch in.Tier {
	case TierShortTerm, TierLongTerm:
	default:
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidRecord, in.Tier)
	}
	return nil
}

// Touch applies the "selected" branch of the reinforcement rule: the record
// was included in a retrieval result.
func (in *Interaction) Touch(now time.Time) {
	in.AccessCount++
	in.Timestamp = now.UTC()
	in.DecayFactor *= ReinforceGain
}

// Weaken applies the "not selected" branch: the record was a retrieval
// candidate but did not make the final result. DecayFactor only approaches
// zero, it never reaches it.
func (in *Interaction) Weaken() {
	in.DecayFactor *= WeakenFactor
}

// Promote moves the record to the long-term tier. Promotion is monotonic;
// promoting an already long-term record is a no-op.
func (in *Interaction) Promote() {
	in.Tier = TierLongTerm
}
