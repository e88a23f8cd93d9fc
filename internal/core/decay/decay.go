// Package decay implements the scoring adjustment applied to raw vector
// similarity: exponential forgetting over elapsed time, a per-record strength
// multiplier, and a logarithmic reinforcement boost from cumulative access.
package decay

import (
	"math"
	"time"

	"mnemo/internal/domain"
)

// DefaultRate is the default exponential decay rate per elapsed second.
// Smaller values mean slower forgetting.
const DefaultRate = 0.0001

// AdjustedScore scales a raw similarity (0-100) by the record's time decay
// and access reinforcement:
//
//	decay         = decayFactor * exp(-rate * elapsedSeconds)
//	reinforcement = ln(1 + accessCount)
//	adjusted      = raw * decay * reinforcement
//
// The function is pure and total over well-formed records; malformed records
// are rejected at construction time, not here.
func AdjustedScore(raw float64, in domain.Interaction, now time.Time, rate float64) float64 {
	elapsed := now.Sub(in.Timestamp).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	d := in.DecayFactor * math.Exp(-rate*elapsed)
	r := math.Log1p(float64(in.AccessCount))
	return raw * d * r
}
