package market

import (
	"math"
	"math/rand"
)

// Model computes next-tick prices for commodities. It is a random walk
// with volatility proportional to the price range: each step perturbs
// the current price by a uniform draw in [-vol/2, +vol/2] where
// vol = max(1, (max-min)*0.12), rounds to cents and clamps into bounds.
//
// A Model is not safe for concurrent use; each room owns one.
type Model struct {
	rng *rand.Rand
}

// NewModel creates a price model backed by the given random source.
// Tests pass a seeded source for deterministic walks.
func NewModel(rng *rand.Rand) *Model {
	return &Model{rng: rng}
}

// NextPrice applies one walk step to current within [min, max].
func (m *Model) NextPrice(current, min, max float64) float64 {
	volatility := math.Max(1, (max-min)*0.12)
	change := (m.rng.Float64() - 0.5) * volatility
	return Clamp(Round2(current+change), min, max)
}

// Round2 rounds to 2 decimal places. All cash and price arithmetic in
// the simulation goes through this.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
