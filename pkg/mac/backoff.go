package mac

import "math/rand"

// RandomSource provides random values for backoff calculation.
// Allows injection of deterministic sources for testing.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource is the default random source using math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// BackoffCalculator computes unslotted CSMA-CA backoff delays.
//
//	delay = max(random(0, 2^BE - 1), MinimumBackoff) * BackoffUnitMs
//
// BE starts at MinBackoffExponent and grows by one after every CCA failure,
// up to MaxBackoffExponent.
type BackoffCalculator struct {
	random RandomSource
}

// NewBackoffCalculator creates a calculator. If random is nil,
// DefaultRandomSource is used.
func NewBackoffCalculator(random RandomSource) *BackoffCalculator {
	if random == nil {
		random = DefaultRandomSource
	}
	return &BackoffCalculator{random: random}
}

// Calculate returns the backoff delay in milliseconds for exponent be.
func (b *BackoffCalculator) Calculate(csma CSMAParams, be uint8) uint32 {
	periods := uint32(1) << be
	units := uint32(b.random.Float64() * float64(periods))
	if units >= periods {
		units = periods - 1
	}
	return clampUnits(csma, units) * csma.BackoffUnitMs
}

// CalculateMin returns the shortest delay Calculate can produce.
func (b *BackoffCalculator) CalculateMin(csma CSMAParams, be uint8) uint32 {
	return clampUnits(csma, 0) * csma.BackoffUnitMs
}

// CalculateMax returns the longest delay Calculate can produce.
func (b *BackoffCalculator) CalculateMax(csma CSMAParams, be uint8) uint32 {
	return clampUnits(csma, (uint32(1)<<be)-1) * csma.BackoffUnitMs
}

func clampUnits(csma CSMAParams, units uint32) uint32 {
	if units < uint32(csma.MinimumBackoff) {
		return uint32(csma.MinimumBackoff)
	}
	return units
}

// nextExponent returns the exponent after a CCA failure.
func nextExponent(csma CSMAParams, be uint8) uint8 {
	if be < csma.MaxBackoffExponent {
		return be + 1
	}
	return be
}
