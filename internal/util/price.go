// Package util provides common utility functions for strike and price handling.
package util

import "math"

// StrikeEpsilon is the tolerance used when comparing strikes.
// Strikes are listed in increments no finer than 1/1000th of a dollar.
const StrikeEpsilon = 1e-3

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// StrikeThousandths returns the strike in 1/1000th dollars, as encoded in OCC symbols.
func StrikeThousandths(strike float64) int64 {
	return int64(math.Round(strike * 1000))
}

// CompareStrikes orders two strikes at OCC precision: -1, 0 or +1.
func CompareStrikes(a, b float64) int {
	ai, bi := StrikeThousandths(a), StrikeThousandths(b)
	switch {
	case ai < bi:
		return -1
	case ai > bi:
		return 1
	default:
		return 0
	}
}
