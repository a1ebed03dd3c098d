// Package util provides common utility functions for price and strike math.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.05, 101.26 becomes 101.25.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// NearestStrike returns the strike in the ascending-sorted slice that
// minimizes absolute distance to ref. Ties break toward the first such
// strike in ascending order. Returns 0 and false for an empty slice.
func NearestStrike(strikes []float64, ref float64) (float64, bool) {
	if len(strikes) == 0 {
		return 0, false
	}
	best := strikes[0]
	bestDist := math.Abs(strikes[0] - ref)
	for _, s := range strikes[1:] {
		if d := math.Abs(s - ref); d < bestDist {
			best = s
			bestDist = d
		}
	}
	return best, true
}

// MedianStrike returns the median of an ascending-sorted strike slice,
// used as the spot fallback when the gateway omits a reference price.
// For an even count the lower middle element is used.
func MedianStrike(strikes []float64) (float64, bool) {
	if len(strikes) == 0 {
		return 0, false
	}
	return strikes[(len(strikes)-1)/2], true
}
