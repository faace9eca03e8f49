package features

import "math"

// MinMax rescales values linearly onto [0, 1], smallest to 0 and largest to 1.
// A zero-range input (one value, or all equal) maps every value to 0.
func MinMax(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	span := hi - lo
	if span == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - lo) / span
	}
	return out
}

// Round6 rounds to six decimal places.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
