package audio

import "math"

// Volume returns mean(abs(samples)); zero for an empty slice.
func Volume(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}

// Peak returns max(abs(samples)).
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}

// PeakNormalize returns a copy scaled so the loudest sample has magnitude 1.
// The second result is false for empty or all-zero input, in which case
// nothing is allocated.
func PeakNormalize(samples []float32) ([]float32, bool) {
	peak := Peak(samples)
	if peak == 0 {
		return nil, false
	}
	out := make([]float32, len(samples))
	scale := 1 / peak
	for i, s := range samples {
		out[i] = float32(float64(s) * scale)
	}
	return out, true
}
