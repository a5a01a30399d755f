// Package windows implements pure pointwise window functions. Out of scope
// per spec.md §1 beyond "pure pointwise functions" — kept deliberately tiny
// and dependency-free (see DESIGN.md for why no third-party DSP package is
// pulled in for a single formula).
package windows

import "math"

// Hann returns a Hann window of the given size:
//
//	w[n] = 0.5 * (1 - cos(2*pi*n / (size-1)))
//
// For size <= 1 it returns a window of all-ones (no windowing possible).
func Hann(size int) []float32 {
	w := make([]float32, size)
	if size <= 1 {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	denom := float64(size - 1)
	for n := range w {
		w[n] = float32(0.5 * (1 - math.Cos(2*math.Pi*float64(n)/denom)))
	}
	return w
}

// ApplyInPlace multiplies samples pointwise by w. len(samples) must equal
// len(w).
func ApplyInPlace(samples []float32, w []float32) {
	for i := range samples {
		samples[i] *= w[i]
	}
}
