// Package fft wraps a real-to-complex FFT behind a small interface, treating
// the transform itself as the opaque external collaborator spec.md §1
// describes. The concrete implementation is backed by gonum's dsp/fourier
// package so the phase vocoder (internal/stretcher) never imports gonum
// types directly.
package fft

import "gonum.org/v1/gonum/dsp/fourier"

// Bin is one complex frequency-domain coefficient.
type Bin = complex128

// Transformer forward- and inverse-transforms real signals of a fixed
// window size W into W/2+1 complex bins and back.
type Transformer interface {
	// Size returns W, the time-domain window length this transformer
	// operates on.
	Size() int
	// Forward computes the real FFT of time (len W), returning W/2+1
	// complex bins.
	Forward(time []float32) []Bin
	// Inverse computes the inverse real FFT of bins (len W/2+1), returning
	// W time-domain samples.
	Inverse(bins []Bin) []float32
}

type gonumFFT struct {
	size int
	fft  *fourier.FFT
	in   []float64
	out  []float64
}

// New returns a Transformer for windows of the given size.
func New(size int) Transformer {
	return &gonumFFT{
		size: size,
		fft:  fourier.NewFFT(size),
		in:   make([]float64, size),
		out:  make([]float64, size),
	}
}

func (g *gonumFFT) Size() int { return g.size }

func (g *gonumFFT) Forward(t []float32) []Bin {
	for i, s := range t {
		g.in[i] = float64(s)
	}
	coeff := g.fft.Coefficients(nil, g.in)
	bins := make([]Bin, len(coeff))
	for i, c := range coeff {
		bins[i] = Bin(c)
	}
	return bins
}

func (g *gonumFFT) Inverse(bins []Bin) []float32 {
	coeff := make([]complex128, len(bins))
	for i, b := range bins {
		coeff[i] = complex128(b)
	}
	seq := g.fft.Sequence(g.out, coeff)
	out := make([]float32, g.size)
	// gonum's inverse transform is unnormalised (scaled by size); divide
	// down so Forward followed by Inverse reproduces the input.
	norm := 1.0 / float64(g.size)
	for i, v := range seq {
		out[i] = float32(v * norm)
	}
	return out
}
