package fft

import (
	"math"
	"testing"
)

func TestRoundTripReproducesInput(t *testing.T) {
	const size = 64
	tr := New(size)

	in := make([]float32, size)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 3 * float64(i) / size))
	}

	bins := tr.Forward(in)
	if len(bins) != size/2+1 {
		t.Fatalf("expected %d bins, got %d", size/2+1, len(bins))
	}

	out := tr.Inverse(bins)
	if len(out) != size {
		t.Fatalf("expected %d samples back, got %d", size, len(out))
	}

	var sumSqErr, sumSqSignal float64
	for i := range in {
		d := float64(out[i] - in[i])
		sumSqErr += d * d
		sumSqSignal += float64(in[i]) * float64(in[i])
	}
	rmsErr := math.Sqrt(sumSqErr / float64(size))
	if rmsErr > 1e-4 {
		t.Fatalf("round trip RMS error too large: %v", rmsErr)
	}
}

func TestSizeReportsWindowLength(t *testing.T) {
	tr := New(128)
	if tr.Size() != 128 {
		t.Fatalf("expected 128, got %d", tr.Size())
	}
}
