// Package stretcher implements the phase-vocoder time-stretcher (C5) and the
// node (C6) that hosts one stretcher per channel and publishes a
// StretcherBus. The overlap-add algorithm and phase-unwrap formulas mirror
// the fixed-point DSP style of rustyguts-bken/client/internal/agc and
// internal/aec (per-sample state machines driven by plain structs with no
// hidden goroutines), adapted to frequency-domain analysis/synthesis and
// built on internal/fft and internal/windows rather than a teacher DSP
// primitive, since none of the teacher's filters operate in the frequency
// domain.
package stretcher

import (
	"math"
	"math/cmplx"
	"time"

	"echofield/internal/audio"
	"echofield/internal/fft"
	"echofield/internal/windows"
)

// Params configures one channel's Stretcher.
type Params struct {
	Spec audio.Spec

	// StretchFactor must be >= 1.0.
	StretchFactor float32
	// AmplitudeScale is applied to every output sample before the fade,
	// typically 1.0.
	AmplitudeScale float32
	// WindowSize is W, the analysis/synthesis window length and FFT size.
	WindowSize int
	// FadeDuration, if non-zero, ramps the first FadeDuration of output
	// in from 0 and, when Budget is set, ramps the last FadeDuration out
	// to 0.
	FadeDuration time.Duration
	// Budget, if non-nil, hard-caps total emitted samples; Stretcher
	// zero-fills from a disconnected input to reach it.
	Budget *int
}

// inputPuller pulls exactly n samples at a time from a chunk channel,
// buffering leftover samples across chunk boundaries and zero-padding once
// the channel closes.
type inputPuller struct {
	in      <-chan audio.Chunk
	pending []float32
	closed  bool
}

func (p *inputPuller) pull(n int) []float32 {
	out := make([]float32, n)
	filled := 0
	for filled < n {
		if len(p.pending) == 0 {
			if p.closed {
				break
			}
			chunk, ok := <-p.in
			if !ok {
				p.closed = true
				break
			}
			p.pending = chunk
			continue
		}
		take := n - filled
		if take > len(p.pending) {
			take = len(p.pending)
		}
		copy(out[filled:], p.pending[:take])
		p.pending = p.pending[take:]
		filled += take
	}
	return out
}

// Stretcher is one channel's phase-vocoder overlap-add state machine.
// Next is called synchronously by the owning node (C6); Stretcher never
// starts its own goroutine.
type Stretcher struct {
	p      Params
	fft    fft.Transformer
	window []float32

	ring       []float32
	phasePrev  []float64
	synthPhase []float64
	outAccum   []float32

	puller *inputPuller

	ha, hs          int
	colaGain        float32
	fadeRampSamples int
	emitted         int
	done            bool
}

// New constructs a Stretcher pulling input from in.
func New(p Params, in <-chan audio.Chunk) *Stretcher {
	w := p.WindowSize
	ha := w / 4
	hs := int(math.Round(float64(ha) * float64(p.StretchFactor)))
	// Periodic Hann of length w (the first w samples of a size w+1 Hann):
	// its squares overlap-add to a constant at hop w/4, so colaGain holds at
	// every position rather than only near the centre.
	window := windows.Hann(w + 1)[:w]

	s := &Stretcher{
		p:          p,
		fft:        fft.New(w),
		window:     window,
		ring:       make([]float32, w),
		phasePrev:  make([]float64, w/2+1),
		synthPhase: make([]float64, w/2+1),
		outAccum:   make([]float32, max(w, hs)), // at least one hop long when hs > w
		puller:     &inputPuller{in: in},
		ha:         ha,
		hs:         hs,
		colaGain:   colaGain(window, hs),
	}
	if p.FadeDuration > 0 {
		s.fadeRampSamples = int(p.FadeDuration.Seconds() * float64(p.Spec.SampleRate))
	}
	copy(s.ring, s.puller.pull(w))
	return s
}

// colaGain computes the steady-state overlap-add gain introduced by
// windowing a frame twice (once at analysis, once at synthesis) and
// hopping by hs: the sum, at any sample position far enough from the
// edges, of window[idx]^2 taken over every idx congruent to that position
// modulo hs. Next divides every emitted sample by this constant so that a
// stretch_factor of 1.0 reproduces the input amplitude instead of the
// windows' own overlap-add energy (spec.md §8's phase-vocoder round-trip
// property; without this the Hann/75%-overlap combination this package
// always uses comes out roughly 1.5x too loud).
func colaGain(window []float32, hs int) float32 {
	if hs <= 0 {
		return 1
	}
	w := len(window)
	mid := w / 2
	var sum float64
	for idx := mid % hs; idx < w; idx += hs {
		sum += float64(window[idx]) * float64(window[idx])
	}
	if sum == 0 {
		return 1
	}
	return float32(sum)
}

// Next produces the next output chunk. ok is false once a hard budget has
// been fully emitted; without a budget Next never returns ok == false on
// its own (the caller decides when to stop pulling).
func (s *Stretcher) Next() (audio.Chunk, bool) {
	if s.done {
		return nil, false
	}
	if s.p.Budget != nil && s.emitted >= *s.p.Budget {
		s.done = true
		return nil, false
	}

	s.analyzeAndSynthesizeFrame()

	hs := s.hs
	remaining := hs
	if s.p.Budget != nil {
		if left := *s.p.Budget - s.emitted; left < remaining {
			remaining = left
		}
	}

	out := make(audio.Chunk, remaining)
	copy(out, s.outAccum[:remaining])
	for i := range out {
		out[i] /= s.colaGain
	}
	s.applyAmplitudeAndFade(out)
	s.emitted += remaining

	copy(s.outAccum, s.outAccum[hs:])
	for i := len(s.outAccum) - hs; i < len(s.outAccum); i++ {
		s.outAccum[i] = 0
	}

	copy(s.ring, s.ring[s.ha:])
	copy(s.ring[len(s.ring)-s.ha:], s.puller.pull(s.ha))

	if s.p.Budget != nil && s.emitted >= *s.p.Budget {
		s.done = true
	}
	return out, true
}

// analyzeAndSynthesizeFrame runs one analysis/synthesis step: windowed
// forward FFT, phase-vocoder bin reconstruction, windowed inverse FFT,
// overlap-added into outAccum. See spec.md §4.4 for the phase-unwrap
// derivation this reproduces.
func (s *Stretcher) analyzeAndSynthesizeFrame() {
	w := s.p.WindowSize
	frame := make([]float32, w)
	copy(frame, s.ring)
	windows.ApplyInPlace(frame, s.window)

	bins := s.fft.Forward(frame)

	twoPiOverW := 2 * math.Pi / float64(w)
	haF := float64(s.ha)
	hsF := float64(s.hs)

	for k, b := range bins {
		mag := cmplx.Abs(complex128(b))
		phase := cmplx.Phase(complex128(b))

		delta := phase - s.phasePrev[k] - float64(k)*haF*twoPiOverW
		delta = wrapPhase(delta)

		omega := float64(k)*twoPiOverW + delta/haF
		s.synthPhase[k] += hsF * omega
		s.phasePrev[k] = phase

		bins[k] = fft.Bin(cmplx.Rect(mag, s.synthPhase[k]))
	}

	synth := s.fft.Inverse(bins)
	windows.ApplyInPlace(synth, s.window)

	for i, v := range synth {
		s.outAccum[i] += v
	}
}

// wrapPhase wraps x into (-pi, pi].
func wrapPhase(x float64) float64 {
	r := math.Mod(math.Pi-x, 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	return math.Pi - r
}

// applyAmplitudeAndFade scales by AmplitudeScale then the fade coefficient,
// in that order (spec.md §9's Open Question: amplitude scale before fade).
func (s *Stretcher) applyAmplitudeAndFade(out []float32) {
	for i := range out {
		globalIdx := s.emitted + i
		v := out[i] * s.p.AmplitudeScale
		v *= s.fadeCoefficient(globalIdx)
		out[i] = v
	}
}

func (s *Stretcher) fadeCoefficient(globalIdx int) float32 {
	if s.fadeRampSamples == 0 {
		return 1
	}
	coeff := float32(1)
	if globalIdx < s.fadeRampSamples {
		coeff = float32(globalIdx) / float32(s.fadeRampSamples)
	}
	if s.p.Budget != nil {
		remainingFromEnd := *s.p.Budget - globalIdx - 1
		if remainingFromEnd < s.fadeRampSamples {
			fadeOut := float32(remainingFromEnd+1) / float32(s.fadeRampSamples)
			if fadeOut < coeff {
				coeff = fadeOut
			}
		}
	}
	return coeff
}
