package mixer

import (
	"testing"
	"time"

	"echofield/internal/audio"
)

// fakeOutStream is a paOutputStream double that records every written
// buffer instead of touching real hardware.
type fakeOutStream struct {
	buf     []float32
	written [][]float32
	started bool
	stopped bool
	closed  bool
}

func (f *fakeOutStream) Start() error { f.started = true; return nil }
func (f *fakeOutStream) Stop() error  { f.stopped = true; return nil }
func (f *fakeOutStream) Close() error { f.closed = true; return nil }
func (f *fakeOutStream) Write() error {
	cp := append([]float32(nil), f.buf...)
	f.written = append(f.written, cp)
	return nil
}

func newTestProcessor(spec audio.Spec, fs *fakeOutStream) *Processor {
	p := New(spec)
	p.openStream = func(_ audio.Spec, _ int, buf []float32) (paOutputStream, error) {
		fs.buf = buf
		return fs, nil
	}
	p.framesPerBuffer = len(fs.buf) / int(spec.Channels)
	return p
}

// constantBus returns a one-channel bus pre-loaded, synchronously and
// within its own buffer depth, with enough constant-value chunks to
// satisfy frameCount samples worth of reads.
func constantBus(spec audio.Spec, value float32, frameCount int) audio.Bus {
	const chunkLen = 64
	depth := (frameCount / chunkLen) + 1
	bus := audio.NewBus(spec, depth)
	for remaining := frameCount; remaining > 0; remaining -= chunkLen {
		n := chunkLen
		if n > remaining {
			n = remaining
		}
		chunk := make(audio.Chunk, n)
		for i := range chunk {
			chunk[i] = value
		}
		bus.Channels[0] <- chunk
	}
	return bus
}

func TestFillBufferSumsThenClips(t *testing.T) {
	spec := audio.Spec{Channels: 1, SampleRate: 44100}
	fs := &fakeOutStream{buf: make([]float32, 4)}
	p := newTestProcessor(spec, fs)

	busA := constantBus(spec, 0.7, 4)
	busB := constantBus(spec, 0.7, 4)

	p.applyControl(ConnectBus{ID: 1, Bus: busA})
	p.applyControl(ConnectBus{ID: 2, Bus: busB})

	p.fillBuffer(fs.buf)

	for _, v := range fs.buf {
		if v != 1 {
			t.Fatalf("expected clipped sum of 1.4 -> 1.0, got %v", v)
		}
	}
}

func TestFadeInRisesMonotonicallyToOne(t *testing.T) {
	spec := audio.Spec{Channels: 1, SampleRate: 1000}
	fs := &fakeOutStream{buf: make([]float32, 10)}
	p := newTestProcessor(spec, fs)

	// Push exactly enough constant-1.0 chunks, synchronously and within
	// the bus's buffer depth, so the fade-in test never races a producer
	// goroutine: every sample the mixer asks for is already queued.
	bus := audio.NewBus(spec, 8)
	for i := 0; i < 8; i++ {
		chunk := make(audio.Chunk, 64)
		for j := range chunk {
			chunk[j] = 1.0
		}
		bus.Channels[0] <- chunk
	}

	fade := 500 * time.Millisecond
	p.applyControl(ConnectBus{ID: 1, Bus: bus, Fade: &fade})

	var samples []float32
	for i := 0; i < 50; i++ {
		p.fillBuffer(fs.buf)
		samples = append(samples, fs.buf...)
	}

	for i := 1; i < len(samples); i++ {
		if samples[i] < samples[i-1]-1e-6 {
			t.Fatalf("fade-in is not monotonically rising at index %d: %v -> %v", i, samples[i-1], samples[i])
		}
	}
	if samples[len(samples)-1] <= samples[0] {
		t.Fatal("expected fade-in to have risen over the window")
	}
	if last := samples[len(samples)-1]; last < 0.99 || last > 1 {
		t.Fatalf("expected fade-in to reach ~1 by the end of the 500ms fade, got %v", last)
	}
}

func TestDisconnectBusRemovesItImmediately(t *testing.T) {
	spec := audio.Spec{Channels: 1, SampleRate: 44100}
	fs := &fakeOutStream{buf: make([]float32, 4)}
	p := newTestProcessor(spec, fs)

	bus := constantBus(spec, 1.0, 64)
	p.applyControl(ConnectBus{ID: 7, Bus: bus})
	p.applyControl(DisconnectBus{ID: 7})

	if _, present := p.buses[7]; present {
		t.Fatal("expected bus 7 to be removed after DisconnectBus")
	}
}

func TestShutdownMessageStopsTheLoop(t *testing.T) {
	spec := audio.Spec{Channels: 1, SampleRate: 44100}
	fs := &fakeOutStream{buf: make([]float32, 4)}
	p := newTestProcessor(spec, fs)

	inbox := make(chan Message, 1)
	inbox <- Shutdown{}

	if err := p.Run(inbox); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
	if !fs.started || !fs.stopped || !fs.closed {
		t.Fatal("expected the output stream to be started, stopped, and closed")
	}
}
