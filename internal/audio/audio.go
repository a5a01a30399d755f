// Package audio defines the spec, chunk, and bus types shared by every node
// in the signal-flow graph, plus a small clip-able in-memory sample buffer
// used by the installation controller when it snapshots a recording ring.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrParameterOutOfRange is returned when a configuration value is outside
// the range the engine can safely start with (spec.md §7).
var ErrParameterOutOfRange = errors.New("parameter out of range")

// Spec describes an audio stream's channel count and sample rate. It is
// immutable for the lifetime of a pipeline instance.
type Spec struct {
	Channels   uint16
	SampleRate uint32
}

// Validate returns ErrParameterOutOfRange-wrapping error if the spec cannot
// be used to start a pipeline.
func (s Spec) Validate() error {
	if s.Channels < 1 {
		return fmt.Errorf("%w: channels must be >= 1, got %d", ErrParameterOutOfRange, s.Channels)
	}
	if s.SampleRate < 1 {
		return fmt.Errorf("%w: sample_rate must be >= 1, got %d", ErrParameterOutOfRange, s.SampleRate)
	}
	return nil
}

// Chunk is a contiguous run of samples for a single channel. Within a given
// Bus all chunks produced together share a length, except possibly the
// final chunk of a stream.
type Chunk = []float32

// Bus is an ordered collection of per-channel chunk channels. The i-th
// chunk read from each channel represents the same time interval and has
// equal length; producers guarantee this by emitting all channels' i-th
// chunk from the same goroutine iteration.
type Bus struct {
	Spec     Spec
	Channels []chan Chunk
}

// NewBus allocates a Bus with the given per-channel buffer depth.
func NewBus(spec Spec, bufSize int) Bus {
	channels := make([]chan Chunk, spec.Channels)
	for i := range channels {
		channels[i] = make(chan Chunk, bufSize)
	}
	return Bus{Spec: spec, Channels: channels}
}

// Close closes every per-channel channel, signalling end-of-stream to
// consumers (Go's equivalent of dropping the Rust sender side).
func (b Bus) Close() {
	for _, ch := range b.Channels {
		close(ch)
	}
}

// Audio is a clip-able, multi-channel, in-memory sample buffer. It is used
// by the installation controller to snapshot a RecordingRing window before
// handing it to a Stretcher.
type Audio struct {
	Data [][]float32
	Spec Spec
}

// ClipInPlace trims Data to [startOffset, startOffset+duration), given as
// optional durations from the start of the buffer. A nil startOffset means
// "from the beginning"; a nil duration means "to the end".
func (a *Audio) ClipInPlace(startOffset, duration *time.Duration) {
	start := a.resolveStartSamplePos(startOffset)
	end := a.resolveEndSamplePos(start, duration)
	for i, channel := range a.Data {
		a.Data[i] = append([]float32(nil), channel[start:end]...)
	}
}

func (a *Audio) resolveStartSamplePos(startOffset *time.Duration) int {
	if startOffset == nil {
		return 0
	}
	return int(startOffset.Seconds() * float64(a.Spec.SampleRate))
}

func (a *Audio) resolveEndSamplePos(start int, duration *time.Duration) int {
	if duration == nil {
		return len(a.Data[0])
	}
	return start + int(duration.Seconds()*float64(a.Spec.SampleRate))
}
