// Package recorder implements the installation engine's input node (C4):
// it drives the host's default input device and, for every interleaved
// buffer the device hands back, emits one chunk per channel onto a
// RecorderBus, never blocking the audio device thread.
//
// Style and the capture-loop shape are adapted from
// rustyguts-bken/client/audio.go's captureLoop/Start, generalized from a
// fixed-format Opus voice pipeline to an arbitrary AudioSpec bus producer.
package recorder

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"echofield/internal/applog"
	"echofield/internal/audio"
	"echofield/internal/chunkchan"
	"echofield/internal/node"
)

// defaultFramesPerBuffer is the interleaved frame count requested per
// device callback/Read. Chosen small enough to keep trigger latency low
// while staying well above PortAudio's minimum buffer sizes on common
// hardware.
const defaultFramesPerBuffer = 512

// busBufChunks is the per-channel chunk channel depth. Bounded and
// drop-oldest per spec.md §5 ("bounded and drop-oldest on full so the
// callback is never starved").
const busBufChunks = 64

// paStream abstracts the subset of *portaudio.Stream the recorder needs,
// so tests can supply a fake device without opening real hardware.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
}

// Processor drives the input device and publishes chunks onto Bus.
type Processor struct {
	spec            audio.Spec
	framesPerBuffer int
	bus             audio.Bus

	openStream func(spec audio.Spec, framesPerBuffer int, buf []float32) (paStream, error)
	log        interface {
		Info(msg string, keyvals ...any)
		Error(msg string, keyvals ...any)
	}
}

// New returns a recorder Processor and the Bus it will publish chunks onto.
func New(spec audio.Spec) (*Processor, audio.Bus) {
	bus := audio.NewBus(spec, busBufChunks)
	p := &Processor{
		spec:            spec,
		framesPerBuffer: defaultFramesPerBuffer,
		bus:             bus,
		openStream:      openPortaudioStream,
		log:             applog.For("recorder"),
	}
	return p, bus
}

func openPortaudioStream(spec audio.Spec, framesPerBuffer int, buf []float32) (paStream, error) {
	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("recorder: default input device: %w", err)
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: int(spec.Channels),
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(spec.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("recorder: open input stream: %w", err)
	}
	return stream, nil
}

// Run opens the input device and loops reading interleaved frames,
// splitting each into one chunk per channel, until Shutdown is received or
// the device reports a stream error (spec.md §4.2's failure semantics: the
// node finishes and downstream consumers observe disconnect on their bus
// receivers).
func (p *Processor) Run(inbox <-chan node.Shutdown) error {
	buf := make([]float32, p.framesPerBuffer*int(p.spec.Channels))
	stream, err := p.openStream(p.spec, p.framesPerBuffer, buf)
	if err != nil {
		p.log.Error("open stream", "err", err)
		p.bus.Close()
		return err
	}
	if err := stream.Start(); err != nil {
		p.log.Error("start stream", "err", err)
		_ = stream.Close()
		p.bus.Close()
		return err
	}

	defer func() {
		_ = stream.Stop()
		_ = stream.Close()
		p.bus.Close()
	}()

	for {
		if node.DrainControl(inbox, func(node.Shutdown) node.ProcessorState { return node.Finished }) == node.Finished {
			p.log.Info("shutdown received, stopping input stream")
			return nil
		}

		if err := stream.Read(); err != nil {
			p.log.Error("stream read", "err", err)
			return err
		}

		p.emit(buf)
	}
}

// emit splits one interleaved callback buffer into per-channel chunks and
// pushes each onto its bus channel with drop-oldest-on-full semantics.
func (p *Processor) emit(buf []float32) {
	channels := int(p.spec.Channels)
	frames := len(buf) / channels
	for c := 0; c < channels; c++ {
		chunk := make(audio.Chunk, frames)
		for f := 0; f < frames; f++ {
			chunk[f] = buf[f*channels+c]
		}
		chunkchan.SendDropOldest(p.bus.Channels[c], chunk)
	}
}
