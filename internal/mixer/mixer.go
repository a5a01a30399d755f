// Package mixer implements the output mixer (C7): a dynamic multi-bus
// summing node owned by the host default output device, with per-bus fades
// and connect/disconnect lifecycle. The device write loop follows the same
// blocking-stream idiom as internal/recorder (grounded on
// rustyguts-bken/client/audio.go), realizing the spec's "real-time audio
// callback" as a dedicated goroutine that blocks on the device rather than
// a host-invoked function pointer — see DESIGN.md.
//
// Per-bus scratch queues are backed by github.com/smallnest/ringbuffer
// (byte-oriented; native-endian float32 samples are written/read as raw
// bytes), matching how tphakala-birdnet-go buffers analysis audio.
package mixer

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/smallnest/ringbuffer"

	"echofield/internal/applog"
	"echofield/internal/audio"
	"echofield/internal/node"
)

const (
	defaultFramesPerBuffer = 512
	scratchBytesCapacity   = 1 << 16
	bytesPerSample         = 4
)

// Message is the mixer's control-message sum type (spec.md §4.6).
type Message interface {
	IsShutdown() bool
}

// ConnectBus adds a bus to the mix. If Fade is non-nil, the bus's
// contribution ramps from 0 to 1 over that duration; ShutdownWhenFinished
// requests the mixer shut itself down once this bus reaches end-of-stream
// and drains.
type ConnectBus struct {
	ID                   uint64
	Bus                  audio.Bus
	Fade                 *time.Duration
	ShutdownWhenFinished bool
}

// IsShutdown never reports true for ConnectBus.
func (ConnectBus) IsShutdown() bool { return false }

// DisconnectBus removes a bus from the mix immediately, dropping any
// buffered samples.
type DisconnectBus struct {
	ID uint64
}

// IsShutdown never reports true for DisconnectBus.
func (DisconnectBus) IsShutdown() bool { return false }

// Shutdown is the mixer's Shutdown variant.
type Shutdown struct{}

// IsShutdown always reports true.
func (Shutdown) IsShutdown() bool { return true }

type busConnection struct {
	channels             []chan audio.Chunk
	scratch              []*ringbuffer.RingBuffer
	eof                  []bool
	fadeCoeff            float32
	fadeStep             float32
	fadingOut            bool
	shutdownWhenFinished bool
}

func newBusConnection(bus audio.Bus, fade *time.Duration, sampleRate uint32, shutdownWhenFinished bool) *busConnection {
	bc := &busConnection{
		channels:             bus.Channels,
		scratch:              make([]*ringbuffer.RingBuffer, len(bus.Channels)),
		eof:                  make([]bool, len(bus.Channels)),
		fadeCoeff:            1,
		shutdownWhenFinished: shutdownWhenFinished,
	}
	for i := range bc.scratch {
		bc.scratch[i] = ringbuffer.New(scratchBytesCapacity)
	}
	if fade != nil {
		bc.fadeCoeff = 0
		samples := fade.Seconds() * float64(sampleRate)
		if samples < 1 {
			samples = 1
		}
		bc.fadeStep = float32(1.0 / samples)
	}
	return bc
}

// allDrained reports whether every channel has closed and its scratch is empty.
func (bc *busConnection) allDrained() bool {
	for i, eof := range bc.eof {
		if !eof {
			return false
		}
		if bc.scratch[i].Length() > 0 {
			return false
		}
	}
	return true
}

// paOutputStream abstracts the subset of *portaudio.Stream the mixer needs.
type paOutputStream interface {
	Start() error
	Stop() error
	Close() error
	Write() error
}

// Processor owns the connected bus table and the output device loop.
type Processor struct {
	spec            audio.Spec
	framesPerBuffer int
	buses           map[uint64]*busConnection
	selfShutdown    atomic.Bool

	openStream func(spec audio.Spec, framesPerBuffer int, buf []float32) (paOutputStream, error)
	log        interface {
		Info(msg string, keyvals ...any)
		Error(msg string, keyvals ...any)
	}
}

// New builds the mixer's Processor.
func New(spec audio.Spec) *Processor {
	return &Processor{
		spec:            spec,
		framesPerBuffer: defaultFramesPerBuffer,
		buses:           make(map[uint64]*busConnection),
		openStream:      openPortaudioOutputStream,
		log:             applog.For("mixer"),
	}
}

func openPortaudioOutputStream(spec audio.Spec, framesPerBuffer int, buf []float32) (paOutputStream, error) {
	dev, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("mixer: default output device: %w", err)
	}
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: int(spec.Channels),
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(spec.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("mixer: open output stream: %w", err)
	}
	return stream, nil
}

// Run opens the output device and loops: drain control, fill one callback
// buffer by mixing every connected bus, write it out. Exits on Shutdown,
// inbox disconnect, or a self-posted shutdown once a shutdown-when-finished
// bus has fully drained.
func (p *Processor) Run(inbox <-chan Message) error {
	buf := make([]float32, p.framesPerBuffer*int(p.spec.Channels))
	stream, err := p.openStream(p.spec, p.framesPerBuffer, buf)
	if err != nil {
		p.log.Error("open stream", "err", err)
		return err
	}
	if err := stream.Start(); err != nil {
		p.log.Error("start stream", "err", err)
		_ = stream.Close()
		return err
	}
	defer func() {
		_ = stream.Stop()
		_ = stream.Close()
	}()

	for {
		if node.DrainControl(inbox, p.applyControl) == node.Finished {
			p.log.Info("shutdown received")
			return nil
		}
		if p.selfShutdown.Load() {
			p.log.Info("shutting down after shutdown-when-finished bus drained")
			return nil
		}

		p.fillBuffer(buf)

		if err := stream.Write(); err != nil {
			p.log.Error("stream write", "err", err)
			return err
		}
	}
}

func (p *Processor) applyControl(msg Message) node.ProcessorState {
	switch m := msg.(type) {
	case ConnectBus:
		p.buses[m.ID] = newBusConnection(m.Bus, m.Fade, p.spec.SampleRate, m.ShutdownWhenFinished)
	case DisconnectBus:
		delete(p.buses, m.ID)
	}
	return node.Running
}

// fillBuffer mixes every connected bus into one interleaved callback buffer
// (spec.md §4.6's audio callback steps).
func (p *Processor) fillBuffer(buf []float32) {
	channels := int(p.spec.Channels)
	frames := len(buf) / channels

	for i := range buf {
		buf[i] = 0
	}

	for id, bc := range p.buses {
		p.pullChunksIntoScratch(bc)

		for f := 0; f < frames; f++ {
			coeff := bc.fadeCoeff
			for c := 0; c < channels && c < len(bc.scratch); c++ {
				sample, ok := popSample(bc.scratch[c])
				if !ok {
					continue
				}
				buf[f*channels+c] += sample * coeff
			}
			bc.advanceFade()
		}

		if bc.allDrained() {
			delete(p.buses, id)
			if bc.shutdownWhenFinished {
				p.selfShutdown.Store(true)
			}
		}
	}

	for i := range buf {
		buf[i] = clip(buf[i])
	}
}

// pullChunksIntoScratch non-blockingly drains each channel's chunk channel
// into its byte-oriented scratch ring buffer.
func (p *Processor) pullChunksIntoScratch(bc *busConnection) {
	for c, ch := range bc.channels {
		for {
			select {
			case chunk, ok := <-ch:
				if !ok {
					bc.eof[c] = true
					bc.fadingOut = true
					goto nextChannel
				}
				pushChunk(bc.scratch[c], chunk)
			default:
				goto nextChannel
			}
		}
	nextChannel:
	}
}

func (bc *busConnection) advanceFade() {
	if bc.fadeStep == 0 {
		return
	}
	if bc.fadingOut {
		bc.fadeCoeff -= bc.fadeStep
		if bc.fadeCoeff < 0 {
			bc.fadeCoeff = 0
		}
		return
	}
	if bc.fadeCoeff < 1 {
		bc.fadeCoeff += bc.fadeStep
		if bc.fadeCoeff > 1 {
			bc.fadeCoeff = 1
		}
	}
}

func pushChunk(rb *ringbuffer.RingBuffer, chunk audio.Chunk) {
	b := make([]byte, len(chunk)*bytesPerSample)
	for i, s := range chunk {
		binary.NativeEndian.PutUint32(b[i*bytesPerSample:], math.Float32bits(s))
	}
	_, _ = rb.Write(b)
}

func popSample(rb *ringbuffer.RingBuffer) (float32, bool) {
	b := make([]byte, bytesPerSample)
	n, _ := rb.Read(b)
	if n < bytesPerSample {
		return 0, false
	}
	return math.Float32frombits(binary.NativeEndian.Uint32(b)), true
}

func clip(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
