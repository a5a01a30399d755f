// Package installation implements the installation controller (C8): the
// event-detection state machine that owns the RecordingRing, tracks
// ambient vs. current amplitude, and on trigger builds a stretcher node per
// detected event and connects it to the mixer.
//
// Grounded on original_source/src/installation_processor.rs's
// InstallationProcessor::run, carried over into the teacher's Node/
// Processor idiom (internal/node) rather than rocoder's hand-rolled
// thread+Arc<AtomicBool> pair.
package installation

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"echofield/internal/applog"
	"echofield/internal/audio"
	"echofield/internal/config"
	"echofield/internal/mixer"
	"echofield/internal/node"
	"echofield/internal/stretcher"
)

// ErrRecorderDisconnected is returned by Run if the recorder bus
// disconnects while the controller is running, which spec.md §4.3 treats
// as an unrecoverable upstream failure.
var ErrRecorderDisconnected = errors.New("installation: recorder bus disconnected unexpectedly")

// stretcherFadeDuration is the Stretcher's own internal fade-in/fade-out
// ramp (distinct from the mixer's connection fade below). Grounded on
// original_source's hardcoded Duration::from_secs(4) passed to
// Stretcher::new on every trigger.
const stretcherFadeDuration = 4 * time.Second

// mixerConnectFade is the output bus's fade-in when a freshly triggered
// stretcher is connected to the mixer (spec.md §4.3).
const mixerConnectFade = 500 * time.Millisecond

// State is the controller's two-state detection machine.
type State int

const (
	Idle State = iota
	Active
)

// MixerConnector lets the controller hand a freshly built stretcher bus to
// the mixer without holding a direct reference to the mixer's Node (spec.md
// §9: "the controller holds a sender to the mixer's control inbox; the
// mixer holds no back-reference").
type MixerConnector func(mixer.Message) error

// Processor is the installation controller (C8).
type Processor struct {
	cfg          config.Installation
	recorderBus  audio.Bus
	connectMixer MixerConnector

	ring              *RecordingRing
	ambientWindowSize int
	currentWindowSize int
	ambientAmp        float32
	currentAmp        float32

	state            State
	listenStartIndex int

	stretcherNodes []*node.Node[node.Shutdown]

	log interface {
		Info(msg string, keyvals ...any)
		Error(msg string, keyvals ...any)
	}
}

// New builds the controller. recorderBus is the Recorder's output bus;
// connectMixer should wrap the mixer Node's SendControlMessage.
func New(cfg config.Installation, recorderBus audio.Bus, connectMixer MixerConnector) *Processor {
	channels := int(cfg.Spec.Channels)
	sampleRate := float64(cfg.Spec.SampleRate)

	return &Processor{
		cfg:               cfg,
		recorderBus:       recorderBus,
		connectMixer:      connectMixer,
		ring:              NewRecordingRing(channels),
		ambientWindowSize: int(cfg.AmbientVolumeWindowDur.Seconds()*sampleRate) * channels,
		currentWindowSize: int(cfg.CurrentVolumeWindowDur.Seconds()*sampleRate) * channels,
		log:               applog.For("installation"),
	}
}

// Run implements spec.md §4.3's per-iteration loop: ingest one chunk per
// channel, update the two moving averages, evaluate the state transition,
// then drain control messages.
func (p *Processor) Run(inbox <-chan node.Shutdown) error {
	channels := int(p.cfg.Spec.Channels)

	for {
		chunks := make([]audio.Chunk, channels)
		for i, ch := range p.recorderBus.Channels {
			chunk, ok := <-ch
			if !ok {
				p.log.Error("recorder bus disconnected")
				return ErrRecorderDisconnected
			}
			chunks[i] = chunk
		}

		truncated := p.ring.Push(chunks)
		if truncated && p.state == Active {
			p.listenStartIndex--
		}

		p.ambientAmp = chunkedMovingAverageAmp(p.ambientAmp, p.ambientWindowSize, p.ring)
		p.currentAmp = chunkedMovingAverageAmp(p.currentAmp, p.currentWindowSize, p.ring)

		p.evaluateTransition()

		if node.DrainControl(inbox, func(node.Shutdown) node.ProcessorState { return node.Finished }) == node.Finished {
			p.log.Info("shutdown received")
			return nil
		}
	}
}

func (p *Processor) evaluateTransition() {
	switch p.state {
	case Idle:
		if p.ring.Len() > recBufChunks/2 && p.currentAmp > p.ambientAmp*p.cfg.AmpActivationFactor {
			p.log.Info("trigger: entering active listening",
				"current_amp", p.currentAmp, "ambient_amp", p.ambientAmp)
			p.state = Active
			p.listenStartIndex = p.ring.Len()
		}
	case Active:
		if p.listenStartIndex == 0 || p.currentAmp < p.ambientAmp/p.cfg.AmpActivationFactor {
			p.log.Info("event ended: spawning playback",
				"current_amp", p.currentAmp, "ambient_amp", p.ambientAmp)
			p.state = Idle
			p.spawnStretcherEvent()
		}
	}
}

// spawnStretcherEvent snapshots the ring from listenStartIndex, builds one
// Stretcher per channel, packages them into a stretcher node, and connects
// its bus to the mixer (spec.md §4.3's trigger path).
func (p *Processor) spawnStretcherEvent() {
	p.pruneFinishedStretchers()
	if len(p.stretcherNodes) >= p.cfg.MaxStretchers {
		p.log.Info("trigger skipped: max_stretchers already connected")
		return
	}

	snapshot := p.ring.Snapshot(p.listenStartIndex)
	stretchFactor := p.chooseStretchFactor()
	windowSize := p.chooseWindowSize()

	snippet := &audio.Audio{Data: make([][]float32, len(snapshot)), Spec: p.cfg.Spec}
	for i, chunks := range snapshot {
		snippet.Data[i] = flattenChunks(chunks)
	}
	if len(snippet.Data) > 0 {
		snippetDur := time.Duration(float64(len(snippet.Data[0])) / float64(p.cfg.Spec.SampleRate) * float64(time.Second))
		if snippetDur > p.cfg.MaxSnippetDur {
			startOffset := snippetDur - p.cfg.MaxSnippetDur
			snippet.ClipInPlace(&startOffset, nil)
		}
	}

	stretchers := make([]*stretcher.Stretcher, len(snippet.Data))
	for i, flat := range snippet.Data {
		in := make(chan audio.Chunk, 1)
		in <- flat
		close(in)

		budget := int(math.Round(float64(len(flat)) * float64(stretchFactor)))
		stretchers[i] = stretcher.New(stretcher.Params{
			Spec:           p.cfg.Spec,
			StretchFactor:  stretchFactor,
			AmplitudeScale: 1.0,
			WindowSize:     windowSize,
			FadeDuration:   stretcherFadeDuration,
			Budget:         &budget,
		}, in)
	}

	proc, bus := stretcher.NewNode(p.cfg.Spec, stretchers)
	n := node.New[node.Shutdown](proc)
	p.stretcherNodes = append(p.stretcherNodes, n)

	fade := mixerConnectFade
	if err := p.connectMixer(mixer.ConnectBus{
		ID:                   rand.Uint64(),
		Bus:                  bus,
		Fade:                 &fade,
		ShutdownWhenFinished: false,
	}); err != nil {
		p.log.Error("connect stretcher bus to mixer", "err", err)
	}
}

func (p *Processor) pruneFinishedStretchers() {
	live := p.stretcherNodes[:0]
	for _, n := range p.stretcherNodes {
		if !n.IsFinished() {
			live = append(live, n)
		}
	}
	p.stretcherNodes = live
}

func (p *Processor) chooseStretchFactor() float32 {
	return p.cfg.MinStretchFactor + rand.Float32()*(p.cfg.MaxStretchFactor-p.cfg.MinStretchFactor)
}

func (p *Processor) chooseWindowSize() int {
	return p.cfg.WindowSizes[rand.IntN(len(p.cfg.WindowSizes))]
}

func flattenChunks(chunks []audio.Chunk) audio.Chunk {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make(audio.Chunk, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
