package stretcher

import (
	"echofield/internal/applog"
	"echofield/internal/audio"
	"echofield/internal/node"
)

// busBufChunks is the StretcherBus per-channel depth. Interior to the
// pipeline (stretcher node -> mixer), not RT-facing, so a modest blocking
// buffer is enough; no drop-oldest policy is needed here.
const busBufChunks = 16

// NodeProcessor hosts one Stretcher per channel (C6) and pulls them in
// lockstep, publishing onto a StretcherBus.
type NodeProcessor struct {
	stretchers []*Stretcher
	bus        audio.Bus
	log        interface {
		Info(msg string, keyvals ...any)
	}
}

// NewNode builds the node (and its bus) for a freshly triggered event. Every
// stretcher must share spec.Channels count, one per audio channel.
func NewNode(spec audio.Spec, stretchers []*Stretcher) (*NodeProcessor, audio.Bus) {
	bus := audio.NewBus(spec, busBufChunks)
	return &NodeProcessor{
		stretchers: stretchers,
		bus:        bus,
		log:        applog.For("stretcher-node"),
	}, bus
}

// Run pulls one chunk from every channel's Stretcher per iteration and
// publishes it onto the matching bus channel, terminating once every
// channel has reached end-of-stream (spec.md §4.5).
func (p *NodeProcessor) Run(inbox <-chan node.Shutdown) error {
	defer p.bus.Close()

	for {
		if node.DrainControl(inbox, func(node.Shutdown) node.ProcessorState { return node.Finished }) == node.Finished {
			p.log.Info("shutdown received")
			return nil
		}

		anyProduced := false
		for i, st := range p.stretchers {
			chunk, ok := st.Next()
			if !ok {
				continue
			}
			anyProduced = true
			p.bus.Channels[i] <- chunk
		}
		if !anyProduced {
			p.log.Info("all channels reached end of stream")
			return nil
		}
	}
}
