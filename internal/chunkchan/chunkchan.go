// Package chunkchan implements the single-producer/single-consumer chunk
// handoff spec.md §3 calls a "Bus" channel: a bounded Go channel of
// audio.Chunk, with an optional drop-oldest overflow policy for the buses
// that feed real-time audio callbacks (spec.md §5: "bounded and drop-oldest
// on full so the callback is never starved").
package chunkchan

import "echofield/internal/audio"

// Blocking returns a channel that blocks the producer when full — used for
// buses between worker nodes (spec.md §5).
func Blocking(capacity int) chan audio.Chunk {
	return make(chan audio.Chunk, capacity)
}

// SendDropOldest pushes chunk onto ch. If ch is full, the oldest buffered
// chunk is discarded to make room, so the producer (typically a real-time
// audio callback) never blocks. Returns true if a chunk was dropped.
func SendDropOldest(ch chan audio.Chunk, chunk audio.Chunk) (dropped bool) {
	for {
		select {
		case ch <- chunk:
			return dropped
		default:
			select {
			case <-ch:
				dropped = true
			default:
				// Raced with a concurrent receive that drained ch entirely;
				// retry the send.
			}
		}
	}
}
