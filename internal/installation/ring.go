package installation

import "echofield/internal/audio"

// recBufChunks is REC_BUF_CHUNKS from spec.md §3: the RecordingRing's fixed
// per-channel capacity in chunks.
const recBufChunks = 1024

// RecordingRing is the installation controller's bounded per-channel chunk
// deque. All channel deques always hold the same length; pushing past
// capacity drops the oldest chunk. Grounded on
// original_source/src/installation_processor.rs's recording_buffers
// (a Vec<SliceDeque<Vec<f32>>> with the same truncate-front-on-overflow
// behavior), generalized from SliceDeque to a plain slice since Go has no
// direct slice_deque equivalent and the access pattern here is push-back
// and index-from-front only.
type RecordingRing struct {
	channels [][]audio.Chunk
}

// NewRecordingRing allocates an empty ring for the given channel count.
func NewRecordingRing(numChannels int) *RecordingRing {
	return &RecordingRing{channels: make([][]audio.Chunk, numChannels)}
}

// Push appends one chunk per channel (chunks[i] for channel i). It reports
// whether the ring was at capacity and had to drop its oldest chunk.
func (r *RecordingRing) Push(chunks []audio.Chunk) (truncated bool) {
	for i, c := range chunks {
		if len(r.channels[i]) == recBufChunks {
			truncated = true
			r.channels[i] = append(r.channels[i][1:], c)
		} else {
			r.channels[i] = append(r.channels[i], c)
		}
	}
	return truncated
}

// Len returns the current chunk count (equal across all channels).
func (r *RecordingRing) Len() int {
	if len(r.channels) == 0 {
		return 0
	}
	return len(r.channels[0])
}

// lastChunks returns, for each channel, the most recently pushed chunk.
func (r *RecordingRing) lastChunks() []audio.Chunk {
	last := make([]audio.Chunk, len(r.channels))
	for i, ch := range r.channels {
		last[i] = ch[len(ch)-1]
	}
	return last
}

// Snapshot copies every chunk from index start (inclusive) to the end, per
// channel, independent of the ring's own backing storage.
func (r *RecordingRing) Snapshot(start int) [][]audio.Chunk {
	out := make([][]audio.Chunk, len(r.channels))
	for i, ch := range r.channels {
		out[i] = append([]audio.Chunk(nil), ch[start:]...)
	}
	return out
}

// chunkedMovingAverageAmp reproduces spec.md §4.3's moving-average update
// exactly: it is a coarse approximation of a true sliding average, applied
// only to the most recently pushed chunk, and test suites assert on its
// output bit-for-bit, so it must not be "improved."
func chunkedMovingAverageAmp(oldAvg float32, windowSize int, ring *RecordingRing) float32 {
	last := ring.lastChunks()
	lastChunkTotalLen := len(last[0]) * len(last)

	var sum float32
	for _, chunk := range last {
		for _, s := range chunk {
			if s < 0 {
				sum -= s
			} else {
				sum += s
			}
		}
	}

	w := float32(windowSize)
	return oldAvg*((w-float32(lastChunkTotalLen))/w) + sum/w
}
