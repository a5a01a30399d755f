package chunkchan

import (
	"testing"

	"echofield/internal/audio"
)

func TestSendDropOldestDropsWhenFull(t *testing.T) {
	ch := Blocking(2)
	ch <- audio.Chunk{1}
	ch <- audio.Chunk{2}

	dropped := SendDropOldest(ch, audio.Chunk{3})
	if !dropped {
		t.Fatal("expected a chunk to be dropped when the channel was full")
	}

	first := <-ch
	second := <-ch
	if first[0] != 2 || second[0] != 3 {
		t.Fatalf("expected oldest chunk (1) dropped, got %v then %v", first, second)
	}
}

func TestSendDropOldestNoDropWhenRoom(t *testing.T) {
	ch := Blocking(2)
	if dropped := SendDropOldest(ch, audio.Chunk{1}); dropped {
		t.Fatal("did not expect a drop with room available")
	}
	got := <-ch
	if got[0] != 1 {
		t.Fatalf("expected chunk 1, got %v", got)
	}
}
