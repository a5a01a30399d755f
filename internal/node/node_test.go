package node

import (
	"testing"
	"time"
)

type countingProcessor struct {
	iterations *int
}

func (p countingProcessor) Run(inbox <-chan Shutdown) error {
	for {
		*p.iterations++
		state := DrainControl(inbox, func(Shutdown) ProcessorState { return Finished })
		if state == Finished {
			return nil
		}
	}
}

func TestNodeFinishesOnShutdown(t *testing.T) {
	iterations := 0
	n := New[Shutdown](countingProcessor{iterations: &iterations})

	if n.IsFinished() {
		t.Fatal("node should not be finished immediately after start")
	}

	if err := n.SendControlMessage(Shutdown{}); err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	n.Wait()
	if !n.IsFinished() {
		t.Fatal("expected node to be finished after shutdown")
	}
}

func TestSendControlMessageAfterFinishIsDisconnected(t *testing.T) {
	iterations := 0
	n := New[Shutdown](countingProcessor{iterations: &iterations})
	_ = n.SendControlMessage(Shutdown{})
	n.Wait()

	// Give the worker a moment past close(done); Wait already guarantees this,
	// but assert the explicit disconnected-equals-finished contract from
	// spec.md §4.1.
	time.Sleep(time.Millisecond)
	if err := n.SendControlMessage(Shutdown{}); err != ErrDisconnected {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}
