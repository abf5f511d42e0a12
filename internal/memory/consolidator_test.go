package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/metisos/arccore/internal/bus"
)

func waitForConcepts(t *testing.T, s *Store, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		concepts, err := s.Concepts()
		if err != nil {
			t.Fatalf("Concepts error: %v", err)
		}
		if len(concepts) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d concepts", want)
}

func TestConsolidatorSweepsOnInteractionCount(t *testing.T) {
	s := newTestStore(t, nil)

	for i := 0; i < 2; i++ {
		it := Interaction{ID: fmt.Sprintf("E%d", i), Input: "gravity holds orbits"}
		if err := s.PromoteToEpisodic(it, 0.5); err != nil {
			t.Fatalf("PromoteToEpisodic error: %v", err)
		}
	}

	c := NewConsolidator(s, "", 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.NotifyInteraction()
	c.NotifyInteraction()

	waitForConcepts(t, s, 1)
}

func TestConsolidatorManualRequest(t *testing.T) {
	s := newTestStore(t, nil)

	for i := 0; i < 2; i++ {
		it := Interaction{ID: fmt.Sprintf("E%d", i), Input: "gravity holds orbits"}
		if err := s.PromoteToEpisodic(it, 0.5); err != nil {
			t.Fatalf("PromoteToEpisodic error: %v", err)
		}
	}

	c := NewConsolidator(s, "", 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Request(bus.SweepManual)

	waitForConcepts(t, s, 1)
}

func TestConsolidatorRequestNeverBlocks(t *testing.T) {
	s := newTestStore(t, nil)
	c := NewConsolidator(s, "", 0)

	// No Run loop is draining; a burst of requests must still return.
	for i := 0; i < 50; i++ {
		c.Request(bus.SweepManual)
	}
}
