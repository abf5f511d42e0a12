package memory

import "sync"

// WorkingMemory is the bounded FIFO tier holding the most recent
// interactions in insertion order. When full, the oldest item is evicted and
// handed to onEvict (the promotion path into episodic memory).
type WorkingMemory struct {
	mu      sync.Mutex
	cap     int
	items   []Interaction
	onEvict func(Interaction)
}

func NewWorkingMemory(capacity int, onEvict func(Interaction)) *WorkingMemory {
	return &WorkingMemory{cap: capacity, onEvict: onEvict}
}

// Add appends an interaction, evicting the oldest beyond capacity. With
// capacity 0 the write is a no-op, not an error.
func (w *WorkingMemory) Add(it Interaction) {
	if w.cap <= 0 {
		return
	}
	w.mu.Lock()
	w.items = append(w.items, it)
	var evicted []Interaction
	for len(w.items) > w.cap {
		evicted = append(evicted, w.items[0])
		w.items = w.items[1:]
	}
	w.mu.Unlock()

	if w.onEvict != nil {
		for _, ev := range evicted {
			w.onEvict(ev)
		}
	}
}

// Items returns a copy, oldest first.
func (w *WorkingMemory) Items() []Interaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Interaction, len(w.items))
	copy(out, w.items)
	return out
}

func (w *WorkingMemory) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

func (w *WorkingMemory) Cap() int { return w.cap }
