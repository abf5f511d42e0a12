package memory

import "testing"

func TestWorkingMemoryFIFO(t *testing.T) {
	w := NewWorkingMemory(3, nil)

	for _, id := range []string{"I1", "I2", "I3", "I4", "I5"} {
		w.Add(Interaction{ID: id})
	}

	items := w.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, want := range []string{"I3", "I4", "I5"} {
		if items[i].ID != want {
			t.Fatalf("slot %d: expected %s, got %s", i, want, items[i].ID)
		}
	}
}

func TestWorkingMemoryZeroCapacity(t *testing.T) {
	evicted := 0
	w := NewWorkingMemory(0, func(Interaction) { evicted++ })

	w.Add(Interaction{ID: "I1"})
	w.Add(Interaction{ID: "I2"})

	if w.Len() != 0 {
		t.Fatalf("expected empty working memory, got %d items", w.Len())
	}
	if evicted != 0 {
		t.Fatalf("zero-capacity writes must not evict, got %d evictions", evicted)
	}
}

func TestWorkingMemoryEvictsOldestFirst(t *testing.T) {
	var order []string
	w := NewWorkingMemory(2, func(it Interaction) {
		order = append(order, it.ID)
	})

	for _, id := range []string{"I1", "I2", "I3", "I4"} {
		w.Add(Interaction{ID: id})
	}

	if len(order) != 2 || order[0] != "I1" || order[1] != "I2" {
		t.Fatalf("expected evictions [I1 I2], got %v", order)
	}
}
