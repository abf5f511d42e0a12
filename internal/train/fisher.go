package train

import (
	"math"
	"sync"
)

// ImportanceTracker keeps a diagonal Fisher-information estimate per
// adapter parameter plus the anchor values captured when each task
// completed. The quadratic penalty it produces is the forgetting-resistance
// term added to the next pack's loss.
//
// Parameters are identified by their index into the flat adapter vector.
type ImportanceTracker struct {
	mu         sync.Mutex
	importance []float64
	anchors    []float64
	samples    int
	tasks      int
}

func NewImportanceTracker(dim int) *ImportanceTracker {
	return &ImportanceTracker{
		importance: make([]float64, dim),
		anchors:    make([]float64, dim),
	}
}

// Accumulate adds one held-out sample's squared-gradient contribution.
// An empty gradient is a no-op, not an error.
func (t *ImportanceTracker) Accumulate(grad []float64) {
	if len(grad) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, g := range grad {
		if i >= len(t.importance) {
			break
		}
		t.importance[i] += g * g
	}
	t.samples++
}

// FinalizeTask freezes the accumulated importance and anchors the current
// parameter values as the regularization target. Called exactly once per
// completed teaching pack. Importance never decreases across tasks.
func (t *ImportanceTracker) FinalizeTask(params []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	copy(t.anchors, params)
	t.samples = 0
	t.tasks++
}

// Penalty returns sum_i importance_i * (p_i - anchor_i)^2, or 0 before any
// task has been finalized.
func (t *ImportanceTracker) Penalty(params []float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tasks == 0 {
		return 0
	}
	var sum float64
	for i, p := range params {
		if i >= len(t.importance) {
			break
		}
		d := p - t.anchors[i]
		sum += t.importance[i] * d * d
	}
	return sum
}

// PenaltyGrad returns the penalty gradient 2*importance_i*(p_i - anchor_i),
// or nil before any finalize.
func (t *ImportanceTracker) PenaltyGrad(params []float64) []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tasks == 0 {
		return nil
	}
	grad := make([]float64, len(params))
	for i, p := range params {
		if i >= len(t.importance) {
			break
		}
		grad[i] = 2 * t.importance[i] * (p - t.anchors[i])
	}
	return grad
}

// Reset clears all importance and anchors. The only path by which
// importance decreases.
func (t *ImportanceTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.importance {
		t.importance[i] = 0
		t.anchors[i] = 0
	}
	t.samples = 0
	t.tasks = 0
}

// ImportanceSummary is the status-reporting view of the tracker.
type ImportanceSummary struct {
	Tasks      int     `json:"tasks"`
	Parameters int     `json:"parameters"`
	Mean       float64 `json:"mean"`
	Max        float64 `json:"max"`
}

func (t *ImportanceTracker) Summary() ImportanceSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := ImportanceSummary{Tasks: t.tasks, Parameters: len(t.importance)}
	for _, v := range t.importance {
		s.Mean += v
		s.Max = math.Max(s.Max, v)
	}
	if len(t.importance) > 0 {
		s.Mean /= float64(len(t.importance))
	}
	return s
}
