package train

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPenaltyZeroBeforeFirstTask(t *testing.T) {
	tr := NewImportanceTracker(4)
	tr.Accumulate([]float64{1, 2, 3, 4})

	assert.Zero(t, tr.Penalty([]float64{9, 9, 9, 9}))
	assert.Nil(t, tr.PenaltyGrad([]float64{9, 9, 9, 9}))
}

func TestPenaltyZeroAtAnchor(t *testing.T) {
	tr := NewImportanceTracker(3)
	tr.Accumulate([]float64{1, 1, 1})

	anchor := []float64{0.5, -0.5, 2}
	tr.FinalizeTask(anchor)

	assert.Zero(t, tr.Penalty(anchor))
}

func TestPenaltyGrowsWithImportanceScaledDrift(t *testing.T) {
	tr := NewImportanceTracker(2)
	tr.Accumulate([]float64{2, 0}) // parameter 0 is important, parameter 1 is not
	tr.FinalizeTask([]float64{0, 0})

	driftImportant := tr.Penalty([]float64{1, 0})
	driftUnimportant := tr.Penalty([]float64{0, 1})
	assert.Equal(t, 4.0, driftImportant) // importance 4 * drift 1^2
	assert.Zero(t, driftUnimportant)

	near := tr.Penalty([]float64{0.5, 0})
	far := tr.Penalty([]float64{2, 0})
	assert.Less(t, near, driftImportant)
	assert.Greater(t, far, driftImportant)
}

func TestImportanceAccumulatesAcrossTasks(t *testing.T) {
	tr := NewImportanceTracker(2)

	tr.Accumulate([]float64{1, 0})
	tr.FinalizeTask([]float64{0, 0})
	first := tr.Summary()

	tr.Accumulate([]float64{1, 0})
	tr.FinalizeTask([]float64{0, 0})
	second := tr.Summary()

	require.Equal(t, 1, first.Tasks)
	require.Equal(t, 2, second.Tasks)
	assert.Greater(t, second.Max, first.Max, "importance never decreases across tasks")
}

func TestResetClearsEverything(t *testing.T) {
	tr := NewImportanceTracker(2)
	tr.Accumulate([]float64{3, 3})
	tr.FinalizeTask([]float64{1, 1})

	tr.Reset()

	assert.Zero(t, tr.Penalty([]float64{5, 5}))
	s := tr.Summary()
	assert.Zero(t, s.Tasks)
	assert.Zero(t, s.Max)
}

func TestAccumulateEmptyGradientIsNoOp(t *testing.T) {
	tr := NewImportanceTracker(2)
	tr.Accumulate(nil)
	tr.FinalizeTask([]float64{0, 0})

	assert.Zero(t, tr.Penalty([]float64{1, 1}))
}
