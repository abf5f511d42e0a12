package train

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metisos/arccore/internal/config"
)

func TestLowRankInitParams(t *testing.T) {
	b := NewLowRankBackend(4, 32, 8)

	params := b.InitParams()
	require.Len(t, params, 2*4*32)

	for i := 0; i < 4*32; i++ {
		assert.Zero(t, params[i], "factor A starts at zero")
	}
	nonzero := 0
	for i := 4 * 32; i < len(params); i++ {
		if params[i] != 0 {
			nonzero++
		}
	}
	assert.Greater(t, nonzero, 0, "factor B must be seeded")

	assert.Equal(t, params, b.InitParams(), "initialization is deterministic")
}

func TestLowRankGradientMovesFromInit(t *testing.T) {
	b := NewLowRankBackend(4, 32, 8)
	batch := []Sample{{Input: "what orbits the earth", Output: "the moon orbits the earth"}}

	loss, grad, err := b.LossAndGrad(context.Background(), b.InitParams(), batch)
	require.NoError(t, err)
	assert.Greater(t, loss, 0.0)

	var norm float64
	for _, g := range grad {
		norm += g * g
	}
	assert.Greater(t, norm, 0.0, "gradient at initialization must not vanish")
}

func TestLowRankTrainingReducesLoss(t *testing.T) {
	backend := NewLowRankBackend(4, 32, 8)
	engine := NewEngine(backend, NewImportanceTracker(backend.ParamSize()),
		config.TrainingConfig{LearningRate: 0.05, GradClip: 1}, 4)

	samples := []Sample{{Input: "what orbits the earth", Output: "the moon orbits the earth"}}
	ctx := context.Background()

	before, err := engine.Evaluate(ctx, samples)
	require.NoError(t, err)

	pack := &TeachingPack{Name: "single", Train: samples, HeldOut: samples}
	_, err = engine.TrainOnPack(ctx, pack, 50, 0)
	require.NoError(t, err)

	after, err := engine.Evaluate(ctx, samples)
	require.NoError(t, err)
	assert.Less(t, after, before)
}
