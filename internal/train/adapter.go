package train

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/metisos/arccore/internal/config"
)

// TrainingStep is the ephemeral record of one optimization iteration, used
// for logging and early-stop decisions only.
type TrainingStep struct {
	Step      int
	TaskLoss  float64
	Penalty   float64
	TotalLoss float64
}

// AdapterDelta is the low-rank update accumulated by one teaching pack:
// the difference between the adapter parameters after and before the run.
// Deltas compose additively; merging into a base checkpoint happens in the
// external persistence collaborator.
type AdapterDelta struct {
	PackName string
	Rank     int
	Steps    int
	Params   []float64
}

// TrainResult is returned by TrainOnPack.
type TrainResult struct {
	PackName            string  `json:"pack"`
	StepsRun            int     `json:"steps_run"`
	FinalLoss           float64 `json:"final_loss"`
	PenaltyContribution float64 `json:"penalty_contribution"`
	EarlyStopped        bool    `json:"early_stopped"`
}

// Engine applies EWC-regularized SGD to the adapter parameters. Base model
// parameters never flow through it. A pack-training run holds the engine
// mutex for its whole duration: training and generation are not meant to
// share adapter state mid-run.
type Engine struct {
	mu      sync.Mutex
	backend Backend
	tracker *ImportanceTracker
	params  []float64

	lr        float64
	lambda    float64
	clip      float64
	batchSize int
	rank      int

	deltas []AdapterDelta
	log    *log.Logger
}

func NewEngine(backend Backend, tracker *ImportanceTracker, cfg config.TrainingConfig, rank int) *Engine {
	return &Engine{
		backend:   backend,
		tracker:   tracker,
		params:    backend.InitParams(),
		lr:        cfg.LearningRate,
		lambda:    cfg.EWCLambda,
		clip:      cfg.GradClip,
		batchSize: 4,
		rank:      rank,
		log:       log.WithPrefix("train"),
	}
}

// TrainStep runs one optimization update on batch: task loss plus the
// importance-weighted penalty, confined to the adapter parameters.
func (e *Engine) TrainStep(ctx context.Context, step int, batch []Sample) (TrainingStep, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trainStepLocked(ctx, step, batch)
}

func (e *Engine) trainStepLocked(ctx context.Context, step int, batch []Sample) (TrainingStep, error) {
	ts := TrainingStep{Step: step}
	if len(batch) == 0 {
		return ts, ErrInsufficientData
	}

	loss, grad, err := e.backend.LossAndGrad(ctx, e.params, batch)
	if err != nil {
		return ts, fmt.Errorf("backend step %d: %w", step, err)
	}

	ts.TaskLoss = loss
	ts.Penalty = e.tracker.Penalty(e.params)
	ts.TotalLoss = loss + e.lambda*ts.Penalty
	if math.IsNaN(ts.TotalLoss) || math.IsInf(ts.TotalLoss, 0) {
		return ts, &DivergenceError{Step: step, Loss: ts.TotalLoss}
	}

	if pgrad := e.tracker.PenaltyGrad(e.params); pgrad != nil {
		for i := range grad {
			grad[i] += e.lambda * pgrad[i]
		}
	}
	clipGrad(grad, e.clip)
	for i := range e.params {
		e.params[i] -= e.lr * grad[i]
	}
	return ts, nil
}

// TrainOnPack runs up to maxSteps steps on pack, stopping early after
// patience consecutive non-improving steps. On success it accumulates
// Fisher information over the pack's held-out split and finalizes the
// importance tracker; on divergence or cancellation the pack's delta is
// discarded and the tracker is left untouched.
func (e *Engine) TrainOnPack(ctx context.Context, pack *TeachingPack, maxSteps, patience int) (TrainResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := TrainResult{PackName: pack.Name}
	if len(pack.Train) == 0 {
		return result, fmt.Errorf("pack %s: %w", pack.Name, ErrInsufficientData)
	}

	snapshot := make([]float64, len(e.params))
	copy(snapshot, e.params)
	rollback := func() { copy(e.params, snapshot) }

	best := math.Inf(1)
	bad := 0
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			rollback()
			return result, fmt.Errorf("pack %s cancelled: %w", pack.Name, err)
		}

		ts, err := e.trainStepLocked(ctx, step, pack.Batch(step, e.batchSize))
		if err != nil {
			var dv *DivergenceError
			if errors.As(err, &dv) {
				rollback()
				e.log.Error("training diverged, delta discarded", "pack", pack.Name, "step", step)
				return result, err
			}
			if errors.Is(err, ErrInsufficientData) {
				e.log.Warn("skipping step on empty batch", "pack", pack.Name, "step", step)
				continue
			}
			rollback()
			return result, err
		}

		result.StepsRun++
		result.FinalLoss = ts.TaskLoss
		result.PenaltyContribution = e.lambda * ts.Penalty
		e.log.Debug("train step", "pack", pack.Name, "step", step,
			"task_loss", ts.TaskLoss, "penalty", ts.Penalty)

		if ts.TaskLoss < best-1e-9 {
			best = ts.TaskLoss
			bad = 0
		} else {
			bad++
			if patience > 0 && bad >= patience {
				result.EarlyStopped = true
				break
			}
		}
	}

	// Fisher estimation on held-out data, then anchor at the trained point.
	// A run interrupted here still discards its delta: finalizing with a
	// partial importance estimate would leave the pack unprotected.
	for _, sample := range pack.HeldOut {
		if err := ctx.Err(); err != nil {
			rollback()
			return result, fmt.Errorf("pack %s cancelled: %w", pack.Name, err)
		}
		_, grad, err := e.backend.LossAndGrad(ctx, e.params, []Sample{sample})
		if err != nil {
			if errors.Is(err, ErrInsufficientData) {
				continue
			}
			rollback()
			return result, fmt.Errorf("pack %s importance estimation: %w", pack.Name, err)
		}
		e.tracker.Accumulate(grad)
	}
	e.tracker.FinalizeTask(e.params)

	delta := AdapterDelta{PackName: pack.Name, Rank: e.rank, Steps: result.StepsRun}
	delta.Params = make([]float64, len(e.params))
	for i := range e.params {
		delta.Params[i] = e.params[i] - snapshot[i]
	}
	e.deltas = append(e.deltas, delta)

	e.log.Info("pack trained", "pack", pack.Name, "steps", result.StepsRun,
		"final_loss", result.FinalLoss, "early_stopped", result.EarlyStopped)
	return result, nil
}

// Evaluate returns the mean task loss over samples without updating
// parameters.
func (e *Engine) Evaluate(ctx context.Context, samples []Sample) (float64, error) {
	e.mu.Lock()
	params := make([]float64, len(e.params))
	copy(params, e.params)
	e.mu.Unlock()

	if len(samples) == 0 {
		return 0, ErrInsufficientData
	}
	var total float64
	for _, s := range samples {
		loss, _, err := e.backend.LossAndGrad(ctx, params, []Sample{s})
		if err != nil {
			return 0, fmt.Errorf("evaluate: %w", err)
		}
		total += loss
	}
	return total / float64(len(samples)), nil
}

// Tracker returns the importance tracker this engine finalizes into.
func (e *Engine) Tracker() *ImportanceTracker { return e.tracker }

// Params returns a copy of the current adapter parameter vector.
func (e *Engine) Params() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, len(e.params))
	copy(out, e.params)
	return out
}

// Deltas returns the per-pack adapter deltas accumulated so far.
func (e *Engine) Deltas() []AdapterDelta {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AdapterDelta, len(e.deltas))
	copy(out, e.deltas)
	return out
}

func (e *Engine) PacksTrained() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.deltas)
}

func clipGrad(grad []float64, clip float64) {
	if clip <= 0 {
		return
	}
	var norm float64
	for _, g := range grad {
		norm += g * g
	}
	norm = math.Sqrt(norm)
	if norm <= clip {
		return
	}
	scale := clip / norm
	for i := range grad {
		grad[i] *= scale
	}
}
