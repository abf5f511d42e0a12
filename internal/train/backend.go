package train

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"unicode"
)

// Backend is the numeric collaborator: it computes task loss and its
// gradient with respect to the adapter parameters. The base model is frozen
// from the engine's point of view; only adapter parameters flow through
// here.
type Backend interface {
	ParamSize() int
	// InitParams returns the starting adapter vector. Deterministic, so runs
	// are reproducible.
	InitParams() []float64
	LossAndGrad(ctx context.Context, params []float64, batch []Sample) (float64, []float64, error)
}

// LowRankBackend is the built-in reference backend: a frozen hashing
// featurizer with a trainable rank-r linear map between input and output
// feature space (y_hat = A^T (B x), squared error). It exists so teaching
// runs end to end without an external runtime; a real model backend plugs
// in through the Backend interface.
type LowRankBackend struct {
	Rank    int
	Dim     int
	scaling float64
}

func NewLowRankBackend(rank, dim int, alpha float64) *LowRankBackend {
	if rank <= 0 {
		rank = 4
	}
	if dim <= 0 {
		dim = 64
	}
	scaling := 1.0
	if alpha > 0 {
		scaling = alpha / float64(rank)
	}
	return &LowRankBackend{Rank: rank, Dim: dim, scaling: scaling}
}

// ParamSize is the flat adapter vector length: factors A and B, each
// rank x dim.
func (b *LowRankBackend) ParamSize() int {
	return 2 * b.Rank * b.Dim
}

// InitParams zeroes factor A and seeds factor B with small fixed
// pseudo-random values. The product starts at zero while the gradients do
// not, so the first step can move.
func (b *LowRankBackend) InitParams() []float64 {
	params := make([]float64, b.ParamSize())
	rng := rand.New(rand.NewSource(1))
	scale := 1 / math.Sqrt(float64(b.Dim))
	for i := b.Rank * b.Dim; i < len(params); i++ {
		params[i] = (rng.Float64()*2 - 1) * scale
	}
	return params
}

func (b *LowRankBackend) LossAndGrad(ctx context.Context, params []float64, batch []Sample) (float64, []float64, error) {
	if len(batch) == 0 {
		return 0, nil, ErrInsufficientData
	}
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	r, d := b.Rank, b.Dim
	a := params[:r*d]
	bb := params[r*d : 2*r*d]
	grad := make([]float64, len(params))
	gradA := grad[:r*d]
	gradB := grad[r*d : 2*r*d]

	var total float64
	h := make([]float64, r)
	yhat := make([]float64, d)
	errs := make([]float64, d)

	for _, sample := range batch {
		x := b.features(sample.Input)
		y := b.features(sample.Output)

		for k := 0; k < r; k++ {
			var sum float64
			row := bb[k*d : (k+1)*d]
			for i, xi := range x {
				if xi != 0 {
					sum += row[i] * xi
				}
			}
			h[k] = sum
		}
		for j := 0; j < d; j++ {
			var sum float64
			for k := 0; k < r; k++ {
				sum += a[k*d+j] * h[k]
			}
			yhat[j] = b.scaling * sum
		}

		var loss float64
		for j := 0; j < d; j++ {
			errs[j] = yhat[j] - y[j]
			loss += errs[j] * errs[j]
		}
		total += loss / (2 * float64(d))

		scale := b.scaling / float64(d)
		for k := 0; k < r; k++ {
			var dh float64
			for j := 0; j < d; j++ {
				gradA[k*d+j] += scale * h[k] * errs[j]
				dh += a[k*d+j] * errs[j]
			}
			dh *= scale
			row := gradB[k*d : (k+1)*d]
			for i, xi := range x {
				if xi != 0 {
					row[i] += dh * xi
				}
			}
		}
	}

	n := float64(len(batch))
	for i := range grad {
		grad[i] /= n
	}
	return total / n, grad, nil
}

// features is the frozen featurizer: unit-normalized hashed bag of words.
func (b *LowRankBackend) features(text string) []float64 {
	vec := make([]float64, b.Dim)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	count := 0
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(f))
		vec[int(h.Sum32())%b.Dim]++
		count++
	}
	if count > 0 {
		var norm float64
		for _, v := range vec {
			norm += v * v
		}
		if norm > 0 {
			inv := 1 / math.Sqrt(norm)
			for i := range vec {
				vec[i] *= inv
			}
		}
	}
	return vec
}
