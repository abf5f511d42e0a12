package bench

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/metisos/arccore/internal/pipeline"
	"github.com/metisos/arccore/internal/safety"
	"github.com/metisos/arccore/internal/train"
)

// Metrics is the benchmark report. Every numeric field is non-negative;
// Timestamp is RFC 3339.
type Metrics struct {
	Perplexity        float64 `json:"perplexity"`
	AvgLatencyMS      float64 `json:"avg_latency_ms"`
	PeakMemoryMB      float64 `json:"peak_memory_mb"`
	ToxicityScore     float64 `json:"toxicity_score"`
	CoherenceScore    float64 `json:"coherence_score"`
	FactualAccuracy   float64 `json:"factual_accuracy"`
	ResponseLengthAvg float64 `json:"response_length_avg"`
	NumSamples        int     `json:"num_samples"`
	ModelName         string  `json:"model_name"`
	Timestamp         string  `json:"timestamp"`
}

func (m Metrics) Validate() error {
	fields := map[string]float64{
		"perplexity":          m.Perplexity,
		"avg_latency_ms":      m.AvgLatencyMS,
		"peak_memory_mb":      m.PeakMemoryMB,
		"toxicity_score":      m.ToxicityScore,
		"coherence_score":     m.CoherenceScore,
		"factual_accuracy":    m.FactualAccuracy,
		"response_length_avg": m.ResponseLengthAvg,
		"num_samples":         float64(m.NumSamples),
	}
	for name, v := range fields {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("metric %s: invalid value %v", name, v)
		}
	}
	if _, err := time.Parse(time.RFC3339, m.Timestamp); err != nil {
		return fmt.Errorf("metric timestamp: %w", err)
	}
	return nil
}

// Target is the slice of the engine core the runner drives.
type Target interface {
	Interact(ctx context.Context, input string) (pipeline.InteractionResult, error)
}

// Evaluator scores held-out samples; the adapter engine satisfies it.
// Optional: without one, perplexity reports zero.
type Evaluator interface {
	Evaluate(ctx context.Context, samples []train.Sample) (float64, error)
}

// Runner drives one suite through the interaction pipeline and aggregates
// the per-case observations into Metrics.
type Runner struct {
	target    Target
	evaluator Evaluator
	screen    *safety.LexiconInhibition
	modelName string
	log       *log.Logger
}

func NewRunner(target Target, evaluator Evaluator, modelName string) *Runner {
	return &Runner{
		target:    target,
		evaluator: evaluator,
		screen:    safety.NewLexiconInhibition(nil),
		modelName: modelName,
		log:       log.WithPrefix("bench"),
	}
}

// Run interacts once per record and aggregates. Per-case pipeline errors
// fail the run; a failed perplexity evaluation degrades to zero since the
// suite may be too small for the adapter to score.
func (r *Runner) Run(ctx context.Context, records []Record) (Metrics, error) {
	var (
		latencySum   float64
		coherenceSum float64
		toxicitySum  float64
		lengthSum    float64
		factualHits  int
		peakHeap     uint64
	)

	for i, rec := range records {
		result, err := r.target.Interact(ctx, rec.Prompt)
		if err != nil {
			return Metrics{}, fmt.Errorf("case %d (%s): %w", i+1, rec.Category, err)
		}
		latencySum += result.LatencyMS
		coherenceSum += result.CoherenceScore
		toxicitySum += r.screen.ToxicityScore(result.Response)
		lengthSum += float64(len(strings.Fields(result.Response)))
		if containsFold(result.Response, rec.Expected) {
			factualHits++
		}

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if ms.HeapAlloc > peakHeap {
			peakHeap = ms.HeapAlloc
		}
	}

	n := float64(len(records))
	m := Metrics{
		Perplexity:        r.perplexity(ctx, records),
		AvgLatencyMS:      latencySum / n,
		PeakMemoryMB:      float64(peakHeap) / (1024 * 1024),
		ToxicityScore:     toxicitySum / n,
		CoherenceScore:    coherenceSum / n,
		FactualAccuracy:   float64(factualHits) / n,
		ResponseLengthAvg: lengthSum / n,
		NumSamples:        len(records),
		ModelName:         r.modelName,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.Validate(); err != nil {
		return Metrics{}, err
	}
	return m, nil
}

// perplexity maps suite cases onto adapter samples and exponentiates the
// mean held-out loss. Missing evaluator or an evaluation failure reports
// zero rather than failing the run.
func (r *Runner) perplexity(ctx context.Context, records []Record) float64 {
	if r.evaluator == nil {
		return 0
	}
	samples := make([]train.Sample, len(records))
	for i, rec := range records {
		samples[i] = train.Sample{Input: rec.Prompt, Output: rec.Expected}
	}
	loss, err := r.evaluator.Evaluate(ctx, samples)
	if err != nil {
		r.log.Warn("perplexity evaluation skipped", "err", err)
		return 0
	}
	p := math.Exp(loss)
	if math.IsInf(p, 0) || math.IsNaN(p) {
		return 0
	}
	return p
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
