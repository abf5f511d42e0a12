package safety

import (
	"fmt"
	"strings"
)

// NoveltyGating admits interactions whose weighted novelty clears the
// threshold. The score doubles as the initial episodic salience, clamped to
// [0, 1].
type NoveltyGating struct {
	Threshold float64
	Weight    float64
}

func (p *NoveltyGating) Evaluate(input string, novelty float64) Verdict {
	if strings.TrimSpace(input) == "" {
		return Verdict{Allow: false, Reason: "empty input"}
	}
	weight := p.Weight
	if weight <= 0 {
		weight = 1
	}
	score := novelty * weight
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	if score < p.Threshold {
		return Verdict{
			Allow:  false,
			Reason: fmt.Sprintf("novelty %.3f below threshold %.3f", score, p.Threshold),
			Score:  score,
		}
	}
	return Verdict{Allow: true, Reason: "novel enough to store", Score: score}
}
