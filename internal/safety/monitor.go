package safety

import (
	"fmt"
	"strings"
)

// CoherenceMonitor scores a response on cheap structural signals: lexical
// variety, sane length relative to the prompt, and not parroting the input
// back. Below Min the pipeline may regenerate up to its bounded retry
// count; an exhausted retry budget returns the last candidate annotated
// low-confidence rather than withholding it.
type CoherenceMonitor struct {
	Min float64
}

func (m *CoherenceMonitor) Score(input, response string) Verdict {
	response = strings.TrimSpace(response)
	if response == "" {
		return Verdict{Allow: false, Reason: "empty response", Score: 0}
	}

	words := strings.Fields(strings.ToLower(response))
	score := 1.0

	// Lexical variety: heavy repetition reads as incoherent.
	if len(words) > 0 {
		distinct := make(map[string]struct{}, len(words))
		for _, w := range words {
			distinct[w] = struct{}{}
		}
		variety := float64(len(distinct)) / float64(len(words))
		if variety < 0.5 {
			score -= 0.5 - variety
		}
	}

	// Degenerate lengths.
	if len(words) < 2 {
		score -= 0.3
	}
	if len(words) > 500 {
		score -= 0.2
	}

	// Echoing the prompt verbatim.
	if in := strings.TrimSpace(strings.ToLower(input)); in != "" && strings.ToLower(response) == in {
		score -= 0.4
	}

	if score < 0 {
		score = 0
	}
	if score < m.Min {
		return Verdict{
			Allow:  false,
			Reason: fmt.Sprintf("coherence %.3f below minimum %.3f", score, m.Min),
			Score:  score,
		}
	}
	return Verdict{Allow: true, Reason: "coherent", Score: score}
}
