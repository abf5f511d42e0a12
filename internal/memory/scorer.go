package memory

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"
)

// Scorer is the pluggable similarity/grouping strategy used by retrieval,
// contextual gating (novelty) and consolidation (concept keys). Scores must
// be deterministic for identical inputs.
type Scorer interface {
	// Vector returns a feature vector for text, suitable for CosineSimilarity.
	Vector(text string) []float32
	// Similarity returns a score in [0, 1].
	Similarity(a, b string) float64
	// ConceptKey returns the grouping key for consolidation, "" when the
	// text carries no usable signal.
	ConceptKey(text string) string
}

// HashingScorer is the built-in scorer: bag-of-keywords feature hashing plus
// cosine similarity. No model calls, fully deterministic.
type HashingScorer struct {
	Dim int
}

const defaultScorerDim = 128

func NewHashingScorer() *HashingScorer {
	return &HashingScorer{Dim: defaultScorerDim}
}

func (s *HashingScorer) dim() int {
	if s.Dim <= 0 {
		return defaultScorerDim
	}
	return s.Dim
}

func (s *HashingScorer) Vector(text string) []float32 {
	vec := make([]float32, s.dim())
	for _, tok := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%s.dim()]++
	}
	return vec
}

func (s *HashingScorer) Similarity(a, b string) float64 {
	score, err := CosineSimilarity(s.Vector(a), s.Vector(b))
	if err != nil || score < 0 {
		return 0
	}
	return score
}

// ConceptKey picks the most frequent keyword; frequency ties break to the
// lexicographically smallest token so sweeps are reproducible.
func (s *HashingScorer) ConceptKey(text string) string {
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		counts[tok]++
	}
	best := ""
	bestN := 0
	for tok, n := range counts {
		if n > bestN || (n == bestN && (best == "" || tok < best)) {
			best, bestN = tok, n
		}
	}
	return best
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "day": {}, "get": {}, "has": {}, "him": {},
	"his": {}, "how": {}, "its": {}, "let": {}, "she": {}, "too": {},
	"use": {}, "that": {}, "this": {}, "with": {}, "from": {}, "have": {},
	"what": {}, "when": {}, "your": {}, "about": {}, "there": {},
	"which": {}, "would": {}, "could": {}, "should": {}, "today": {},
	"them": {}, "then": {}, "were": {}, "will": {}, "just": {},
}

// tokenize lowercases, strips punctuation and drops stopwords and tokens
// shorter than three runes. Duplicates are kept for frequency counting.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ExtractKeywords returns the deduplicated, sorted token set of text.
func ExtractKeywords(text string) []string {
	toks := tokenize(text)
	seen := make(map[string]struct{}, len(toks))
	out := make([]string, 0, len(toks))
	for _, f := range toks {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
