package safety

import (
	"fmt"
	"strings"
	"unicode"
)

// defaultBlockedTerms is a minimal built-in screen; deployments extend it
// through safety.blockedTerms in the config.
var defaultBlockedTerms = []string{
	"kill yourself",
	"how to make a bomb",
	"hate speech",
}

// LexiconInhibition denies responses containing any blocked term. The
// score is the fraction of blocked terms found, so callers can log
// severity. Matching is case-insensitive over normalized whitespace.
type LexiconInhibition struct {
	terms []string
}

func NewLexiconInhibition(extra []string) *LexiconInhibition {
	terms := make([]string, 0, len(defaultBlockedTerms)+len(extra))
	terms = append(terms, defaultBlockedTerms...)
	for _, t := range extra {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return &LexiconInhibition{terms: terms}
}

func (p *LexiconInhibition) Check(response string) Verdict {
	normalized := normalize(response)
	matched := 0
	first := ""
	for _, term := range p.terms {
		if strings.Contains(normalized, term) {
			matched++
			if first == "" {
				first = term
			}
		}
	}
	if matched > 0 {
		return Verdict{
			Allow:  false,
			Reason: fmt.Sprintf("blocked term %q", first),
			Score:  float64(matched) / float64(len(p.terms)),
		}
	}
	return Verdict{Allow: true, Reason: "clean"}
}

// ToxicityScore exposes the raw screen score for benchmark reporting.
func (p *LexiconInhibition) ToxicityScore(response string) float64 {
	return 1 - boolToFloat(p.Check(response).Allow)
}

func normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	lastSpace := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			if !lastSpace {
				sb.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		sb.WriteRune(r)
	}
	return sb.String()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
