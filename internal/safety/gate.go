// Package safety implements the three-stage gate mediating memory writes
// and generated output: contextual gating before a write, cognitive
// inhibition before a response leaves, and metacognitive monitoring after.
// Every stage is deterministic for identical inputs and thresholds.
package safety

import (
	"github.com/charmbracelet/log"

	"github.com/metisos/arccore/internal/config"
)

// Verdict is one stage's decision. Verdicts are consumed synchronously and
// never persisted.
type Verdict struct {
	Allow  bool
	Reason string
	Score  float64
}

// GatingPolicy decides whether a candidate interaction enters memory at
// all, and at what initial salience (the verdict score).
type GatingPolicy interface {
	Evaluate(input string, novelty float64) Verdict
}

// InhibitionPolicy screens a candidate response for policy violations
// before it is returned.
type InhibitionPolicy interface {
	Check(response string) Verdict
}

// MonitorPolicy scores an approved response for coherence; low scores may
// trigger bounded regeneration.
type MonitorPolicy interface {
	Score(input, response string) Verdict
}

// Gate applies the three stages in fixed order. Policies are
// interchangeable; the built-ins cover the default configuration.
type Gate struct {
	cfg        config.SafetyConfig
	gating     GatingPolicy
	inhibition InhibitionPolicy
	monitor    MonitorPolicy
	log        *log.Logger
}

// Option overrides one of the built-in policies.
type Option func(*Gate)

func WithGatingPolicy(p GatingPolicy) Option { return func(g *Gate) { g.gating = p } }

func WithInhibitionPolicy(p InhibitionPolicy) Option { return func(g *Gate) { g.inhibition = p } }

func WithMonitorPolicy(p MonitorPolicy) Option { return func(g *Gate) { g.monitor = p } }

func NewGate(cfg config.SafetyConfig, opts ...Option) *Gate {
	g := &Gate{
		cfg: cfg,
		gating: &NoveltyGating{
			Threshold: cfg.GatingThreshold,
			Weight:    cfg.GatingWeight,
		},
		inhibition: NewLexiconInhibition(cfg.BlockedTerms),
		monitor:    &CoherenceMonitor{Min: cfg.CoherenceMin},
		log:        log.WithPrefix("safety"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GateWrite is the pre-write stage. A deny means the interaction is never
// stored; it remains usable for the current turn only.
func (g *Gate) GateWrite(input string, novelty float64) Verdict {
	if !g.cfg.GatingEnabled {
		return Verdict{Allow: true, Reason: "gating disabled", Score: 0.5}
	}
	v := g.gating.Evaluate(input, novelty)
	if !v.Allow {
		g.log.Debug("memory write gated out", "reason", v.Reason, "score", v.Score)
	}
	return v
}

// Inhibit is the pre-output stage. A deny substitutes the configured
// fallback; it never mutates memory.
func (g *Gate) Inhibit(response string) Verdict {
	if !g.cfg.InhibitionEnabled {
		return Verdict{Allow: true, Reason: "inhibition disabled"}
	}
	v := g.inhibition.Check(response)
	if !v.Allow {
		g.log.Warn("response inhibited", "reason", v.Reason, "score", v.Score)
	}
	return v
}

// Monitor is the post-output stage.
func (g *Gate) Monitor(input, response string) Verdict {
	if !g.cfg.MonitorEnabled {
		return Verdict{Allow: true, Reason: "monitor disabled", Score: 1}
	}
	return g.monitor.Score(input, response)
}

// Fallback is the response substituted when inhibition denies.
func (g *Gate) Fallback() string {
	return g.cfg.FallbackResponse
}

// MaxRegenerations bounds the monitor's retry loop.
func (g *Gate) MaxRegenerations() int {
	if g.cfg.MaxRegenerations < 0 {
		return 0
	}
	return g.cfg.MaxRegenerations
}
