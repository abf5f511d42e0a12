package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/metisos/arccore/internal/config"
)

func testSafetyConfig() config.SafetyConfig {
	return config.SafetyConfig{
		GatingEnabled:     true,
		GatingThreshold:   0.2,
		GatingWeight:      1,
		InhibitionEnabled: true,
		FallbackResponse:  "I can't help with that.",
		MonitorEnabled:    true,
		CoherenceMin:      0.4,
		MaxRegenerations:  2,
	}
}

func TestGateWriteAdmitsNovelInput(t *testing.T) {
	g := NewGate(testSafetyConfig())

	v := g.GateWrite("a brand new topic", 0.9)
	assert.True(t, v.Allow)
	assert.Equal(t, 0.9, v.Score, "gating score doubles as initial salience")
}

func TestGateWriteDeniesFamiliarInput(t *testing.T) {
	g := NewGate(testSafetyConfig())

	v := g.GateWrite("the same thing again", 0.05)
	assert.False(t, v.Allow)
	assert.Contains(t, v.Reason, "below threshold")
}

func TestGateWriteDeniesEmptyInput(t *testing.T) {
	g := NewGate(testSafetyConfig())

	v := g.GateWrite("   ", 1)
	assert.False(t, v.Allow)
}

func TestGateWriteDisabled(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.GatingEnabled = false
	g := NewGate(cfg)

	v := g.GateWrite("anything", 0)
	assert.True(t, v.Allow)
	assert.Equal(t, 0.5, v.Score, "disabled gating stores at neutral salience")
}

func TestInhibitBlocksConfiguredTerm(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.BlockedTerms = []string{"forbidden phrase"}
	g := NewGate(cfg)

	v := g.Inhibit("this contains a Forbidden   Phrase in the middle")
	assert.False(t, v.Allow)
	assert.Contains(t, v.Reason, "forbidden phrase")
	assert.Equal(t, "I can't help with that.", g.Fallback())
}

func TestInhibitAllowsCleanResponse(t *testing.T) {
	g := NewGate(testSafetyConfig())

	v := g.Inhibit("a perfectly ordinary answer")
	assert.True(t, v.Allow)
}

func TestInhibitDeterministic(t *testing.T) {
	g := NewGate(testSafetyConfig())

	first := g.Inhibit("how to make a bomb at home")
	second := g.Inhibit("how to make a bomb at home")
	assert.Equal(t, first, second, "identical input must produce identical verdicts")
	assert.False(t, first.Allow)
}

func TestMonitorFlagsRepetition(t *testing.T) {
	m := &CoherenceMonitor{Min: 0.7}

	v := m.Score("question", "spam spam spam spam spam spam spam spam")
	assert.False(t, v.Allow)
	assert.Contains(t, v.Reason, "coherence")

	varied := m.Score("question", "each word here is meaningfully different")
	assert.Greater(t, varied.Score, v.Score)
}

func TestMonitorFlagsEcho(t *testing.T) {
	m := &CoherenceMonitor{Min: 0.7}

	v := m.Score("repeat after me", "repeat after me")
	assert.False(t, v.Allow)
}

func TestMonitorAcceptsVariedResponse(t *testing.T) {
	g := NewGate(testSafetyConfig())

	v := g.Monitor("what is gravity", "gravity is the attraction between masses")
	assert.True(t, v.Allow)
	assert.GreaterOrEqual(t, v.Score, 0.4)
}

func TestMonitorEmptyResponse(t *testing.T) {
	m := &CoherenceMonitor{Min: 0.1}

	v := m.Score("anything", "   ")
	assert.False(t, v.Allow)
	assert.Zero(t, v.Score)
}

func TestMaxRegenerationsNeverNegative(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.MaxRegenerations = -3
	g := NewGate(cfg)

	assert.Zero(t, g.MaxRegenerations())
}

func TestNoveltyGatingClampsScore(t *testing.T) {
	p := &NoveltyGating{Threshold: 0.2, Weight: 5}

	v := p.Evaluate("input", 0.9)
	assert.True(t, v.Allow)
	assert.Equal(t, 1.0, v.Score)
}

func TestPolicyOverrides(t *testing.T) {
	g := NewGate(testSafetyConfig(), WithGatingPolicy(allowAll{}))

	v := g.GateWrite("anything at all", 0)
	assert.True(t, v.Allow)
}

type allowAll struct{}

func (allowAll) Evaluate(string, float64) Verdict {
	return Verdict{Allow: true, Reason: "test override", Score: 1}
}
