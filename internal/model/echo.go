package model

import (
	"context"
	"strings"
)

// EchoGenerator is the offline generator: it answers from the memory
// context embedded in the prompt, or acknowledges the input when nothing
// matches. Deterministic, so the gating pipeline behaves identically run
// to run. Used when no provider API key is configured and throughout the
// tests.
type EchoGenerator struct{}

func NewEchoGenerator() *EchoGenerator { return &EchoGenerator{} }

func (g *EchoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	user := lastUserLine(prompt)
	if ctx := firstContextLine(prompt); ctx != "" {
		return "From what I remember: " + ctx, nil
	}
	if user == "" {
		return "I'm listening.", nil
	}
	return "Noted: " + user, nil
}

func (g *EchoGenerator) Name() string { return "echo" }

func (g *EchoGenerator) Close() {}

func lastUserLine(prompt string) string {
	lines := strings.Split(prompt, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if rest, ok := strings.CutPrefix(lines[i], "USER: "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func firstContextLine(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(line, "- "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}
