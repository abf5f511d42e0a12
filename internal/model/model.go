// Package model isolates the base-model runtime behind a small capability
// interface. The engine core never touches provider SDKs directly.
package model

import "context"

// Generator produces a candidate response for a prompt assembled by the
// interaction pipeline.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
	Close()
}
