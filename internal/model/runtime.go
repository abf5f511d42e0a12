package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/api"
	sdkmodel "github.com/cexll/agentsdk-go/pkg/model"

	"github.com/metisos/arccore/internal/config"
)

const systemPrompt = `You are a continually learning assistant. Ground your
answer in the MEMORY CONTEXT section of the prompt when it is present, and
answer the final USER line directly.`

// Runtime interface over the agentsdk runtime, kept narrow so tests can
// inject a fake.
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

type runtimeWrapper struct {
	rt *api.Runtime
}

func (r *runtimeWrapper) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeWrapper) Close() {
	r.rt.Close()
}

// RuntimeFactory creates a Runtime; swapped out in tests.
type RuntimeFactory func(cfg *config.Config) (Runtime, error)

func defaultRuntimeFactory(cfg *config.Config) (Runtime, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &sdkmodel.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Model.Name,
			MaxTokens: cfg.Model.ContextLength,
		}
	default: // "anthropic" or empty
		provider = &sdkmodel.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Model.Name,
			MaxTokens: cfg.Model.ContextLength,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   config.Dir(),
		ModelFactory:  provider,
		SystemPrompt:  systemPrompt,
		MaxIterations: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeWrapper{rt: rt}, nil
}

// RuntimeGenerator backs Generator with an agentsdk runtime.
type RuntimeGenerator struct {
	rt   Runtime
	name string
}

// NewRuntimeGenerator builds the provider-backed generator. An API key is
// required; callers without one should fall back to NewEchoGenerator.
func NewRuntimeGenerator(cfg *config.Config, factory RuntimeFactory) (*RuntimeGenerator, error) {
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return nil, fmt.Errorf("provider API key not set (set ARCCORE_PROVIDER_APIKEY or ANTHROPIC_API_KEY)")
	}
	if factory == nil {
		factory = defaultRuntimeFactory
	}
	rt, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	return &RuntimeGenerator{rt: rt, name: cfg.Model.Name}, nil
}

func (g *RuntimeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.rt.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: "arccore",
	})
	if err != nil {
		return "", fmt.Errorf("model invocation: %w", err)
	}
	if resp == nil || resp.Result == nil {
		return "", fmt.Errorf("model invocation: empty response")
	}
	return resp.Result.Output, nil
}

func (g *RuntimeGenerator) Name() string { return g.name }

func (g *RuntimeGenerator) Close() {
	if g.rt != nil {
		g.rt.Close()
	}
}
