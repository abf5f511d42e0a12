package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/metisos/arccore/internal/config"
	"github.com/metisos/arccore/internal/memory"
	"github.com/metisos/arccore/internal/model"
	"github.com/metisos/arccore/internal/safety"
)

// State is the pipeline's position in one turn.
type State string

const (
	StateContextBuild State = "CONTEXT_BUILD"
	StateGenerate     State = "GENERATE"
	StateInhibitCheck State = "INHIBIT_CHECK"
	StateRegenerate   State = "REGENERATE"
	StateMemoryGate   State = "MEMORY_GATE"
	StateMemoryWrite  State = "MEMORY_WRITE"
	StateDone         State = "DONE"
	StateBlocked      State = "BLOCKED"
	StateError        State = "ERROR"
)

// InteractionResult is what one turn returns to the caller.
type InteractionResult struct {
	Response       string
	State          State
	Annotations    []string
	CoherenceScore float64
	LatencyMS      float64
	Stored         bool
}

// Pipeline drives one user turn: read memory, generate, gate, write
// memory. Memory is written only after the response is finalized, so
// memory never reflects a suppressed candidate.
type Pipeline struct {
	cfg   *config.Config
	store *memory.Store
	gate  *safety.Gate
	gen   model.Generator
	log   *log.Logger
}

func New(cfg *config.Config, store *memory.Store, gate *safety.Gate, gen model.Generator) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		store: store,
		gate:  gate,
		gen:   gen,
		log:   log.WithPrefix("pipeline"),
	}
}

// RunTurn executes the state machine for one input. An ERROR terminal
// state carries the collaborator failure back so the caller can retry the
// single turn.
func (p *Pipeline) RunTurn(ctx context.Context, input string) (InteractionResult, error) {
	started := time.Now()
	result := InteractionResult{State: StateContextBuild}

	items, err := p.store.RetrieveContext(input)
	if err != nil {
		result.State = StateError
		return result, fmt.Errorf("context build: %w", err)
	}
	prompt := p.buildPrompt(input, items)

	result.State = StateGenerate
	response, err := p.gen.Generate(ctx, prompt)
	if err != nil {
		result.State = StateError
		return result, fmt.Errorf("generate: %w", err)
	}

	result.State = StateInhibitCheck
	blocked := false
	if v := p.gate.Inhibit(response); !v.Allow {
		response = p.gate.Fallback()
		blocked = true
		result.Annotations = append(result.Annotations, "inhibited: "+v.Reason)
	}

	coherence := safety.Verdict{Allow: true, Score: 1}
	if !blocked {
		coherence = p.gate.Monitor(input, response)
		for attempt := 0; !coherence.Allow && attempt < p.gate.MaxRegenerations(); attempt++ {
			result.State = StateRegenerate
			candidate, err := p.gen.Generate(ctx, prompt)
			if err != nil {
				result.State = StateError
				return result, fmt.Errorf("regenerate: %w", err)
			}
			if v := p.gate.Inhibit(candidate); !v.Allow {
				response = p.gate.Fallback()
				blocked = true
				result.Annotations = append(result.Annotations, "inhibited on regenerate: "+v.Reason)
				break
			}
			response = candidate
			coherence = p.gate.Monitor(input, response)
		}
		if !blocked && !coherence.Allow {
			result.Annotations = append(result.Annotations, "low-confidence: "+coherence.Reason)
		}
	}
	result.CoherenceScore = coherence.Score

	// Response is final from here on; only now may memory change.
	result.State = StateMemoryGate
	novelty := p.store.Novelty(input)
	gateVerdict := p.gate.GateWrite(input, novelty)

	if gateVerdict.Allow {
		result.State = StateMemoryWrite
		p.store.Record(memory.Interaction{
			ID:        uuid.NewString(),
			Input:     input,
			Response:  response,
			Timestamp: time.Now(),
			Salience:  gateVerdict.Score,
		})
		result.Stored = true
	} else {
		result.Annotations = append(result.Annotations, "not stored: "+gateVerdict.Reason)
	}

	result.Response = response
	result.LatencyMS = float64(time.Since(started).Microseconds()) / 1000
	if blocked {
		result.State = StateBlocked
	} else {
		result.State = StateDone
	}
	return result, nil
}

// buildPrompt assembles memory context plus the user line, truncated to the
// configured context length (rough 4-chars-per-token estimate).
func (p *Pipeline) buildPrompt(input string, items []memory.ContextItem) string {
	budget := p.cfg.Model.ContextLength * 4
	var sb strings.Builder
	sb.WriteString("MEMORY CONTEXT:\n")
	used := sb.Len()
	reserved := len("USER: ") + len(input) + 1
	for _, item := range items {
		line := "- [" + string(item.Tier) + "] " + item.Text + "\n"
		if used+len(line)+reserved > budget {
			break
		}
		sb.WriteString(line)
		used += len(line)
	}
	sb.WriteString("USER: ")
	sb.WriteString(input)
	return sb.String()
}
