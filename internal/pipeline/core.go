package pipeline

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/metisos/arccore/internal/bus"
	"github.com/metisos/arccore/internal/config"
	"github.com/metisos/arccore/internal/memory"
	"github.com/metisos/arccore/internal/model"
	"github.com/metisos/arccore/internal/safety"
	"github.com/metisos/arccore/internal/train"
)

// Core is the explicit context object owning one engine instance: memory
// store, safety gate, adapter engine and generator. The caller constructs
// it, uses it across many Teach/Interact calls, and closes it; there is no
// package-level state.
type Core struct {
	cfg          *config.Config
	store        *memory.Store
	gate         *safety.Gate
	tracker      *train.ImportanceTracker
	engine       *train.Engine
	gen          model.Generator
	consolidator *memory.Consolidator
	pipeline     *Pipeline
	log          *log.Logger
}

// CoreOption customizes construction (test seams and policy overrides).
type CoreOption func(*Core)

func WithGenerator(g model.Generator) CoreOption { return func(c *Core) { c.gen = g } }

func WithGate(g *safety.Gate) CoreOption { return func(c *Core) { c.gate = g } }

func WithBackendEngine(e *train.Engine) CoreOption { return func(c *Core) { c.engine = e } }

// NewCore wires the engine from config. The generator defaults to the
// provider runtime when an API key is configured, the offline echo
// generator otherwise.
func NewCore(cfg *config.Config, opts ...CoreOption) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := memory.NewStore(cfg.Memory, memory.NewHashingScorer())
	if err != nil {
		return nil, fmt.Errorf("init memory store: %w", err)
	}

	c := &Core{
		cfg:   cfg,
		store: store,
		gate:  safety.NewGate(cfg.Safety),
		log:   log.WithPrefix("core"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.engine == nil {
		backend := train.NewLowRankBackend(cfg.Adapter.Rank, cfg.Adapter.HiddenSize, cfg.Adapter.Alpha)
		tracker := train.NewImportanceTracker(backend.ParamSize())
		c.engine = train.NewEngine(backend, tracker, cfg.Training, cfg.Adapter.Rank)
	}
	// Status always reports the tracker the engine actually finalizes into,
	// injected engines included.
	c.tracker = c.engine.Tracker()
	if c.gen == nil {
		if cfg.Provider.APIKey != "" {
			gen, err := model.NewRuntimeGenerator(cfg, nil)
			if err != nil {
				_ = store.Close()
				return nil, err
			}
			c.gen = gen
		} else {
			c.log.Warn("no provider API key, using offline echo generator")
			c.gen = model.NewEchoGenerator()
		}
	}

	c.consolidator = memory.NewConsolidator(store, cfg.Memory.SweepSchedule, cfg.Memory.SweepEveryN)
	c.pipeline = New(cfg, store, c.gate, c.gen)
	return c, nil
}

// StartConsolidator launches the background sweep loop; it stops when ctx
// is cancelled.
func (c *Core) StartConsolidator(ctx context.Context) {
	go c.consolidator.Run(ctx)
}

// Teach trains one pack with forgetting resistance and finalizes parameter
// importance on success.
func (c *Core) Teach(ctx context.Context, pack *train.TeachingPack) (train.TrainResult, error) {
	return c.engine.TrainOnPack(ctx, pack, c.cfg.Training.MaxSteps, c.cfg.Training.EarlyStopPatience)
}

// TeachFile loads and trains a teaching pack from a JSONL file.
func (c *Core) TeachFile(ctx context.Context, path string) (train.TrainResult, error) {
	pack, err := train.LoadPack(path)
	if err != nil {
		return train.TrainResult{}, err
	}
	return c.Teach(ctx, pack)
}

// Interact runs one gated turn and notifies the consolidator.
func (c *Core) Interact(ctx context.Context, input string) (InteractionResult, error) {
	result, err := c.pipeline.RunTurn(ctx, input)
	if err == nil {
		c.consolidator.NotifyInteraction()
	}
	return result, err
}

// Consolidate runs a sweep inline and returns its report.
func (c *Core) Consolidate() (memory.ConsolidationReport, error) {
	return c.store.Consolidate()
}

// CoreStatus is the status() surface exposed to collaborators.
type CoreStatus struct {
	Memory      memory.Stats            `json:"memory"`
	PacksTaught int                     `json:"packs_taught"`
	Importance  train.ImportanceSummary `json:"importance"`
	Model       string                  `json:"model"`
}

func (c *Core) Status() CoreStatus {
	return CoreStatus{
		Memory:      c.store.Stats(),
		PacksTaught: c.engine.PacksTrained(),
		Importance:  c.tracker.Summary(),
		Model:       c.gen.Name(),
	}
}

// Store exposes the memory store (bench runner, channel surface, tests).
func (c *Core) Store() *memory.Store { return c.store }

// Engine exposes the adapter engine for evaluation.
func (c *Core) Engine() *train.Engine { return c.engine }

// RequestSweep queues a manual consolidation sweep.
func (c *Core) RequestSweep() {
	c.consolidator.Request(bus.SweepManual)
}

func (c *Core) Close() error {
	c.gen.Close()
	return c.store.Close()
}
