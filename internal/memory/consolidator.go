package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	rcron "github.com/robfig/cron/v3"

	"github.com/metisos/arccore/internal/bus"
)

// Consolidator owns the sweep schedule. Sweeps are requested over a command
// channel (cron ticks, interaction-count triggers and manual requests all
// funnel through it), so the store is never mutated from two sweeps at
// once. A failed sweep is logged and the next trigger retries
// independently; state stays as of the last successful sweep.
type Consolidator struct {
	store    *Store
	schedule string
	everyN   int

	cmds    chan bus.SweepCommand
	turns   atomic.Int64
	cron    *rcron.Cron
	log     *log.Logger
	stopped sync.Once
}

func NewConsolidator(store *Store, schedule string, everyN int) *Consolidator {
	return &Consolidator{
		store:    store,
		schedule: schedule,
		everyN:   everyN,
		cmds:     make(chan bus.SweepCommand, 8),
		log:      log.WithPrefix("consolidator"),
	}
}

// Run processes sweep commands until ctx is cancelled. Cancellation between
// sweeps is always safe; a sweep only adds semantic entries.
func (c *Consolidator) Run(ctx context.Context) {
	if c.schedule != "" {
		c.cron = rcron.New()
		if _, err := c.cron.AddFunc(c.schedule, func() {
			c.Request(bus.SweepScheduled)
		}); err != nil {
			c.log.Warn("invalid sweep schedule, running on interaction count only", "schedule", c.schedule, "err", err)
			c.cron = nil
		} else {
			c.cron.Start()
		}
	}

	for {
		select {
		case <-ctx.Done():
			c.stop()
			return
		case cmd := <-c.cmds:
			if _, err := c.store.Consolidate(); err != nil {
				c.log.Error("sweep failed, keeping last good state", "reason", cmd.Reason, "err", err)
			}
		}
	}
}

func (c *Consolidator) stop() {
	c.stopped.Do(func() {
		if c.cron != nil {
			<-c.cron.Stop().Done()
		}
		c.log.Info("consolidator stopped")
	})
}

// Request queues a sweep; drops the request when one is already pending so
// bursts collapse into a single sweep.
func (c *Consolidator) Request(reason bus.SweepReason) {
	select {
	case c.cmds <- bus.SweepCommand{Reason: reason}:
	default:
	}
}

// NotifyInteraction counts one completed turn and triggers a sweep every N.
func (c *Consolidator) NotifyInteraction() {
	if c.everyN <= 0 {
		return
	}
	if n := c.turns.Add(1); n%int64(c.everyN) == 0 {
		c.Request(bus.SweepInteraction)
	}
}
