package channel

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/metisos/arccore/internal/bus"
	"github.com/metisos/arccore/internal/pipeline"
)

// Interactor is the pipeline surface the dispatcher drives.
type Interactor interface {
	Interact(ctx context.Context, input string) (pipeline.InteractionResult, error)
}

// Dispatcher turns each inbound bus message into one interaction and
// publishes the gated response back to the originating channel.
type Dispatcher struct {
	core Interactor
	bus  *bus.MessageBus
	log  *log.Logger
}

func NewDispatcher(core Interactor, b *bus.MessageBus) *Dispatcher {
	return &Dispatcher{
		core: core,
		bus:  b,
		log:  log.WithPrefix("dispatch"),
	}
}

// Run blocks until ctx is cancelled. Turns are handled serially; a failed
// turn is logged and the loop keeps going.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.bus.Inbound():
			result, err := d.core.Interact(ctx, msg.Content)
			if err != nil {
				d.log.Error("interaction failed", "session", msg.SessionKey(), "err", err)
				continue
			}
			d.bus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: result.Response,
			})
		}
	}
}
