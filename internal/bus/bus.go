package bus

import (
	"sync"
	"time"
)

// InboundMessage is one user turn arriving from a channel surface.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage carries a gated response back to its channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}

// SweepReason tags why a consolidation sweep was requested.
type SweepReason string

const (
	SweepScheduled   SweepReason = "scheduled"
	SweepInteraction SweepReason = "interaction-count"
	SweepManual      SweepReason = "manual"
)

// SweepCommand asks the consolidator to run one sweep. Commands never carry
// memory state; the consolidator reads the store itself.
type SweepCommand struct {
	Reason SweepReason
}

// MessageBus fans inbound turns to the pipeline and outbound responses back
// to their originating channels.
type MessageBus struct {
	inbound chan InboundMessage

	mu       sync.RWMutex
	outbound map[string]func(OutboundMessage)
}

func NewMessageBus(buf int) *MessageBus {
	if buf <= 0 {
		buf = 100
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, buf),
		outbound: make(map[string]func(OutboundMessage)),
	}
}

func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

func (b *MessageBus) Inbound() <-chan InboundMessage {
	return b.inbound
}

func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outbound[channel] = fn
}

func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.mu.RLock()
	fn := b.outbound[msg.Channel]
	b.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}
