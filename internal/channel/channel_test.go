package channel

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/metisos/arccore/internal/bus"
	"github.com/metisos/arccore/internal/config"
	"github.com/metisos/arccore/internal/pipeline"
)

type fakeBot struct {
	mu      sync.Mutex
	updates chan tgbotapi.Update
	sent    []tgbotapi.MessageConfig
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetSelf() tgbotapi.User {
	return tgbotapi.User{UserName: "fakebot"}
}

func (f *fakeBot) sentMessages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tgbotapi.MessageConfig, len(f.sent))
	copy(out, f.sent)
	return out
}

func startTestChannel(t *testing.T, cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, *fakeBot) {
	t.Helper()
	bot := newFakeBot()
	ch, err := NewTelegramChannelWithFactory(cfg, b, func(string) (TelegramBot, error) {
		return bot, nil
	})
	if err != nil {
		t.Fatalf("NewTelegramChannelWithFactory error: %v", err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	t.Cleanup(func() { ch.Stop() })
	return ch, bot
}

func TestNewTelegramChannelNoToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	if _, err := NewTelegramChannel(config.TelegramConfig{}, b); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestIsAllowedNoFilter(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake"}, b, func(string) (TelegramBot, error) {
		return newFakeBot(), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ch.IsAllowed("anyone") {
		t.Error("should allow anyone when allowFrom is empty")
	}
}

func TestIsAllowedWithFilter(t *testing.T) {
	b := bus.NewMessageBus(10)
	cfg := config.TelegramConfig{Token: "fake", AllowFrom: []string{"42"}}
	ch, err := NewTelegramChannelWithFactory(cfg, b, func(string) (TelegramBot, error) {
		return newFakeBot(), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ch.IsAllowed("42") {
		t.Error("should allow 42")
	}
	if ch.IsAllowed("7") {
		t.Error("should reject 7")
	}
}

func TestInboundUpdateReachesBus(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, bot := startTestChannel(t, config.TelegramConfig{Token: "fake"}, b)

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 42, UserName: "alice"},
		Chat: &tgbotapi.Chat{ID: 7},
		Text: "hello there",
		Date: int(time.Now().Unix()),
	}}

	select {
	case msg := <-b.Inbound():
		if msg.Channel != "telegram" || msg.SenderID != "42" || msg.ChatID != "7" {
			t.Fatalf("unexpected inbound message: %+v", msg)
		}
		if msg.Content != "hello there" {
			t.Fatalf("Content = %q, want hello there", msg.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestDisallowedSenderIsDropped(t *testing.T) {
	b := bus.NewMessageBus(10)
	cfg := config.TelegramConfig{Token: "fake", AllowFrom: []string{"1"}}
	_, bot := startTestChannel(t, cfg, b)

	bot.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 999},
		Chat: &tgbotapi.Chat{ID: 7},
		Text: "should be dropped",
	}}

	select {
	case msg := <-b.Inbound():
		t.Fatalf("expected no inbound message, got %+v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendChunksLongMessages(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, bot := startTestChannel(t, config.TelegramConfig{Token: "fake"}, b)

	long := strings.Repeat("line of text\n", 500) // ~6500 chars
	if err := ch.Send(bus.OutboundMessage{ChatID: "7", Content: long}); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	sent := bot.sentMessages()
	if len(sent) < 2 {
		t.Fatalf("expected chunked sends, got %d", len(sent))
	}
	for _, msg := range sent {
		if len(msg.Text) > 4000 {
			t.Fatalf("chunk exceeds limit: %d chars", len(msg.Text))
		}
	}
}

func TestOutboundSubscriptionDelivers(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, bot := startTestChannel(t, config.TelegramConfig{Token: "fake"}, b)

	b.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "7", Content: "reply"})

	sent := bot.sentMessages()
	if len(sent) != 1 || sent[0].Text != "reply" {
		t.Fatalf("expected one reply, got %+v", sent)
	}
}

type staticInteractor struct{}

func (staticInteractor) Interact(_ context.Context, input string) (pipeline.InteractionResult, error) {
	return pipeline.InteractionResult{Response: "echo: " + input, State: pipeline.StateDone}, nil
}

func TestDispatcherRoundTrip(t *testing.T) {
	b := bus.NewMessageBus(10)

	replies := make(chan bus.OutboundMessage, 1)
	b.SubscribeOutbound("test", func(msg bus.OutboundMessage) { replies <- msg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewDispatcher(staticInteractor{}, b).Run(ctx)

	b.PublishInbound(bus.InboundMessage{Channel: "test", ChatID: "1", Content: "ping"})

	select {
	case msg := <-replies:
		if msg.Content != "echo: ping" || msg.ChatID != "1" {
			t.Fatalf("unexpected reply: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatcher reply")
	}
}
