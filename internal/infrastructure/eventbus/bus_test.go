package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func publish(bus Bus, name entity.EventName, payload any) {
	bus.Publish(context.Background(), NewEvent(name, payload))
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(entity.EventNotification, entity.NotificationPayload{Title: "New conversation"})
	if ev.Name() != entity.EventNotification {
		t.Errorf("Name: got %q, want %q", ev.Name(), entity.EventNotification)
	}
	if p, ok := ev.Payload().(entity.NotificationPayload); !ok || p.Title != "New conversation" {
		t.Errorf("Payload: got %#v", ev.Payload())
	}
	if ev.Timestamp().IsZero() {
		t.Error("Timestamp should not be zero")
	}
}

// Close drains the queue, so every assertion below runs after Close.

func TestInMemoryBus_RoutesByNameAndWildcard(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 100)

	var messages, notifications, all atomic.Int32
	bus.Subscribe(entity.EventNewMessage, func(ctx context.Context, ev Event) {
		messages.Add(1)
	})
	bus.Subscribe(entity.EventNotification, func(ctx context.Context, ev Event) {
		notifications.Add(1)
	})
	bus.Subscribe(Wildcard, func(ctx context.Context, ev Event) {
		all.Add(1)
	})

	publish(bus, entity.EventNewMessage, nil)
	publish(bus, entity.EventNewMessage, nil)
	publish(bus, entity.EventNotification, nil)
	publish(bus, entity.EventAdminTyping, nil)
	bus.Close()

	if messages.Load() != 2 || notifications.Load() != 1 {
		t.Errorf("new_message=%d notification=%d", messages.Load(), notifications.Load())
	}
	if all.Load() != 4 {
		t.Errorf("wildcard should see every event, got %d", all.Load())
	}
}

func TestInMemoryBus_CloseIsIdempotent(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 100)

	var received atomic.Int32
	bus.Subscribe(entity.EventNewConversation, func(ctx context.Context, ev Event) {
		received.Add(1)
	})
	for i := 0; i < 20; i++ {
		publish(bus, entity.EventNewConversation, nil)
	}
	bus.Close()
	bus.Close()
	publish(bus, entity.EventNewConversation, nil)

	if got := received.Load(); got != 20 {
		t.Errorf("queued events should be delivered before close returns, got %d", got)
	}
}

func TestInMemoryBus_DropsWhenBufferFull(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 1)

	started := make(chan struct{})
	release := make(chan struct{})
	var received atomic.Int32
	bus.Subscribe(entity.EventNewMessage, func(ctx context.Context, ev Event) {
		if received.Add(1) == 1 {
			close(started)
			<-release
		}
	})

	publish(bus, entity.EventNewMessage, nil)
	<-started
	publish(bus, entity.EventNewMessage, nil) // buffered
	publish(bus, entity.EventNewMessage, nil) // dropped
	close(release)
	bus.Close()

	if got := received.Load(); got != 2 {
		t.Errorf("expected 2 delivered with a one-slot buffer, got %d", got)
	}
}

func TestInMemoryBus_UnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 100)

	var badge, inbox atomic.Int32
	badgeSub := bus.Subscribe(entity.EventNotification, func(ctx context.Context, ev Event) {
		badge.Add(1)
	})
	bus.Subscribe(entity.EventNotification, func(ctx context.Context, ev Event) {
		inbox.Add(1)
	})

	bus.Unsubscribe(badgeSub)
	bus.Unsubscribe(badgeSub) // second call is a no-op
	bus.Unsubscribe(Subscription{})

	if got := bus.HandlerCount(entity.EventNotification); got != 1 {
		t.Fatalf("expected 1 handler left, got %d", got)
	}

	publish(bus, entity.EventNotification, nil)
	bus.Close()

	if badge.Load() != 0 {
		t.Error("unsubscribed handler must not run")
	}
	if inbox.Load() != 1 {
		t.Errorf("remaining handler should run once, got %d", inbox.Load())
	}
}

func TestSubscriptions_Release(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 100)
	defer bus.Close()

	var subs Subscriptions
	subs.Add(bus.Subscribe(entity.EventNewMessage, func(context.Context, Event) {}))
	subs.Add(bus.Subscribe(entity.EventNotification, func(context.Context, Event) {}))
	if subs.Len() != 2 {
		t.Fatalf("Len: got %d", subs.Len())
	}

	subs.Release(bus)

	if bus.HandlerCount(entity.EventNewMessage) != 0 || bus.HandlerCount(entity.EventNotification) != 0 {
		t.Error("release should remove every handler")
	}
	if subs.Len() != 0 {
		t.Error("release should forget the handles")
	}
}

func TestInMemoryBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 100)

	var feed atomic.Int32
	bus.Subscribe(entity.EventNewMessage, func(ctx context.Context, ev Event) {
		panic("badge refresh crashed")
	})
	bus.Subscribe(entity.EventNewMessage, func(ctx context.Context, ev Event) {
		feed.Add(1)
	})

	publish(bus, entity.EventNewMessage, nil)
	publish(bus, entity.EventNewMessage, nil)
	bus.Close()

	if feed.Load() != 2 {
		t.Errorf("other handlers keep running after a panic, got %d", feed.Load())
	}
}

func TestInMemoryBus_ConcurrentPublishers(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 1000)

	var received atomic.Int32
	bus.Subscribe(entity.EventAdminTyping, func(ctx context.Context, ev Event) {
		received.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(admin int64) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				publish(bus, entity.EventAdminTyping, entity.PresencePayload{AdminID: admin})
			}
		}(int64(i))
	}
	wg.Wait()
	bus.Close()

	if got := received.Load(); got != 200 {
		t.Errorf("expected 200 events, got %d", got)
	}
}

// === Typed payloads ===

func TestOn_DecodesWirePayload(t *testing.T) {
	bus := NewInMemoryBus(testLogger(), 100)
	defer bus.Close()

	got := make(chan entity.NewMessagePayload, 1)
	On(bus, entity.EventNewMessage, func(ctx context.Context, p entity.NewMessagePayload) {
		got <- p
	})

	raw := json.RawMessage(`{"conversation_id": 42, "message_id": 7, "sender_type": "contact"}`)
	bus.Publish(context.Background(), NewEvent(entity.EventNewMessage, raw))

	select {
	case p := <-got:
		if p.ConversationID != 42 || p.MessageID != 7 || p.SenderType != entity.SenderContact {
			t.Errorf("payload content wrong: %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestDecode_Variants(t *testing.T) {
	want := entity.ConversationScopePayload{ConversationID: 3}

	if p, err := Decode[entity.ConversationScopePayload](NewEvent("x", want)); err != nil || p != want {
		t.Errorf("value: got %+v %v", p, err)
	}
	if p, err := Decode[entity.ConversationScopePayload](NewEvent("x", &want)); err != nil || p != want {
		t.Errorf("pointer: got %+v %v", p, err)
	}
	if p, err := Decode[entity.ConversationScopePayload](NewEvent("x", map[string]any{"conversation_id": 3})); err != nil || p != want {
		t.Errorf("map: got %+v %v", p, err)
	}
	if _, err := Decode[entity.ConversationScopePayload](NewEvent("x", json.RawMessage(`{"conversation_id": "x"}`))); err == nil {
		t.Error("mismatched payload should fail")
	}
}
