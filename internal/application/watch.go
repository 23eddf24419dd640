package application

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/eventbus"
)

// NotificationRelay forwards a notification somewhere outside the console.
type NotificationRelay interface {
	Relay(ctx context.Context, n entity.NotificationPayload) error
}

// Watcher is the headless consumer of the live stream: it logs every event
// and relays notifications and new conversations.
type Watcher struct {
	app    *App
	relay  NotificationRelay
	logger *zap.Logger
	subs   eventbus.Subscriptions
}

// watchedEvents 记录到日志的事件
var watchedEvents = []entity.EventName{
	entity.EventNewMessage,
	entity.EventNewConversation,
	entity.EventNotification,
	entity.EventAdminOnline,
	entity.EventAdminOffline,
	entity.EventAdminTyping,
	entity.EventError,
	entity.EventChannelClosed,
	entity.EventBadgeChanged,
}

// NewWatcher creates a watcher; relay may be nil.
func (app *App) NewWatcher(relay NotificationRelay) *Watcher {
	return &Watcher{
		app:    app,
		relay:  relay,
		logger: app.logger.With(zap.String("component", "watch")),
	}
}

// Bind subscribes to the bus. Call before App.Start so nothing is missed.
func (w *Watcher) Bind() {
	bus := w.app.bus
	for _, name := range watchedEvents {
		name := name
		w.subs.Add(bus.Subscribe(name, func(ctx context.Context, event eventbus.Event) {
			w.logger.Info("Event", zap.String("event", string(name)), payloadField(event.Payload()))
		}))
	}

	w.subs.Add(eventbus.On(bus, entity.EventNotification, func(ctx context.Context, n entity.NotificationPayload) {
		w.forward(ctx, n)
	}))
	w.subs.Add(eventbus.On(bus, entity.EventNewConversation, func(ctx context.Context, p entity.NewConversationPayload) {
		name := p.ContactName
		if name == "" {
			name = fmt.Sprintf("#%d", p.ConversationID)
		}
		w.forward(ctx, entity.NotificationPayload{
			Type:           string(entity.EventNewConversation),
			Title:          "New conversation",
			Body:           fmt.Sprintf("**%s** via %s", name, channelLabel(p.ChannelType)),
			ConversationID: p.ConversationID,
		})
	}))
}

func (w *Watcher) forward(ctx context.Context, n entity.NotificationPayload) {
	if w.relay == nil {
		return
	}
	err := w.relay.Relay(ctx, n)
	w.app.metrics.Relayed(err)
	if err != nil {
		w.logger.Warn("Relay failed", zap.String("title", n.Title), zap.Error(err))
	}
}

// Close drops the subscriptions.
func (w *Watcher) Close() {
	w.subs.Release(w.app.bus)
}

// payloadField logs wire payloads as text rather than base64.
func payloadField(p any) zap.Field {
	if raw, ok := p.(json.RawMessage); ok {
		return zap.ByteString("payload", raw)
	}
	return zap.Any("payload", p)
}

func channelLabel(t string) string {
	if t == "" {
		return "unknown channel"
	}
	return t
}
