package handlers

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// InboundMessage is a contact message arriving from a channel.
type InboundMessage struct {
	ChannelID      int64  `json:"channel_id"`
	PlatformUserID string `json:"platform_user_id"`
	DisplayName    string `json:"display_name"`
	Content        string `json:"content"`
}

// Inbound plays the part of the channel webhooks: it stores contact messages
// and pushes the same events the real backend does.
type Inbound struct {
	store  *Store
	events Broadcaster
	logger *zap.Logger
	rnd    *rand.Rand
}

// NewInbound creates an injector.
func NewInbound(store *Store, events Broadcaster, logger *zap.Logger) *Inbound {
	if events == nil {
		events = nopBroadcaster{}
	}
	return &Inbound{
		store:  store,
		events: events,
		logger: logger.With(zap.String("component", "inbound")),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Inject stores one inbound message and broadcasts it.
func (in *Inbound) Inject(m InboundMessage) (entity.Message, error) {
	if _, ok := in.store.Channel(m.ChannelID); !ok {
		return entity.Message{}, fmt.Errorf("channel %d: %w", m.ChannelID, errNotFound)
	}
	convID, created := in.store.OpenConversation(m.ChannelID, m.PlatformUserID, m.DisplayName)
	msg, ok := in.store.AppendMessage(entity.Message{
		ConversationID:    convID,
		SenderType:        entity.SenderContact,
		Content:           m.Content,
		PlatformMessageID: fmt.Sprintf("in%d", time.Now().UnixNano()),
	})
	if !ok {
		return entity.Message{}, errNotFound
	}
	conv, _ := in.store.Conversation(convID)
	admin := in.store.Admin()

	if created {
		in.events.Emit(OrgRoom(admin.OrgID), entity.EventNewConversation, entity.NewConversationPayload{
			ConversationID: convID,
			ContactName:    conv.DisplayName(),
			ChannelType:    conv.ChannelType,
		})
	}
	in.events.Emit(OrgRoom(admin.OrgID), entity.EventNewMessage, entity.NewMessagePayload{
		ConversationID: convID,
		MessageID:      msg.ID,
		ChannelType:    conv.ChannelType,
		Content:        msg.Content,
		SenderType:     msg.SenderType,
	})

	kind, title := "new_message", "New message from "+conv.DisplayName()
	if created {
		kind, title = "new_conversation", "New conversation"
	}
	n := in.store.AddNotification(kind, title, conv.DisplayName()+": "+preview(msg), convID)
	in.events.Emit(AdminRoom(admin.AdminID), entity.EventNotification, entity.NotificationPayload{
		Type:           n.NotificationType,
		Title:          n.Title,
		Body:           n.Body,
		ConversationID: convID,
	})

	in.logger.Debug("Inbound message",
		zap.Int64("conversation_id", convID),
		zap.Int64("message_id", msg.ID),
		zap.Bool("new_conversation", created),
	)
	return msg, nil
}

var cannedLines = []string{
	"Hello, are you open today?",
	"Can I change my delivery address?",
	"Thanks for the quick reply!",
	"Is there a discount for two items?",
	"What sizes do you have?",
	"I would like to return an item.",
}

var cannedContacts = []struct{ id, name string }{
	{"U1001", "Somchai"},
	{"U1002", "Mali"},
	{"U3001", "Niran"},
	{"U3002", "Ploy"},
}

// Random injects a canned message from a random contact on a random channel.
func (in *Inbound) Random() (entity.Message, error) {
	channels := in.store.Channels()
	if len(channels) == 0 {
		return entity.Message{}, fmt.Errorf("no channels")
	}
	ch := channels[in.rnd.Intn(len(channels))]
	who := cannedContacts[in.rnd.Intn(len(cannedContacts))]
	return in.Inject(InboundMessage{
		ChannelID:      ch.ID,
		PlatformUserID: who.id,
		DisplayName:    who.name,
		Content:        cannedLines[in.rnd.Intn(len(cannedLines))],
	})
}

// Run injects a random message every interval until ctx is done.
func (in *Inbound) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := in.Random(); err != nil {
				in.logger.Warn("Inbound injection failed", zap.Error(err))
			}
		}
	}
}
