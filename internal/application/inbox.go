package application

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/service"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/eventbus"
	"github.com/chatdesk/chatdesk/console/pkg/safego"
)

// ConversationLister lists conversations.
type ConversationLister interface {
	ListConversations(ctx context.Context, f entity.ConversationFilter) ([]entity.Conversation, error)
}

// Inbox 会话列表
//
// The list is pinned first, then most recently active. It reloads in full on
// new_message and new_conversation.
type Inbox struct {
	*service.ListView[entity.Conversation]

	lister ConversationLister
	bus    eventbus.Bus
	run    safego.Runner
	logger *zap.Logger

	mu       sync.RWMutex
	filter   entity.ConversationFilter
	onReload []func()

	subs eventbus.Subscriptions
}

// NewInbox creates an inbox bound to the live stream. Close releases it.
func NewInbox(lister ConversationLister, bus eventbus.Bus, run safego.Runner, logger *zap.Logger) *Inbox {
	in := &Inbox{
		lister: lister,
		bus:    bus,
		run:    run,
		logger: logger.With(zap.String("component", "inbox")),
	}
	in.ListView = service.NewListView("conversations", in.load, logger)

	reload := func(ctx context.Context, _ eventbus.Event) {
		in.run("inbox-reload", func() {
			if err := in.Load(context.Background()); err != nil {
				in.logger.Debug("Inbox reload failed", zap.Error(err))
				return
			}
			in.mu.RLock()
			fns := append([]func(){}, in.onReload...)
			in.mu.RUnlock()
			for _, fn := range fns {
				fn()
			}
		})
	}
	in.subs.Add(bus.Subscribe(entity.EventNewMessage, reload))
	in.subs.Add(bus.Subscribe(entity.EventNewConversation, reload))
	return in
}

// NewInbox builds an inbox wired to this app.
func (app *App) NewInbox() *Inbox {
	return NewInbox(app.client, app.bus, app.run, app.logger)
}

func (in *Inbox) load(ctx context.Context) ([]entity.Conversation, error) {
	in.mu.RLock()
	f := in.filter
	in.mu.RUnlock()

	items, err := in.lister.ListConversations(ctx, f)
	if err != nil {
		return nil, err
	}
	SortInbox(items)
	return items, nil
}

// SetFilter replaces the filter; the next Load applies it.
func (in *Inbox) SetFilter(f entity.ConversationFilter) {
	in.mu.Lock()
	in.filter = f
	in.mu.Unlock()
}

// Filter 当前过滤条件
func (in *Inbox) Filter() entity.ConversationFilter {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.filter
}

// OnReload registers fn to run after a live reload.
func (in *Inbox) OnReload(fn func()) {
	in.mu.Lock()
	in.onReload = append(in.onReload, fn)
	in.mu.Unlock()
}

// Unread sums the unread counts of the loaded conversations.
func (in *Inbox) Unread() int {
	n := 0
	for _, c := range in.Items() {
		n += c.UnreadCount
	}
	return n
}

// Close drops the live subscriptions.
func (in *Inbox) Close() {
	in.subs.Release(in.bus)
}

// SortInbox orders pinned conversations first, then by last activity, newest
// first. Ties keep the id order, highest first.
func SortInbox(items []entity.Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.IsPinned != b.IsPinned {
			return bool(a.IsPinned)
		}
		if !a.LastMessageAt.Equal(b.LastMessageAt.Time) {
			return a.LastMessageAt.After(b.LastMessageAt.Time)
		}
		return a.ID > b.ID
	})
}
