package service

import (
	"context"
	"sync"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"go.uber.org/zap"
)

// NotificationSource lists and acknowledges admin notifications.
type NotificationSource interface {
	Notifications(ctx context.Context, unreadOnly bool) ([]entity.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Badge 未读通知徽标
//
// Refresh is called at startup and on every live event that may change the
// unread list. Refresh failures keep the previous list.
type Badge struct {
	source NotificationSource
	logger *zap.Logger

	mu       sync.RWMutex
	unread   []entity.Notification
	loaded   bool
	onChange []func(count int)
}

// NewBadge creates an empty badge.
func NewBadge(source NotificationSource, logger *zap.Logger) *Badge {
	return &Badge{
		source: source,
		logger: logger.With(zap.String("component", "badge")),
	}
}

// Refresh reloads the unread list.
func (b *Badge) Refresh(ctx context.Context) error {
	items, err := b.source.Notifications(ctx, true)
	if err != nil {
		b.logger.Debug("Badge refresh failed", zap.Error(err))
		return err
	}

	b.mu.Lock()
	changed := !b.loaded || !sameIDs(b.unread, items)
	b.unread = items
	b.loaded = true
	listeners := make([]func(int), len(b.onChange))
	copy(listeners, b.onChange)
	b.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(len(items))
		}
	}
	return nil
}

// Count 未读数
func (b *Badge) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.unread)
}

// Unread returns a copy of the unread notifications, newest first as served.
func (b *Badge) Unread() []entity.Notification {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]entity.Notification, len(b.unread))
	copy(out, b.unread)
	return out
}

// OnChange registers fn to be called with the new count whenever the unread
// set changes, even if the count stays the same.
func (b *Badge) OnChange(fn func(count int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, fn)
}

// MarkRead acknowledges one notification, then refreshes.
func (b *Badge) MarkRead(ctx context.Context, id int64) error {
	if err := b.source.MarkNotificationRead(ctx, id); err != nil {
		return err
	}
	return b.Refresh(ctx)
}

// MarkAllRead acknowledges everything, then refreshes.
func (b *Badge) MarkAllRead(ctx context.Context) error {
	if err := b.source.MarkAllNotificationsRead(ctx); err != nil {
		return err
	}
	return b.Refresh(ctx)
}

// sameIDs compares two unread lists by notification id, order ignored.
func sameIDs(a, b []entity.Notification) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int64]struct{}, len(a))
	for _, n := range a {
		seen[n.ID] = struct{}{}
	}
	for _, n := range b {
		if _, ok := seen[n.ID]; !ok {
			return false
		}
	}
	return true
}
