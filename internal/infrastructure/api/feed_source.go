package api

import (
	"context"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/feed"
)

// FeedSource adapts the client to the conversation feed engine.
type FeedSource struct {
	client *Client
}

var (
	_ feed.Source     = (*FeedSource)(nil)
	_ feed.ReadMarker = (*FeedSource)(nil)
)

// NewFeedSource 创建消息流数据源
func NewFeedSource(client *Client) *FeedSource {
	return &FeedSource{client: client}
}

// Latest returns the newest page.
func (s *FeedSource) Latest(ctx context.Context, conversationID int64, limit int) (entity.MessagePage, error) {
	return s.client.Messages(ctx, conversationID, limit, 0)
}

// Before returns the page of messages older than beforeID.
func (s *FeedSource) Before(ctx context.Context, conversationID, beforeID int64, limit int) ([]entity.Message, error) {
	page, err := s.client.Messages(ctx, conversationID, limit, beforeID)
	if err != nil {
		return nil, err
	}
	// a backend that ignores before_id would hand back the newest page again
	out := page.Messages[:0]
	for _, m := range page.Messages {
		if m.ID < beforeID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Newest fetches limit=1.
func (s *FeedSource) Newest(ctx context.Context, conversationID int64) (*entity.Message, error) {
	page, err := s.client.Messages(ctx, conversationID, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(page.Messages) == 0 {
		return nil, nil
	}
	m := page.Messages[len(page.Messages)-1]
	return &m, nil
}

// Send posts a text message.
func (s *FeedSource) Send(ctx context.Context, conversationID int64, msg entity.NewMessage) error {
	_, err := s.client.SendMessage(ctx, conversationID, msg)
	return err
}

// MarkRead marks the conversation read.
func (s *FeedSource) MarkRead(ctx context.Context, conversationID int64) error {
	return s.client.MarkRead(ctx, conversationID)
}
