package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// ListConversations GET /conversations
func (c *Client) ListConversations(ctx context.Context, f entity.ConversationFilter) ([]entity.Conversation, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.ChannelID > 0 {
		q.Set("channel_id", strconv.FormatInt(f.ChannelID, 10))
	}
	if f.AssignedAdminID > 0 {
		q.Set("assigned_admin_id", strconv.FormatInt(f.AssignedAdminID, 10))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		q.Set("search", s)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}

	var out []entity.Conversation
	if err := c.getJSON(ctx, "/conversations", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation GET /conversations/{id}
func (c *Client) GetConversation(ctx context.Context, id int64) (*entity.Conversation, error) {
	var out entity.Conversation
	if err := c.getJSON(ctx, idPath("/conversations/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateConversation PUT /conversations/{id}: status, assignee, priority, subject.
func (c *Client) UpdateConversation(ctx context.Context, id int64, u entity.ConversationUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	return c.sendJSON(ctx, http.MethodPut, idPath("/conversations/%d", id), u, nil)
}

// SetPriority is UpdateConversation with only the priority set.
func (c *Client) SetPriority(ctx context.Context, id int64, p entity.Priority) error {
	return c.UpdateConversation(ctx, id, entity.ConversationUpdate{Priority: &p})
}

// Assign is UpdateConversation with only the assignee set.
func (c *Client) Assign(ctx context.Context, id, adminID int64) error {
	return c.UpdateConversation(ctx, id, entity.ConversationUpdate{AssignedAdminID: &adminID})
}

// ResolveConversation POST /conversations/{id}/resolve
func (c *Client) ResolveConversation(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodPost, idPath("/conversations/%d/resolve", id), nil, nil)
}

// ReopenConversation POST /conversations/{id}/reopen
func (c *Client) ReopenConversation(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodPost, idPath("/conversations/%d/reopen", id), nil, nil)
}

// MarkRead POST /conversations/{id}/read
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodPost, idPath("/conversations/%d/read", id), nil, nil)
}

// Pin POST /conversations/{id}/pin
func (c *Client) Pin(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodPost, idPath("/conversations/%d/pin", id), nil, nil)
}

// Unpin POST /conversations/{id}/unpin
func (c *Client) Unpin(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodPost, idPath("/conversations/%d/unpin", id), nil, nil)
}

// Tags GET /conversations/{id}/tags
func (c *Client) Tags(ctx context.Context, id int64) ([]string, error) {
	var out []string
	if err := c.getJSON(ctx, idPath("/conversations/%d/tags", id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddTag POST /conversations/{id}/tags
func (c *Client) AddTag(ctx context.Context, id int64, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return entity.ErrEmptyTag
	}
	return c.sendJSON(ctx, http.MethodPost, idPath("/conversations/%d/tags", id), map[string]string{"tag": tag}, nil)
}

// RemoveTag DELETE /conversations/{id}/tags/{tag}
func (c *Client) RemoveTag(ctx context.Context, id int64, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return entity.ErrEmptyTag
	}
	path := fmt.Sprintf("/conversations/%d/tags/%s", id, url.PathEscape(tag))
	return c.sendJSON(ctx, http.MethodDelete, path, nil, nil)
}

// ExportConversation streams one conversation as CSV into w and returns the
// server-suggested file name.
func (c *Client) ExportConversation(ctx context.Context, id int64, w io.Writer) (string, error) {
	name, err := c.download(ctx, c.URL(idPath("/conversations/%d/export", id), nil), w)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = fmt.Sprintf("conversation_%d.csv", id)
	}
	return name, nil
}

// ExportAll streams every conversation as CSV into w.
func (c *Client) ExportAll(ctx context.Context, w io.Writer) (string, error) {
	name, err := c.download(ctx, c.URL("/conversations/export-all", nil), w)
	if err != nil {
		return "", err
	}
	if name == "" {
		name = "all_conversations.csv"
	}
	return name, nil
}
