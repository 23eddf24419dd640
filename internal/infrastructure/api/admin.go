package api

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// Me GET /me, the identity of the current admin.
func (c *Client) Me(ctx context.Context) (*entity.Identity, error) {
	var out entity.Identity
	if err := c.getJSON(ctx, "/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ===== Notifications =====

// Notifications GET /notifications[?unread=1]
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]entity.Notification, error) {
	q := url.Values{}
	if unreadOnly {
		q.Set("unread", "1")
	}
	var out []entity.Notification
	if err := c.getJSON(ctx, "/notifications", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotificationRead POST /notifications/{id}/read
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodPost, idPath("/notifications/%d/read", id), nil, nil)
}

// MarkAllNotificationsRead POST /notifications/read-all
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.sendJSON(ctx, http.MethodPost, "/notifications/read-all", nil, nil)
}

// ===== Analytics =====

// AnalyticsOverview GET /analytics/overview
func (c *Client) AnalyticsOverview(ctx context.Context) (*entity.AnalyticsOverview, error) {
	var out entity.AnalyticsOverview
	if err := c.getJSON(ctx, "/analytics/overview", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CustomerBehavior GET /analytics/customer-behavior
func (c *Client) CustomerBehavior(ctx context.Context) (*entity.CustomerBehavior, error) {
	var out entity.CustomerBehavior
	if err := c.getJSON(ctx, "/analytics/customer-behavior", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ===== Settings =====

// Settings reads both org settings.
func (c *Client) Settings(ctx context.Context) (*entity.Settings, error) {
	var out entity.Settings
	var toggle struct {
		Enabled bool `json:"ai_auto_reply_enabled"`
	}
	if err := c.getJSON(ctx, "/settings/ai-toggle", nil, &toggle); err != nil {
		return nil, err
	}
	var public struct {
		URL string `json:"public_base_url"`
	}
	if err := c.getJSON(ctx, "/settings/public-url", nil, &public); err != nil {
		return nil, err
	}
	out.AIAutoReplyEnabled = toggle.Enabled
	out.PublicBaseURL = public.URL
	return &out, nil
}

// SetAIAutoReply PUT /settings/ai-toggle
func (c *Client) SetAIAutoReply(ctx context.Context, enabled bool) error {
	return c.sendJSON(ctx, http.MethodPut, "/settings/ai-toggle", map[string]bool{"ai_auto_reply_enabled": enabled}, nil)
}

// SetPublicURL PUT /settings/public-url
func (c *Client) SetPublicURL(ctx context.Context, publicURL string) error {
	return c.sendJSON(ctx, http.MethodPut, "/settings/public-url", map[string]string{"public_base_url": publicURL}, nil)
}

// ===== Backups =====

// ListBackups GET /backups, newest first.
func (c *Client) ListBackups(ctx context.Context) ([]entity.Backup, error) {
	var out []entity.Backup
	if err := c.getJSON(ctx, "/backups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateBackup POST /backups
func (c *Client) CreateBackup(ctx context.Context) (*entity.Backup, error) {
	var out entity.Backup
	if err := c.sendJSON(ctx, http.MethodPost, "/backups", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RestoreBackup POST /backups/{filename}/restore
func (c *Client) RestoreBackup(ctx context.Context, filename string) error {
	if !entity.ValidBackupName(filename) {
		return entity.ErrInvalidBackupName
	}
	return c.sendJSON(ctx, http.MethodPost, "/backups/"+url.PathEscape(filename)+"/restore", nil, nil)
}

// DownloadBackup GET /backups/{filename}/download into w.
func (c *Client) DownloadBackup(ctx context.Context, filename string, w io.Writer) error {
	if !entity.ValidBackupName(filename) {
		return entity.ErrInvalidBackupName
	}
	_, err := c.download(ctx, c.URL("/backups/"+url.PathEscape(filename)+"/download", nil), w)
	return err
}
