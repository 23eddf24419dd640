package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// ===== Contacts =====

// ListContacts GET /contacts?search=&limit=&offset=
func (c *Client) ListContacts(ctx context.Context, search string, limit, offset int) ([]entity.Contact, error) {
	q := url.Values{}
	if s := strings.TrimSpace(search); s != "" {
		q.Set("search", s)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var out []entity.Contact
	if err := c.getJSON(ctx, "/contacts", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetContact GET /contacts/{id}
func (c *Client) GetContact(ctx context.Context, id int64) (*entity.Contact, error) {
	var out entity.Contact
	if err := c.getJSON(ctx, idPath("/contacts/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateContact PUT /contacts/{id}
func (c *Client) UpdateContact(ctx context.Context, id int64, u entity.ContactUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	return c.sendJSON(ctx, http.MethodPut, idPath("/contacts/%d", id), u, nil)
}

// ===== Templates =====

// ListTemplates GET /templates?category=
func (c *Client) ListTemplates(ctx context.Context, category string) ([]entity.Template, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	var out []entity.Template
	if err := c.getJSON(ctx, "/templates", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTemplate POST /templates, returns the new id.
func (c *Client) CreateTemplate(ctx context.Context, in entity.TemplateInput) (int64, error) {
	if err := in.Validate(); err != nil {
		return 0, err
	}
	var out result
	if err := c.sendJSON(ctx, http.MethodPost, "/templates", in, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// UpdateTemplate PUT /templates/{id}
func (c *Client) UpdateTemplate(ctx context.Context, id int64, in entity.TemplateInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	return c.sendJSON(ctx, http.MethodPut, idPath("/templates/%d", id), in, nil)
}

// DeleteTemplate DELETE /templates/{id}
func (c *Client) DeleteTemplate(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodDelete, idPath("/templates/%d", id), nil, nil)
}

// ===== Team =====

// ListTeam GET /team
func (c *Client) ListTeam(ctx context.Context) ([]entity.TeamMember, error) {
	var out []entity.TeamMember
	if err := c.getJSON(ctx, "/team", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
