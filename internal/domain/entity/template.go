package entity

import "strings"

// Template 快捷回复模板
type Template struct {
	ID         int64     `json:"id"`
	OrgID      int64     `json:"org_id"`
	Name       string    `json:"name"`
	Category   string    `json:"category"`
	Content    string    `json:"content"`
	Shortcut   string    `json:"shortcut"`
	IsActive   Flag      `json:"is_active"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  Timestamp `json:"created_at"`
}

// TemplateInput is the create/update body.
type TemplateInput struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
	Shortcut string `json:"shortcut,omitempty"`
}

// Validate 校验模板
func (in TemplateInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(in.Content) == "" {
		return ErrContentRequired
	}
	return nil
}
