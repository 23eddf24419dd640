package entity

// ConversationStatus 会话状态
type ConversationStatus string

const (
	StatusOpen     ConversationStatus = "open"
	StatusAssigned ConversationStatus = "assigned"
	StatusResolved ConversationStatus = "resolved"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusResolved:
		return true
	}
	return false
}

// Priority 会话优先级
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Rank orders priorities for display, urgent first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	default:
		return 2
	}
}

// Conversation 会话
type Conversation struct {
	ID                 int64              `json:"id"`
	OrgID              int64              `json:"org_id"`
	ChannelID          int64              `json:"channel_id"`
	ContactID          int64              `json:"contact_id"`
	Status             ConversationStatus `json:"status"`
	AssignedAdminID    *int64             `json:"assigned_admin_id"`
	Priority           Priority           `json:"priority"`
	Subject            string             `json:"subject"`
	IsPinned           Flag               `json:"is_pinned"`
	Tags               []string           `json:"tags"`
	LastMessageAt      Timestamp          `json:"last_message_at"`
	LastMessagePreview string             `json:"last_message_preview"`
	UnreadCount        int                `json:"unread_count"`
	ResolvedAt         Timestamp          `json:"resolved_at"`
	CreatedAt          Timestamp          `json:"created_at"`
	UpdatedAt          Timestamp          `json:"updated_at"`

	ContactName       string `json:"contact_name,omitempty"`
	ContactAvatar     string `json:"contact_avatar,omitempty"`
	PlatformUserID    string `json:"platform_user_id,omitempty"`
	ChannelType       string `json:"channel_type,omitempty"`
	ChannelName       string `json:"channel_name,omitempty"`
	AssignedAdminName string `json:"assigned_admin_name,omitempty"`
}

// DisplayName falls back to the platform id when the contact has no name.
func (c *Conversation) DisplayName() string {
	if c.ContactName != "" {
		return c.ContactName
	}
	if c.PlatformUserID != "" {
		return c.PlatformUserID
	}
	return "#" + itoa(c.ID)
}

// HasTag reports whether tag is attached.
func (c *Conversation) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ConversationFilter 会话列表过滤条件
type ConversationFilter struct {
	Status          ConversationStatus
	ChannelID       int64
	AssignedAdminID int64
	Search          string
	Limit           int
	Offset          int
}

// ConversationUpdate is the PUT body; nil fields are left untouched.
type ConversationUpdate struct {
	Status          *ConversationStatus `json:"status,omitempty"`
	AssignedAdminID *int64              `json:"assigned_admin_id,omitempty"`
	Priority        *Priority           `json:"priority,omitempty"`
	Subject         *string             `json:"subject,omitempty"`
}

// Validate 校验更新字段
func (u ConversationUpdate) Validate() error {
	if u.Status != nil && !u.Status.Valid() {
		return ErrInvalidStatus
	}
	if u.Priority != nil && !u.Priority.Valid() {
		return ErrInvalidPriority
	}
	if u.Status == nil && u.AssignedAdminID == nil && u.Priority == nil && u.Subject == nil {
		return ErrEmptyUpdate
	}
	return nil
}
