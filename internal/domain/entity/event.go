package entity

// EventName 实时通道事件名
type EventName string

// Server → client. admin_typing is also emitted by the client.
const (
	EventNewMessage      EventName = "new_message"
	EventNewConversation EventName = "new_conversation"
	EventNotification    EventName = "notification"
	EventAdminOnline     EventName = "admin_online"
	EventAdminOffline    EventName = "admin_offline"
	EventAdminTyping     EventName = "admin_typing"
	EventConnected       EventName = "connected"
	EventError           EventName = "error"
)

// Client → server
const (
	EventJoin              EventName = "join"
	EventJoinConversation  EventName = "join_conversation"
	EventLeaveConversation EventName = "leave_conversation"
	EventMarkRead          EventName = "mark_read"
)

// Local-only events published on the bus, never sent over the wire.
const (
	EventChannelClosed EventName = "channel_closed"
	EventBadgeChanged  EventName = "badge_changed"
)

// JoinPayload announces the org scope.
type JoinPayload struct {
	OrgID int64 `json:"org_id"`
}

// ConversationScopePayload joins, leaves or marks a conversation room.
type ConversationScopePayload struct {
	ConversationID int64 `json:"conversation_id"`
}

// NewMessagePayload is pushed to the org room when a message is stored.
type NewMessagePayload struct {
	ConversationID int64      `json:"conversation_id"`
	MessageID      int64      `json:"message_id,omitempty"`
	ChannelType    string     `json:"channel_type,omitempty"`
	Content        string     `json:"content,omitempty"`
	SenderType     SenderType `json:"sender_type,omitempty"`
}

// NewConversationPayload 新会话
type NewConversationPayload struct {
	ConversationID int64  `json:"conversation_id"`
	ContactName    string `json:"contact_name,omitempty"`
	ChannelType    string `json:"channel_type,omitempty"`
}

// NotificationPayload is pushed to an admin room.
type NotificationPayload struct {
	Type           string `json:"type"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

// PresencePayload 管理员上下线 / 正在输入
type PresencePayload struct {
	AdminID        int64  `json:"admin_id"`
	Username       string `json:"username,omitempty"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}
