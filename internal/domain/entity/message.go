package entity

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// SenderType 消息发送方
type SenderType string

const (
	SenderContact SenderType = "contact"
	SenderAdmin   SenderType = "admin"
	SenderAI      SenderType = "ai"
	SenderSystem  SenderType = "system"
)

// MessageType 消息类型
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageFile     MessageType = "file"
	MessageSticker  MessageType = "sticker"
	MessageLocation MessageType = "location"
)

// IsMedia reports whether the message renders as an image or video.
func (t MessageType) IsMedia() bool {
	return t == MessageImage || t == MessageVideo
}

// Message 会话中的一条消息, 创建后不可变
type Message struct {
	ID                int64       `json:"id"`
	ConversationID    int64       `json:"conversation_id"`
	SenderType        SenderType  `json:"sender_type"`
	SenderID          string      `json:"sender_id,omitempty"`
	MessageType       MessageType `json:"message_type"`
	Content           string      `json:"content"`
	MetadataJSON      string      `json:"metadata_json,omitempty"`
	PlatformMessageID string      `json:"platform_message_id,omitempty"`
	IsRead            Flag        `json:"is_read"`
	CreatedAt         Timestamp   `json:"created_at"`

	AdminUsername    string `json:"admin_username,omitempty"`
	AdminDisplayName string `json:"admin_display_name,omitempty"`
}

// MessageMetadata 媒体消息的元数据
type MessageMetadata struct {
	MediaURL    string `json:"media_url,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Metadata decodes metadata_json. Malformed metadata yields the zero value.
func (m *Message) Metadata() MessageMetadata {
	var md MessageMetadata
	if m.MetadataJSON == "" {
		return md
	}
	_ = json.Unmarshal([]byte(m.MetadataJSON), &md)
	return md
}

// Author is the attribution shown next to the message.
func (m *Message) Author() string {
	switch m.SenderType {
	case SenderAdmin:
		if m.AdminDisplayName != "" {
			return m.AdminDisplayName
		}
		if m.AdminUsername != "" {
			return m.AdminUsername
		}
		return "admin"
	case SenderAI:
		return "AI"
	case SenderSystem:
		return "system"
	default:
		return "contact"
	}
}

// MediaURL resolves where a media message can be fetched from.
//
// Admin uploads carry a direct URL in the metadata. Messages received from a
// provider only carry the provider's message id and must go through the
// backend media proxy. Returns "" for non-media messages or when neither is
// available.
func (m *Message) MediaURL(prefix string, channelID int64) string {
	if !m.MessageType.IsMedia() {
		return ""
	}
	if md := m.Metadata(); md.MediaURL != "" {
		return md.MediaURL
	}
	if m.PlatformMessageID == "" {
		return ""
	}
	u := fmt.Sprintf("%s/media/line/%s", strings.TrimRight(prefix, "/"), url.PathEscape(m.PlatformMessageID))
	if channelID > 0 {
		u += fmt.Sprintf("?channel_id=%d", channelID)
	}
	return u
}

// NewMessage is what the composer submits.
type NewMessage struct {
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
}

// Validate 校验待发送消息
func (n NewMessage) Validate() error {
	if strings.TrimSpace(n.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// SendResult 发送结果
type SendResult struct {
	MessageID int64  `json:"message_id"`
	Success   bool   `json:"success"`
	MediaURL  string `json:"media_url,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// MessagePage is one page of history, ascending by id.
//
// Total is the number of messages in the conversation when the backend
// reports it, -1 otherwise.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}
