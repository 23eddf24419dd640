// Package handlers implements the sandbox backend: an in-memory rendition of
// the messaging REST contract, used for local development and end-to-end
// tests of the console.
package handlers

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// ChannelTypes is the channel type catalog served at /channel-types.
var ChannelTypes = map[string]entity.ChannelType{
	"line": {
		Label: "LINE",
		CredentialFields: []entity.CredentialField{
			{Key: "channel_access_token", Label: "Channel Access Token", Type: "password"},
			{Key: "channel_secret", Label: "Channel Secret", Type: "password"},
		},
	},
	"facebook": {
		Label: "Facebook Messenger",
		CredentialFields: []entity.CredentialField{
			{Key: "page_access_token", Label: "Page Access Token", Type: "password"},
			{Key: "app_secret", Label: "App Secret", Type: "password"},
			{Key: "page_id", Label: "Page ID", Type: "text"},
			{Key: "verify_token", Label: "Verify Token (for webhook)", Type: "text"},
		},
	},
	"instagram": {
		Label: "Instagram",
		CredentialFields: []entity.CredentialField{
			{Key: "access_token", Label: "Access Token", Type: "password"},
			{Key: "app_secret", Label: "App Secret", Type: "password"},
			{Key: "instagram_account_id", Label: "Instagram Account ID", Type: "text"},
		},
	},
}

// AIProviderTypes is the provider catalog served at /ai-provider-types.
var AIProviderTypes = map[string]entity.AIProviderTypeInfo{
	"openai": {
		Label:        "OpenAI",
		Models:       []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo"},
		DefaultModel: "gpt-4o-mini",
	},
	"anthropic": {
		Label:        "Anthropic (Claude)",
		Models:       []string{"claude-sonnet-4-20250514", "claude-haiku-4-5-20251001", "claude-opus-4-20250514"},
		DefaultModel: "claude-sonnet-4-20250514",
	},
	"google_gemini": {
		Label:        "Google Gemini",
		Models:       []string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"},
		DefaultModel: "gemini-2.0-flash",
	},
}

// MaskSecret shows only the last four characters.
func MaskSecret(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + v[len(v)-4:]
}

type channelRecord struct {
	entity.Channel
	credentials map[string]string
}

type providerRecord struct {
	entity.AIProvider
	apiKey string
}

type backupRecord struct {
	entity.Backup
	data []byte
}

// Media 已上传的媒体
type Media struct {
	ContentType string
	Data        []byte
}

// Store 沙箱内存数据
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	admin    entity.Identity
	team     []entity.TeamMember
	channels map[int64]*channelRecord
	contacts map[int64]*entity.Contact
	convs    map[int64]*entity.Conversation
	messages map[int64][]entity.Message

	templates     map[int64]*entity.Template
	providers     map[int64]*providerRecord
	notifications []entity.Notification
	backups       []backupRecord
	settings      entity.Settings
	media         map[string]Media

	nextID int64
}

// NewStore creates an empty store for one org with one admin.
func NewStore(admin entity.Identity) *Store {
	return &Store{
		now:       func() time.Time { return time.Now().UTC() },
		admin:     admin,
		team:      []entity.TeamMember{{ID: admin.AdminID, Username: admin.Username, Role: admin.Role, DisplayName: admin.Username}},
		channels:  make(map[int64]*channelRecord),
		contacts:  make(map[int64]*entity.Contact),
		convs:     make(map[int64]*entity.Conversation),
		messages:  make(map[int64][]entity.Message),
		templates: make(map[int64]*entity.Template),
		providers: make(map[int64]*providerRecord),
		media:     make(map[string]Media),
		nextID:    1,
	}
}

// SetClock replaces the time source (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Admin is the signed-in sandbox admin.
func (s *Store) Admin() entity.Identity {
	return s.admin
}

func (s *Store) id() int64 {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Store) stamp() entity.Timestamp {
	return entity.NewTimestamp(s.now())
}

// ===== Conversations =====

// Conversations lists conversations matching f, most recent first.
func (s *Store) Conversations(f entity.ConversationFilter) []entity.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []entity.Conversation
	for _, c := range s.convs {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.ChannelID > 0 && c.ChannelID != f.ChannelID {
			continue
		}
		if f.AssignedAdminID > 0 && (c.AssignedAdminID == nil || *c.AssignedAdminID != f.AssignedAdminID) {
			continue
		}
		d := s.decorate(c)
		if search != "" && !strings.Contains(strings.ToLower(d.ContactName+" "+d.Subject+" "+d.LastMessagePreview), search) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt.Time) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt.Time)
		}
		return out[i].ID > out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// decorate fills the joined display columns. Caller holds the lock.
func (s *Store) decorate(c *entity.Conversation) entity.Conversation {
	out := *c
	out.Tags = append([]string(nil), c.Tags...)
	if ct, ok := s.contacts[c.ContactID]; ok {
		out.ContactName = ct.DisplayName
		out.PlatformUserID = ct.PlatformUserID
		out.ContactAvatar = ct.AvatarURL
	}
	if ch, ok := s.channels[c.ChannelID]; ok {
		out.ChannelType = ch.ChannelType
		out.ChannelName = ch.Name
	}
	if c.AssignedAdminID != nil {
		for _, m := range s.team {
			if m.ID == *c.AssignedAdminID {
				out.AssignedAdminName = m.Name()
			}
		}
	}
	unread := 0
	for _, m := range s.messages[c.ID] {
		if m.SenderType == entity.SenderContact && !bool(m.IsRead) {
			unread++
		}
	}
	out.UnreadCount = unread
	return out
}

// Conversation 会话详情
func (s *Store) Conversation(id int64) (entity.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return entity.Conversation{}, false
	}
	return s.decorate(c), true
}

// UpdateConversation applies the non-nil fields of u.
func (s *Store) UpdateConversation(id int64, u entity.ConversationUpdate) bool {
	return s.withConversation(id, func(c *entity.Conversation) {
		if u.Status != nil {
			c.Status = *u.Status
		}
		if u.AssignedAdminID != nil {
			assigned := *u.AssignedAdminID
			c.AssignedAdminID = &assigned
			if c.Status == entity.StatusOpen {
				c.Status = entity.StatusAssigned
			}
		}
		if u.Priority != nil {
			c.Priority = *u.Priority
		}
		if u.Subject != nil {
			c.Subject = *u.Subject
		}
	})
}

// withConversation runs fn on conversation id under the write lock.
func (s *Store) withConversation(id int64, fn func(c *entity.Conversation)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return false
	}
	fn(c)
	c.UpdatedAt = s.stamp()
	return true
}

// Resolve 标记已解决
func (s *Store) Resolve(id int64) bool {
	return s.withConversation(id, func(c *entity.Conversation) {
		c.Status = entity.StatusResolved
		c.ResolvedAt = s.stamp()
	})
}

// Reopen 重新打开
func (s *Store) Reopen(id int64) bool {
	return s.withConversation(id, func(c *entity.Conversation) {
		c.Status = entity.StatusOpen
		c.ResolvedAt = entity.Timestamp{}
	})
}

// SetPinned 置顶/取消置顶
func (s *Store) SetPinned(id int64, pinned bool) bool {
	return s.withConversation(id, func(c *entity.Conversation) {
		c.IsPinned = entity.Flag(pinned)
	})
}

// AddTag adds tag once.
func (s *Store) AddTag(id int64, tag string) bool {
	return s.withConversation(id, func(c *entity.Conversation) {
		if !c.HasTag(tag) {
			c.Tags = append(c.Tags, tag)
		}
	})
}

// RemoveTag 删除标签
func (s *Store) RemoveTag(id int64, tag string) bool {
	return s.withConversation(id, func(c *entity.Conversation) {
		kept := c.Tags[:0]
		for _, t := range c.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		c.Tags = kept
	})
}

// MarkRead marks every contact message of the conversation read.
func (s *Store) MarkRead(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return false
	}
	msgs := s.messages[id]
	for i := range msgs {
		msgs[i].IsRead = true
	}
	return true
}

// ===== Messages =====

// Messages returns up to limit messages with id < beforeID (0 = newest),
// ascending, plus the conversation's message count.
func (s *Store) Messages(convID int64, limit int, beforeID int64) ([]entity.Message, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.convs[convID]; !ok {
		return nil, 0, false
	}
	all := s.messages[convID]
	end := len(all)
	if beforeID > 0 {
		end = sort.Search(len(all), func(i int) bool { return all[i].ID >= beforeID })
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	return append([]entity.Message(nil), all[start:end]...), len(all), true
}

// AppendMessage stores msg in its conversation and bumps the conversation's
// last activity. The stored copy is returned.
func (s *Store) AppendMessage(msg entity.Message) (entity.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[msg.ConversationID]
	if !ok {
		return entity.Message{}, false
	}
	msg.ID = s.id()
	msg.CreatedAt = s.stamp()
	if msg.MessageType == "" {
		msg.MessageType = entity.MessageText
	}
	if msg.SenderType == entity.SenderAdmin {
		msg.IsRead = true
		msg.SenderID = fmt.Sprint(s.admin.AdminID)
		msg.AdminUsername = s.admin.Username
	}
	s.messages[c.ID] = append(s.messages[c.ID], msg)

	c.LastMessageAt = msg.CreatedAt
	c.LastMessagePreview = preview(msg)
	if msg.SenderType == entity.SenderContact && c.Status == entity.StatusResolved {
		c.Status = entity.StatusOpen
	}
	if ct, ok := s.contacts[c.ContactID]; ok && msg.SenderType == entity.SenderContact {
		ct.LastSeenAt = msg.CreatedAt
	}
	return msg, true
}

func preview(m entity.Message) string {
	if m.MessageType.IsMedia() {
		return "[" + string(m.MessageType) + "]"
	}
	if len([]rune(m.Content)) > 80 {
		return string([]rune(m.Content)[:80])
	}
	return m.Content
}

// PutMedia stores an uploaded blob and returns its key.
func (s *Store) PutMedia(contentType string, data []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("m%d", s.id())
	s.media[key] = Media{ContentType: contentType, Data: data}
	return key
}

// Media 取媒体
func (s *Store) Media(key string) (Media, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.media[key]
	return m, ok
}

// ===== Contacts =====

// Contacts searches by name, platform id, customer code, email or phone.
func (s *Store) Contacts(search string, limit, offset int) []entity.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(search))
	var out []entity.Contact
	for _, c := range s.contacts {
		hay := strings.ToLower(strings.Join([]string{c.DisplayName, c.PlatformUserID, c.CustomerCode, c.Email, c.Phone}, " "))
		if q != "" && !strings.Contains(hay, q) {
			continue
		}
		out = append(out, s.decorateContact(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset > 0 {
		if offset >= len(out) {
			return nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) decorateContact(c *entity.Contact) entity.Contact {
	out := *c
	if ch, ok := s.channels[c.ChannelID]; ok {
		out.ChannelType = ch.ChannelType
		out.ChannelName = ch.Name
	}
	return out
}

// Contact 联系人详情
func (s *Store) Contact(id int64) (entity.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return entity.Contact{}, false
	}
	return s.decorateContact(c), true
}

// UpdateContact applies the non-nil fields of u.
func (s *Store) UpdateContact(id int64, u entity.ContactUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return false
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&c.DisplayName, u.DisplayName)
	set(&c.Email, u.Email)
	set(&c.Phone, u.Phone)
	set(&c.CustomerCode, u.CustomerCode)
	set(&c.Notes, u.Notes)
	return true
}

// ===== Templates =====

// Templates 模板列表
func (s *Store) Templates(category string) []entity.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.Template
	for _, t := range s.templates {
		if category != "" && t.Category != category {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateTemplate 创建模板
func (s *Store) CreateTemplate(in entity.TemplateInput) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &entity.Template{
		ID:        s.id(),
		OrgID:     s.admin.OrgID,
		Name:      in.Name,
		Content:   in.Content,
		Category:  in.Category,
		Shortcut:  in.Shortcut,
		IsActive:  true,
		CreatedAt: s.stamp(),
	}
	s.templates[t.ID] = t
	return t.ID
}

// UpdateTemplate 更新模板
func (s *Store) UpdateTemplate(id int64, in entity.TemplateInput) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return false
	}
	t.Name, t.Content, t.Category, t.Shortcut = in.Name, in.Content, in.Category, in.Shortcut
	return true
}

// DeleteTemplate 删除模板
func (s *Store) DeleteTemplate(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return false
	}
	delete(s.templates, id)
	return true
}

// ===== Team =====

// Team 团队成员
func (s *Store) Team() []entity.TeamMember {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]entity.TeamMember(nil), s.team...)
}
