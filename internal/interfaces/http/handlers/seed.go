package handlers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

var errNotFound = errors.New("not found")

// Seed fills the store with demo channels, contacts, conversations and
// templates. Message times are spread over the last few days.
func (s *Store) Seed() {
	line := s.CreateChannel(entity.ChannelInput{ChannelType: "line", Name: "LINE Official"})
	fb := s.CreateChannel(entity.ChannelInput{ChannelType: "facebook", Name: "Facebook Page"})
	_ = s.SetCredentials(line, map[string]string{"channel_access_token": "sandbox-line-token-1234", "channel_secret": "sandbox-secret-abcd"})

	s.CreateTemplate(entity.TemplateInput{Name: "Greeting", Category: "general", Shortcut: "/hi", Content: "Hello! How can we help you today?"})
	s.CreateTemplate(entity.TemplateInput{Name: "Shipping", Category: "orders", Shortcut: "/ship", Content: "Your order ships within **2 business days**."})
	s.CreateAIProvider(entity.AIProviderInput{ProviderType: "openai", Name: "Default assistant", APIKey: "sk-sandbox-0000"})

	type seedConv struct {
		channel  int64
		name     string
		platform string
		lines    []string
		tags     []string
		priority entity.Priority
	}
	convs := []seedConv{
		{line, "Somchai", "U1001", []string{"Hi, is the blue jacket in stock?", "Size M please"}, []string{"jacket"}, entity.PriorityNormal},
		{line, "Mali", "U1002", []string{"My order has not arrived yet", "Order #5521"}, []string{"shipping"}, entity.PriorityHigh},
		{fb, "Alex", "FB2001", []string{"Do you ship abroad?"}, nil, entity.PriorityNormal},
	}

	base := s.now().Add(-72 * time.Hour)
	for i, sc := range convs {
		contactID := s.addContact(sc.channel, sc.name, sc.platform, fmt.Sprintf("C%03d", i+1))
		convID := s.addConversation(sc.channel, contactID, sc.priority, sc.tags)
		for j, text := range sc.lines {
			at := base.Add(time.Duration(i*20+j) * time.Hour)
			s.appendAt(entity.Message{ConversationID: convID, SenderType: entity.SenderContact, Content: text, PlatformMessageID: fmt.Sprintf("p%d%d", i, j)}, at)
		}
		if i == 0 {
			s.appendAt(entity.Message{ConversationID: convID, SenderType: entity.SenderAdmin, Content: "Yes, we have size M."}, base.Add(2*time.Hour))
		}
	}
	s.AddNotification("new_conversation", "New conversation", "Mali via LINE", 0)
}

func (s *Store) addContact(channelID int64, name, platformID, code string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &entity.Contact{
		ID:             s.id(),
		OrgID:          s.admin.OrgID,
		ChannelID:      channelID,
		PlatformUserID: platformID,
		DisplayName:    name,
		CustomerCode:   code,
		FirstSeenAt:    s.stamp(),
		LastSeenAt:     s.stamp(),
	}
	s.contacts[c.ID] = c
	return c.ID
}

func (s *Store) addConversation(channelID, contactID int64, p entity.Priority, tags []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &entity.Conversation{
		ID:        s.id(),
		OrgID:     s.admin.OrgID,
		ChannelID: channelID,
		ContactID: contactID,
		Status:    entity.StatusOpen,
		Priority:  p,
		Tags:      tags,
		CreatedAt: s.stamp(),
		UpdatedAt: s.stamp(),
	}
	s.convs[c.ID] = c
	return c.ID
}

// OpenConversation returns the newest non-resolved conversation of a contact
// on a channel, creating the contact and conversation when needed. created
// reports whether a conversation was started.
func (s *Store) OpenConversation(channelID int64, platformID, name string) (convID int64, created bool) {
	s.mu.RLock()
	var contactID int64
	for _, c := range s.contacts {
		if c.ChannelID == channelID && c.PlatformUserID == platformID {
			contactID = c.ID
		}
	}
	if contactID != 0 {
		for _, c := range s.convs {
			if c.ContactID == contactID && c.Status != entity.StatusResolved && c.ID > convID {
				convID = c.ID
			}
		}
	}
	s.mu.RUnlock()

	if convID != 0 {
		return convID, false
	}
	if contactID == 0 {
		contactID = s.addContact(channelID, name, platformID, "")
	}
	return s.addConversation(channelID, contactID, entity.PriorityNormal, nil), true
}

// appendAt stores msg with a fixed creation time.
func (s *Store) appendAt(msg entity.Message, at time.Time) {
	s.mu.Lock()
	now := s.now
	s.now = func() time.Time { return at.UTC() }
	s.mu.Unlock()

	s.AppendMessage(msg)

	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// ===== Export =====

var csvHeader = []string{"Date", "Time", "Sender Type", "Sender", "Message Type", "Content"}

// ExportConversation writes one conversation as CSV and returns the
// attachment file name.
func (s *Store) ExportConversation(id int64, w io.Writer) (string, error) {
	conv, ok := s.Conversation(id)
	if !ok {
		return "", errNotFound
	}
	msgs, _, _ := s.Messages(id, 0, 0)

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return "", err
	}
	for _, m := range msgs {
		if err := cw.Write(csvRow(conv, m, false)); err != nil {
			return "", err
		}
	}
	cw.Flush()
	return fmt.Sprintf("conversation_%d_%s.csv", id, safeName(conv.ContactName)), cw.Error()
}

// ExportAll writes every conversation as one CSV.
func (s *Store) ExportAll(w io.Writer) (string, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"Conversation", "Contact"}, csvHeader...)); err != nil {
		return "", err
	}
	convs := s.Conversations(entity.ConversationFilter{})
	for i := len(convs) - 1; i >= 0; i-- {
		conv := convs[i]
		msgs, _, _ := s.Messages(conv.ID, 0, 0)
		for _, m := range msgs {
			if err := cw.Write(csvRow(conv, m, true)); err != nil {
				return "", err
			}
		}
	}
	cw.Flush()
	return "all_conversations_export.csv", cw.Error()
}

func csvRow(conv entity.Conversation, m entity.Message, withConv bool) []string {
	sender := ""
	switch m.SenderType {
	case entity.SenderContact:
		sender = conv.ContactName
	case entity.SenderAdmin:
		sender = m.Author()
	case entity.SenderAI:
		sender = "AI Auto-Reply"
	}
	row := []string{
		m.CreatedAt.UTC().Format("2006-01-02"),
		m.CreatedAt.UTC().Format("15:04:05"),
		string(m.SenderType), sender, string(m.MessageType), m.Content,
	}
	if withConv {
		row = append([]string{fmt.Sprint(conv.ID), conv.ContactName}, row...)
	}
	return row
}

func safeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == ' ' || r == '_' || r == '-' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	if out := strings.TrimSpace(b.String()); out != "" {
		return out
	}
	return "unknown"
}
