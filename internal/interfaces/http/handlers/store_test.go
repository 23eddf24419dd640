package handlers

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

func newTestStore() *Store {
	s := NewStore(entity.Identity{AdminID: 1, Username: "amy", Role: "admin", OrgID: 2, OrgName: "Acme"})
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time {
		tick++
		return t0.Add(time.Duration(tick) * time.Minute)
	})
	return s
}

func TestStore_MessagesPageBackwards(t *testing.T) {
	s := newTestStore()
	ch := s.CreateChannel(entity.ChannelInput{ChannelType: "line", Name: "L"})
	conv, _ := s.OpenConversation(ch, "U1", "Ann")
	var ids []int64
	for i := 0; i < 5; i++ {
		m, _ := s.AppendMessage(entity.Message{ConversationID: conv, SenderType: entity.SenderContact, Content: "m"})
		ids = append(ids, m.ID)
	}

	page, total, ok := s.Messages(conv, 2, 0)
	if !ok || total != 5 || len(page) != 2 || page[1].ID != ids[4] {
		t.Fatalf("newest page: %v %d", page, total)
	}
	older, _, _ := s.Messages(conv, 2, page[0].ID)
	if len(older) != 2 || older[0].ID != ids[1] || older[1].ID != ids[2] {
		t.Errorf("older page: %+v", older)
	}
	if _, _, ok := s.Messages(999, 2, 0); ok {
		t.Error("unknown conversation")
	}
}

func TestStore_ContactMessageReopensResolved(t *testing.T) {
	s := newTestStore()
	ch := s.CreateChannel(entity.ChannelInput{ChannelType: "line", Name: "L"})
	conv, created := s.OpenConversation(ch, "U1", "Ann")
	if !created {
		t.Fatal("first contact should start a conversation")
	}
	s.Resolve(conv)
	again, created := s.OpenConversation(ch, "U1", "Ann")
	if !created || again == conv {
		t.Error("resolved conversations are not reused")
	}

	s.AppendMessage(entity.Message{ConversationID: conv, SenderType: entity.SenderContact, Content: "back"})
	c, _ := s.Conversation(conv)
	if c.Status != entity.StatusOpen || c.LastMessagePreview != "back" || c.UnreadCount != 1 {
		t.Errorf("after inbound: %+v", c)
	}
	s.MarkRead(conv)
	if c, _ := s.Conversation(conv); c.UnreadCount != 0 {
		t.Error("mark read")
	}
}

func TestStore_ChannelCredentialsMasked(t *testing.T) {
	s := newTestStore()
	id := s.CreateChannel(entity.ChannelInput{ChannelType: "facebook", Name: "Page"})
	if err := s.SetCredentials(id, map[string]string{"page_access_token": "EAAB-secret-9876", "page_id": "12345"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetCredentials(id, map[string]string{"bogus": "x"}); err == nil {
		t.Error("unknown field accepted")
	}

	ch, _ := s.Channel(id)
	if ch.MaskedCredentials["page_access_token"] != "********9876" {
		t.Errorf("secret: %q", ch.MaskedCredentials["page_access_token"])
	}
	if ch.MaskedCredentials["page_id"] != "12345" {
		t.Errorf("text fields are shown: %q", ch.MaskedCredentials["page_id"])
	}
	if res, _ := s.VerifyChannel(id); res.Success {
		t.Error("verify should fail while fields are missing")
	}
	for _, c := range s.Channels() {
		if c.MaskedCredentials != nil {
			t.Error("list must not carry credentials")
		}
	}
}

func TestStore_ExportConversationCSV(t *testing.T) {
	s := newTestStore()
	ch := s.CreateChannel(entity.ChannelInput{ChannelType: "line", Name: "L"})
	conv, _ := s.OpenConversation(ch, "U1", "Ann Lee")
	s.AppendMessage(entity.Message{ConversationID: conv, SenderType: entity.SenderContact, Content: "hi, there"})
	s.AppendMessage(entity.Message{ConversationID: conv, SenderType: entity.SenderAdmin, Content: "hello"})
	s.AppendMessage(entity.Message{ConversationID: conv, SenderType: entity.SenderAI, Content: "auto"})

	var buf bytes.Buffer
	name, err := s.ExportConversation(conv, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if name != "conversation_3_Ann Lee.csv" {
		t.Errorf("file name: %q", name)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 || strings.Join(rows[0], ",") != "Date,Time,Sender Type,Sender,Message Type,Content" {
		t.Fatalf("rows: %v", rows)
	}
	if rows[1][3] != "Ann Lee" || rows[1][5] != "hi, there" {
		t.Errorf("contact row: %v", rows[1])
	}
	if rows[2][3] != "amy" || rows[3][3] != "AI Auto-Reply" {
		t.Errorf("sender columns: %v %v", rows[2], rows[3])
	}
	if rows[1][0] != "2024-05-01" {
		t.Errorf("date: %v", rows[1][0])
	}

	if _, err := s.ExportConversation(42, &buf); err == nil {
		t.Error("unknown conversation")
	}
}

func TestStore_BackupRestore(t *testing.T) {
	s := newTestStore()
	tpl := s.CreateTemplate(entity.TemplateInput{Name: "a", Content: "b"})
	b, err := s.CreateBackup()
	if err != nil {
		t.Fatal(err)
	}
	if !entity.ValidBackupName(b.Filename) {
		t.Errorf("name: %s", b.Filename)
	}
	s.DeleteTemplate(tpl)
	if err := s.RestoreBackup(b.Filename); err != nil {
		t.Fatal(err)
	}
	if len(s.Templates("")) != 1 {
		t.Error("template not restored")
	}
	if err := s.RestoreBackup("backup_20000101_000000.db"); err == nil {
		t.Error("missing backup")
	}
}

func TestStore_FirstProviderIsDefault(t *testing.T) {
	s := newTestStore()
	a := s.CreateAIProvider(entity.AIProviderInput{ProviderType: "openai", Name: "a", APIKey: "sk-aaaa1111"})
	s.CreateAIProvider(entity.AIProviderInput{ProviderType: "anthropic", Name: "b", APIKey: "sk-bbbb2222"})
	list := s.AIProviders()
	if len(list) != 2 || list[0].ID != a || !bool(list[0].IsDefault) || bool(list[1].IsDefault) {
		t.Errorf("providers: %+v", list)
	}
	if list[0].MaskedAPIKey != "********1111" {
		t.Errorf("masked key: %q", list[0].MaskedAPIKey)
	}
}

func TestSafeName(t *testing.T) {
	if got := safeName("Ann/../Lee!"); got != "AnnLee" {
		t.Errorf("got %q", got)
	}
	if got := safeName("???"); got != "unknown" {
		t.Errorf("got %q", got)
	}
}
