package tui

import (
	"context"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/config"
	sandbox "github.com/chatdesk/chatdesk/console/internal/interfaces/http"
	"github.com/chatdesk/chatdesk/console/internal/interfaces/http/handlers"
	"github.com/chatdesk/chatdesk/console/pkg/safego"
)

var admin = entity.Identity{AdminID: 1, Username: "amy", Role: "admin", OrgID: 7, OrgName: "Acme"}

func newTestModel(t *testing.T) *Model {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	store := handlers.NewStore(admin)
	store.Seed()
	s := sandbox.NewServer(sandbox.Config{Mode: "release", Token: "tok"}, store, nil, zap.NewNop())
	s.Run(ctx)
	srv := httptest.NewServer(s.Handler())

	cfg := &config.Config{
		API:      config.APIConfig{BaseURL: srv.URL, Prefix: "/api/messaging", Token: "tok", Timeout: 5 * time.Second},
		Realtime: config.RealtimeConfig{Path: "/ws", HandshakeTimeout: time.Second, EventBuffer: 16},
		Feed:     config.FeedConfig{PageSize: 50},
		Database: config.DatabaseConfig{Type: "memory"},
	}
	app, err := application.NewApp(cfg, zap.NewNop(),
		application.WithRunner(safego.Inline(zap.NewNop())),
		application.WithRedirector(NewExpiry()),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := app.Start(ctx); err != nil {
		t.Fatal(err)
	}

	m := NewModel(ctx, app)
	m.composer.Cursor.SetMode(cursor.CursorStatic)
	m.search.Cursor.SetMode(cursor.CursorStatic)
	m.Bind(func(tea.Msg) {})
	t.Cleanup(func() {
		m.Close()
		app.Stop()
		cancel()
		srv.Close()
	})

	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	run(t, m, m.loadInbox())
	return m
}

// run executes cmd and feeds every message this package defines back into
// the model. Spinner and cursor ticks are dropped.
func run(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	own := reflect.TypeOf(feedChangedMsg{}).PkgPath()
	for _, msg := range collect(cmd) {
		if msg == nil || reflect.TypeOf(msg).PkgPath() != own {
			continue
		}
		_, next := m.Update(msg)
		run(t, m, next)
	}
}

// collect runs cmd, expanding batches and sequences in order.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	// tea.Sequence produces an unexported []tea.Cmd
	if v := reflect.ValueOf(msg); v.IsValid() && v.Kind() == reflect.Slice && v.Type().Elem() == reflect.TypeOf(tea.Cmd(nil)) {
		var out []tea.Msg
		for i := 0; i < v.Len(); i++ {
			out = append(out, collect(v.Index(i).Interface().(tea.Cmd))...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m *Model, keys ...string) {
	t.Helper()
	for _, k := range keys {
		_, cmd := m.Update(key(k))
		run(t, m, cmd)
	}
}

func TestModel_InboxNavigation(t *testing.T) {
	m := newTestModel(t)

	if len(m.items) != 3 {
		t.Fatalf("seeded inbox: %d conversations", len(m.items))
	}
	press(t, m, "j", "j", "j")
	if m.cursor != 2 {
		t.Errorf("cursor stops at the end: %d", m.cursor)
	}
	press(t, m, "k")
	if m.cursor != 1 {
		t.Errorf("cursor: %d", m.cursor)
	}

	press(t, m, "f")
	if m.inbox.Filter().Status != entity.StatusOpen {
		t.Errorf("filter: %q", m.inbox.Filter().Status)
	}
	for _, c := range m.items {
		if c.Status != entity.StatusOpen {
			t.Errorf("filtered list contains %s", c.Status)
		}
	}
	press(t, m, "f", "f", "f")
	if m.inbox.Filter().Status != "" || len(m.items) != 3 {
		t.Errorf("filter cycles back to all: %q %d", m.inbox.Filter().Status, len(m.items))
	}

	press(t, m, "/", "Mali", "enter")
	if len(m.items) != 1 || m.items[0].DisplayName() != "Mali" {
		t.Errorf("search: %+v", m.items)
	}
	if !strings.Contains(m.View(), "Inbox") {
		t.Error("view renders the inbox pane")
	}
}

func TestModel_ConversationComposer(t *testing.T) {
	m := newTestModel(t)
	target := m.items[0]

	press(t, m, "enter")
	if m.screen != screenConversation || m.view.State().ConversationID != target.ID {
		t.Fatalf("open: screen=%d id=%d", m.screen, m.view.State().ConversationID)
	}
	before := len(m.view.State().Messages)
	if before == 0 || m.feed.ContentHeight() == 0 {
		t.Fatal("feed should show the newest page")
	}
	if !strings.Contains(m.View(), target.DisplayName()) {
		t.Error("view shows the contact")
	}

	press(t, m, "hello from the console", "enter")
	if m.err != nil {
		t.Fatalf("send: %v", m.err)
	}
	if got := len(m.view.State().Messages); got != before+1 {
		t.Errorf("sent message in window: %d → %d", before, got)
	}
	if m.composer.Value() != "" {
		t.Errorf("composer cleared after send: %q", m.composer.Value())
	}

	press(t, m, "/tag vip", "enter")
	if s := m.view.Summary(); s == nil || !s.HasTag("vip") {
		t.Errorf("tag command: %+v", s)
	}
	if !strings.Contains(m.notice, "Tagged vip") {
		t.Errorf("notice: %q", m.notice)
	}

	press(t, m, "/bogus", "enter")
	if !strings.Contains(m.notice, "Unknown command") {
		t.Errorf("notice: %q", m.notice)
	}

	press(t, m, "unsent reply", "esc")
	if m.screen != screenInbox || m.view.State().ConversationID != 0 {
		t.Fatal("esc returns to the inbox and closes the feed")
	}
	for i, c := range m.items {
		if c.ID == target.ID {
			m.cursor = i
		}
	}
	press(t, m, "enter")
	if m.composer.Value() != "unsent reply" {
		t.Errorf("draft restored: %q", m.composer.Value())
	}
}

func TestModel_SessionExpired(t *testing.T) {
	m := newTestModel(t)

	m.Update(sessionExpiredMsg{loginURL: "https://chat.example.com/login"})
	view := m.View()
	if !strings.Contains(view, "Session expired") || !strings.Contains(view, "https://chat.example.com/login") {
		t.Errorf("expired view:\n%s", view)
	}

	_, cmd := m.Update(key("j"))
	if cmd != nil {
		t.Error("keys other than quit are ignored")
	}
	_, cmd = m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q quits")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected a quit message")
	}
}

func TestModel_Presence(t *testing.T) {
	m := newTestModel(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Update(presenceMsg{event: entity.EventAdminOnline, p: entity.PresencePayload{AdminID: 2, Username: "bob"}})
	m.Update(presenceMsg{event: entity.EventAdminOnline, p: entity.PresencePayload{AdminID: admin.AdminID, Username: "amy"}})
	if len(m.online) != 1 || m.online[2] != "bob" {
		t.Errorf("online: %v", m.online)
	}

	press(t, m, "enter")
	id := m.view.State().ConversationID
	m.Update(presenceMsg{event: entity.EventAdminTyping, p: entity.PresencePayload{AdminID: 2, Username: "bob", ConversationID: id}})
	if got := m.typingLine(); got != "bob typing…" {
		t.Errorf("typing line: %q", got)
	}
	now = now.Add(typingTTL)
	if got := m.typingLine(); got != "" {
		t.Errorf("typing indicator expires: %q", got)
	}

	m.Update(presenceMsg{event: entity.EventAdminOffline, p: entity.PresencePayload{AdminID: 2}})
	if len(m.online) != 0 {
		t.Errorf("offline: %v", m.online)
	}

	m.Update(badgeMsg{count: 4})
	if !strings.Contains(m.viewStatusBar(), "4") {
		t.Error("status bar shows the badge")
	}
}

func TestExpiry_DeliversPendingRedirect(t *testing.T) {
	e := NewExpiry()
	e.Redirect("https://chat.example.com/login", nil)
	if url, ok := e.LoginURL(); !ok || url != "https://chat.example.com/login" {
		t.Errorf("login url: %q %v", url, ok)
	}

	var got []tea.Msg
	e.attach(func(msg tea.Msg) { got = append(got, msg) })
	if len(got) != 1 {
		t.Fatalf("pending redirect delivered on attach: %v", got)
	}
	e.Redirect("https://chat.example.com/login", nil)
	if len(got) != 2 {
		t.Error("later redirects are forwarded")
	}
}
