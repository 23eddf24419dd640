package tui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/application"
	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/feed"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/eventbus"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/realtime"
)

type screen int

const (
	screenInbox screen = iota
	screenConversation
)

// typingTTL is how long an admin_typing event keeps the indicator on.
const typingTTL = 4 * time.Second

var statusFilters = []entity.ConversationStatus{"", entity.StatusOpen, entity.StatusAssigned, entity.StatusResolved}

// ===== Messages =====

type inboxLoadedMsg struct{ err error }

type conversationOpenedMsg struct {
	id    int64
	draft string
	err   error
}

type feedChangedMsg struct{}

type backfillDoneMsg struct {
	n   int
	err error
}

type commandDoneMsg struct {
	result CommandResult
	err    error
}

type sendDoneMsg struct {
	text string
	err  error
}

type noticeMsg struct {
	text string
	err  error
}

type badgeMsg struct{ count int }

type presenceMsg struct {
	event entity.EventName
	p     entity.PresencePayload
}

type channelMsg struct {
	connected bool
	reason    string
}

type sessionExpiredMsg struct {
	loginURL string
	cause    error
}

type typingState struct {
	name           string
	conversationID int64
	at             time.Time
}

// Model 控制台主界面
type Model struct {
	ctx    context.Context
	app    *application.App
	inbox  *application.Inbox
	view   *application.ConversationView
	feed   *FeedViewport
	logger *zap.Logger
	now    func() time.Time

	search   textinput.Model
	composer textinput.Model
	spinner  spinner.Model

	screen      screen
	searching   bool
	items       []entity.Conversation
	cursor      int
	filterIdx   int
	loading     bool
	opening     bool
	backfilling bool

	self    int64
	badge   int
	live    bool
	online  map[int64]string
	typing  map[int64]typingState
	notice  string
	err     error
	expired *sessionExpiredMsg

	width  int
	height int

	subs eventbus.Subscriptions
}

// NewModel builds the console over a started app. Call Bind before running
// the program and Close after it exits.
func NewModel(ctx context.Context, app *application.App) *Model {
	search := textinput.New()
	search.Prompt = "/ "
	search.Placeholder = "search contacts and messages"
	search.CharLimit = 100

	composer := textinput.New()
	composer.Prompt = "› "
	composer.Placeholder = "Type a message, /help for commands"
	composer.CharLimit = 4000

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorCyan)

	fv := NewFeedViewport(60, 20, app.Config().API.Prefix)

	m := &Model{
		ctx:      ctx,
		app:      app,
		inbox:    app.NewInbox(),
		view:     app.NewConversationView(fv),
		feed:     fv,
		logger:   app.Logger().With(zap.String("component", "tui")),
		now:      time.Now,
		search:   search,
		composer: composer,
		spinner:  sp,
		loading:  true,
		badge:    app.Badge().Count(),
		live:     app.Channel().Connected(),
		online:   make(map[int64]string),
		typing:   make(map[int64]typingState),
	}
	if id := app.Identity(); id != nil {
		m.self = id.AdminID
	}
	return m
}

// Bind forwards background changes to the running program through send.
// send must not block the caller.
func (m *Model) Bind(send func(tea.Msg)) {
	m.feed.OnChange(func() { send(feedChangedMsg{}) })
	m.view.OnUpdate(func() { send(feedChangedMsg{}) })
	m.inbox.OnReload(func() { send(inboxLoadedMsg{}) })

	bus := m.app.Bus()
	m.subs.Add(eventbus.On(bus, entity.EventBadgeChanged, func(_ context.Context, count int) {
		send(badgeMsg{count: count})
	}))
	for _, name := range []entity.EventName{entity.EventAdminOnline, entity.EventAdminOffline, entity.EventAdminTyping} {
		name := name
		m.subs.Add(eventbus.On(bus, name, func(_ context.Context, p entity.PresencePayload) {
			send(presenceMsg{event: name, p: p})
		}))
	}
	m.subs.Add(bus.Subscribe(entity.EventConnected, func(context.Context, eventbus.Event) {
		send(channelMsg{connected: true})
	}))
	m.subs.Add(eventbus.On(bus, entity.EventChannelClosed, func(_ context.Context, p realtime.ClosedPayload) {
		send(channelMsg{reason: p.Reason})
	}))
}

// Close releases the views and subscriptions.
func (m *Model) Close() {
	m.subs.Release(m.app.Bus())
	m.view.Close()
	m.inbox.Close()
}

// Init 初始化
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadInbox())
}

func (m *Model) loadInbox() tea.Cmd {
	inbox, ctx := m.inbox, m.ctx
	return func() tea.Msg {
		return inboxLoadedMsg{err: inbox.Load(ctx)}
	}
}

// Update 处理消息
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		if m.screen == screenConversation {
			return m, m.scroll(msg)
		}
		return m, nil

	case inboxLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.syncItems()
		return m, nil

	case conversationOpenedMsg:
		m.opening = false
		if msg.err != nil {
			if !errors.Is(msg.err, feed.ErrStale) {
				m.err = msg.err
			}
			return m, nil
		}
		if m.composer.Value() == "" && msg.draft != "" {
			m.composer.SetValue(msg.draft)
			m.composer.CursorEnd()
		}
		m.syncSummary()
		return m, nil

	case feedChangedMsg:
		m.syncSummary()
		return m, nil

	case backfillDoneMsg:
		m.backfilling = false
		if msg.err != nil && !errors.Is(msg.err, feed.ErrStale) {
			m.err = msg.err
		}
		return m, nil

	case sendDoneMsg:
		if msg.err != nil {
			m.err = msg.err
			if m.composer.Value() == "" {
				m.composer.SetValue(msg.text)
				m.composer.CursorEnd()
			}
		}
		return m, nil

	case commandDoneMsg:
		m.notice, m.err = msg.result.Output, msg.err
		if msg.err == nil {
			m.syncSummary()
		}
		return m, nil

	case noticeMsg:
		m.notice, m.err = msg.text, msg.err
		return m, nil

	case badgeMsg:
		m.badge = msg.count
		return m, nil

	case presenceMsg:
		m.onPresence(msg)
		return m, nil

	case channelMsg:
		m.live = msg.connected
		if !msg.connected && msg.reason != "" {
			m.notice = "Live updates paused: " + msg.reason
		}
		return m, nil

	case sessionExpiredMsg:
		m.expired = &msg
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, m.quit()
	}
	if m.expired != nil {
		if msg.String() == "q" || msg.Type == tea.KeyEnter || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		return m, nil
	}
	if m.screen == screenConversation {
		return m.handleConversationKey(msg)
	}
	if m.searching {
		return m.handleSearchKey(msg)
	}
	return m.handleInboxKey(msg)
}

// ===== Inbox =====

func (m *Model) handleInboxKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, m.quit()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		if len(m.items) > 0 {
			m.cursor = len(m.items) - 1
		}
	case "enter":
		if c := m.selected(); c != nil {
			return m, m.open(c)
		}
	case "/":
		m.searching = true
		m.search.SetValue(m.inbox.Filter().Search)
		m.search.CursorEnd()
		return m, m.search.Focus()
	case "f":
		m.filterIdx = (m.filterIdx + 1) % len(statusFilters)
		f := m.inbox.Filter()
		f.Status = statusFilters[m.filterIdx]
		m.inbox.SetFilter(f)
		m.loading = true
		return m, m.loadInbox()
	case "r":
		m.loading = true
		m.err = nil
		return m, m.loadInbox()
	case "n":
		badge, ctx := m.app.Badge(), m.ctx
		return m, func() tea.Msg {
			if err := badge.MarkAllRead(ctx); err != nil {
				return noticeMsg{err: err}
			}
			return noticeMsg{text: "All notifications marked read"}
		}
	}
	return m, nil
}

func (m *Model) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.searching = false
		m.search.Blur()
		return m, nil
	case tea.KeyEnter:
		m.searching = false
		m.search.Blur()
		f := m.inbox.Filter()
		f.Search = strings.TrimSpace(m.search.Value())
		m.inbox.SetFilter(f)
		m.cursor = 0
		m.loading = true
		return m, m.loadInbox()
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m *Model) selected() *entity.Conversation {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return nil
	}
	c := m.items[m.cursor]
	return &c
}

// syncItems refreshes the list and keeps the cursor on the same conversation.
func (m *Model) syncItems() {
	var keep int64
	if c := m.selected(); c != nil {
		keep = c.ID
	}
	m.items = m.inbox.Items()
	for i, c := range m.items {
		if c.ID == keep {
			m.cursor = i
			return
		}
	}
	if m.cursor >= len(m.items) {
		m.cursor = len(m.items) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// ===== Conversation =====

func (m *Model) open(c *entity.Conversation) tea.Cmd {
	save := m.saveDraft()
	m.screen = screenConversation
	m.opening = true
	m.notice, m.err = "", nil
	m.composer.SetValue("")
	m.feed.Reset()
	m.feed.SetContactName(c.DisplayName())
	m.feed.SetChannelID(c.ChannelID)
	m.layout()

	view, ctx, id := m.view, m.ctx, c.ID
	return tea.Batch(m.composer.Focus(), tea.Sequence(save, func() tea.Msg {
		err := view.Open(ctx, id)
		draft := ""
		if err == nil {
			draft = view.Draft(ctx)
		}
		return conversationOpenedMsg{id: id, draft: draft, err: err}
	}))
}

func (m *Model) back() tea.Cmd {
	save := m.saveDraft()
	m.screen = screenInbox
	m.composer.Blur()
	m.composer.SetValue("")
	m.notice = ""
	m.layout()

	view := m.view
	return tea.Sequence(save, func() tea.Msg {
		view.Deselect()
		return nil
	}, m.loadInbox())
}

// saveDraft persists the composer text of the open conversation.
func (m *Model) saveDraft() tea.Cmd {
	if m.screen != screenConversation || m.view.State().ConversationID == 0 {
		return nil
	}
	view, ctx, text := m.view, m.ctx, m.composer.Value()
	logger := m.logger
	return func() tea.Msg {
		if err := view.SaveDraft(ctx, text); err != nil {
			logger.Debug("Saving draft failed", zap.Error(err))
		}
		return nil
	}
}

func (m *Model) quit() tea.Cmd {
	return tea.Sequence(m.saveDraft(), tea.Quit)
}

func (m *Model) handleConversationKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, m.back()
	case "enter":
		return m, m.submit()
	case "up", "down", "pgup", "pgdown", "ctrl+up", "ctrl+down":
		return m, m.scroll(msg)
	}

	before := m.composer.Value()
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	after := m.composer.Value()
	if after != before && after != "" && !strings.HasPrefix(after, "/") {
		view := m.view
		cmd = tea.Batch(cmd, func() tea.Msg {
			view.Typing()
			return nil
		})
	}
	return m, cmd
}

// scroll moves the feed and loads the previous page once the top is reached.
func (m *Model) scroll(msg tea.Msg) tea.Cmd {
	atTop, cmd := m.feed.Scroll(msg)
	if !atTop || m.backfilling || m.opening {
		return cmd
	}
	state := m.view.State()
	if !state.HasMore || state.LoadingOlder {
		return cmd
	}
	m.backfilling = true
	view, ctx := m.view, m.ctx
	return tea.Batch(cmd, func() tea.Msg {
		n, err := view.Backfill(ctx)
		return backfillDoneMsg{n: n, err: err}
	})
}

func (m *Model) submit() tea.Cmd {
	text := m.composer.Value()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	m.notice, m.err = "", nil

	if cmd := ParseSlashCommand(text); cmd != nil {
		m.composer.SetValue("")
		switch cmd.Name {
		case "back", "b":
			return m.back()
		case "quit", "exit", "q":
			return m.quit()
		}
		view, ctx := m.view, m.ctx
		return func() tea.Msg {
			res, err := ExecuteCommand(ctx, cmd, view, func(ctx context.Context, dir string) (string, error) {
				return exportTo(ctx, view, dir)
			})
			return commandDoneMsg{result: res, err: err}
		}
	}
	if strings.HasPrefix(text, "//") {
		text = text[1:]
	}

	m.composer.SetValue("")
	view, ctx := m.view, m.ctx
	return func() tea.Msg {
		return sendDoneMsg{text: text, err: view.Send(ctx, text)}
	}
}

func exportTo(ctx context.Context, view *application.ConversationView, dir string) (string, error) {
	var buf bytes.Buffer
	name, err := view.Export(ctx, &buf)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (m *Model) syncSummary() {
	if s := m.view.Summary(); s != nil {
		m.feed.SetContactName(s.DisplayName())
		m.feed.SetChannelID(s.ChannelID)
	}
}

func (m *Model) onPresence(msg presenceMsg) {
	if msg.p.AdminID == 0 || msg.p.AdminID == m.self {
		return
	}
	name := msg.p.Username
	if name == "" {
		name = fmt.Sprintf("admin #%d", msg.p.AdminID)
	}
	switch msg.event {
	case entity.EventAdminOnline:
		m.online[msg.p.AdminID] = name
	case entity.EventAdminOffline:
		delete(m.online, msg.p.AdminID)
		delete(m.typing, msg.p.AdminID)
	case entity.EventAdminTyping:
		m.typing[msg.p.AdminID] = typingState{name: name, conversationID: msg.p.ConversationID, at: m.now()}
	}
}

// ===== Layout =====

func (m *Model) listWidth() int {
	w := m.width * 35 / 100
	if w < 28 {
		w = 28
	}
	return w
}

func (m *Model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	// header, status bar, pane borders, summary line, notice and composer
	feedHeight := m.height - 8
	if feedHeight < 3 {
		feedHeight = 3
	}
	feedWidth := m.width - m.listWidth() - 6
	if feedWidth < 20 {
		feedWidth = 20
	}
	m.feed.Resize(feedWidth, feedHeight)
	m.composer.Width = feedWidth - 4
	m.search.Width = m.listWidth() - 6
}

// View 渲染
func (m *Model) View() string {
	if m.expired != nil {
		return m.viewExpired()
	}
	if m.width == 0 {
		return m.spinner.View() + " Loading…"
	}

	header := m.viewHeader()
	list := m.viewInbox()
	conv := m.viewConversation()

	listStyle, convStyle := paneStyle, activePaneStyle
	if m.screen == screenInbox {
		listStyle, convStyle = activePaneStyle, paneStyle
	}
	bodyHeight := m.height - 4
	if bodyHeight < 5 {
		bodyHeight = 5
	}
	left := listStyle.Width(m.listWidth()).Height(bodyHeight).Render(list)
	right := convStyle.Width(m.width - m.listWidth() - 4).Height(bodyHeight).Render(conv)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, left, right),
		m.viewStatusBar(),
	)
}

func (m *Model) viewHeader() string {
	title := titleStyle.Render("◆ ChatDesk")
	if id := m.app.Identity(); id != nil {
		title += dimStyle.Render(fmt.Sprintf("  %s · %s", id.OrgName, id.Username))
	}
	return title
}

func (m *Model) viewInbox() string {
	var sb strings.Builder
	label := "all"
	if s := statusFilters[m.filterIdx]; s != "" {
		label = string(s)
	}
	sb.WriteString(titleStyle.Render("Inbox"))
	sb.WriteString(dimStyle.Render(fmt.Sprintf(" [%s]", label)))
	if q := m.inbox.Filter().Search; q != "" && !m.searching {
		sb.WriteString(dimStyle.Render(fmt.Sprintf(" %q", q)))
	}
	sb.WriteString("\n")
	if m.searching {
		sb.WriteString(m.search.View())
		sb.WriteString("\n")
	}
	if m.loading && len(m.items) == 0 {
		sb.WriteString(m.spinner.View() + " loading conversations")
		return sb.String()
	}
	if len(m.items) == 0 {
		sb.WriteString(dimStyle.Render("No conversations."))
		return sb.String()
	}

	width := m.listWidth() - 4
	for i := range m.items {
		sb.WriteString(m.viewInboxRow(&m.items[i], i == m.cursor, width))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m *Model) viewInboxRow(c *entity.Conversation, selected bool, width int) string {
	marker := "  "
	if c.IsPinned {
		marker = "★ "
	}
	name := truncate(c.DisplayName(), width-12)
	line := marker + name
	if c.UnreadCount > 0 {
		line += " " + unreadStyle.Render(fmt.Sprintf("(%d)", c.UnreadCount))
	}
	meta := fmt.Sprintf("%s · %s", c.ChannelType, c.Status)
	if c.Priority != "" && c.Priority != entity.PriorityNormal {
		meta += " · " + string(c.Priority)
	}
	preview := truncate(c.LastMessagePreview, width-2)

	if selected {
		line = selectedStyle.Render(truncate(marker+name, width))
		if c.UnreadCount > 0 {
			line += " " + unreadStyle.Render(fmt.Sprintf("(%d)", c.UnreadCount))
		}
	}
	return line + "\n  " + dimStyle.Render(meta) + "\n  " + dimStyle.Render(preview)
}

func (m *Model) viewConversation() string {
	if m.screen != screenConversation {
		return dimStyle.Render("Select a conversation and press enter.\n\n" +
			"j/k move  enter open  / search  f filter  r reload  n clear notifications  q quit")
	}

	var summary string
	if s := m.view.Summary(); s != nil {
		summary = contactNameStyle.Render(s.DisplayName()) + dimStyle.Render(fmt.Sprintf(" · %s · %s · %s", s.ChannelType, s.Status, s.Priority))
		if s.IsPinned {
			summary += dimStyle.Render(" · pinned")
		}
		if len(s.Tags) > 0 {
			tags := append([]string(nil), s.Tags...)
			sort.Strings(tags)
			summary += " " + unreadStyle.Render("#"+strings.Join(tags, " #"))
		}
	} else {
		summary = m.spinner.View() + " loading"
	}

	var top string
	if m.backfilling {
		top = m.spinner.View() + dimStyle.Render(" loading older messages") + "\n"
	}

	var notice string
	switch {
	case m.err != nil:
		notice = errorStyle.Render("✗ " + m.err.Error())
	case m.notice != "":
		notice = m.notice
	case m.typingLine() != "":
		notice = dimStyle.Render(m.typingLine())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		summary,
		top+m.feed.View(),
		notice,
		m.composer.View(),
	)
}

// typingLine names the other admins typing in the open conversation.
func (m *Model) typingLine() string {
	id := m.view.State().ConversationID
	if id == 0 {
		return ""
	}
	var names []string
	now := m.now()
	for _, t := range m.typing {
		if t.conversationID == id && now.Sub(t.at) < typingTTL {
			names = append(names, t.name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return strings.Join(names, ", ") + " typing…"
}

func (m *Model) viewStatusBar() string {
	live := errorStyle.Render("○ offline")
	if m.live {
		live = okStyle.Render("● live")
	}
	parts := []string{live, fmt.Sprintf("🔔 %d", m.badge)}
	if len(m.online) > 0 {
		names := make([]string, 0, len(m.online))
		for _, n := range m.online {
			names = append(names, n)
		}
		sort.Strings(names)
		parts = append(parts, "online: "+strings.Join(names, ", "))
	}
	if m.loading || m.opening {
		parts = append(parts, m.spinner.View())
	}
	if m.screen == screenInbox && m.err != nil {
		parts = append(parts, errorStyle.Render(m.err.Error()))
	} else if m.screen == screenInbox && m.notice != "" {
		parts = append(parts, m.notice)
	}
	return statusBarStyle.Width(m.width).Render(strings.Join(parts, "  "))
}

func (m *Model) viewExpired() string {
	msg := titleStyle.Render("Session expired") + "\n\n"
	if m.expired.cause != nil {
		msg += dimStyle.Render(m.expired.cause.Error()) + "\n\n"
	}
	if m.expired.loginURL != "" {
		msg += "Sign in again at " + okStyle.Render(m.expired.loginURL) + "\n\n"
	}
	msg += dimStyle.Render("Press q to quit.")
	return paneStyle.Padding(1, 2).Render(msg)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if n <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
