package tui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/feed"
)

var _ feed.Viewport = (*FeedViewport)(nil)

// FeedViewport 消息视口
//
// It renders the feed window into a scrollable bubbles viewport. Heights and
// offsets are in terminal lines. The feed engine drives it from background
// goroutines, the program reads it while rendering, so every access goes
// through mu.
type FeedViewport struct {
	mu          sync.Mutex
	vp          viewport.Model
	msgs        []entity.Message
	mediaPrefix string
	contactName string
	channelID   int64
	onChange    func()
}

// NewFeedViewport creates a viewport of the given size. mediaPrefix resolves
// provider media that only carries a platform id.
func NewFeedViewport(width, height int, mediaPrefix string) *FeedViewport {
	return &FeedViewport{
		vp:          viewport.New(width, height),
		mediaPrefix: mediaPrefix,
	}
}

// OnChange registers fn to run after the content changed. fn runs without the
// lock held.
func (f *FeedViewport) OnChange(fn func()) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

// SetContactName labels contact messages.
func (f *FeedViewport) SetContactName(name string) {
	f.mu.Lock()
	f.contactName = name
	f.rerender()
	f.mu.Unlock()
}

// SetChannelID is the channel the open conversation belongs to; the media
// proxy needs it to pick the provider credentials.
func (f *FeedViewport) SetChannelID(id int64) {
	f.mu.Lock()
	f.channelID = id
	f.rerender()
	f.mu.Unlock()
}

// SetMessages re-renders the window. The scroll offset is kept; the engine
// decides where to scroll next.
func (f *FeedViewport) SetMessages(msgs []entity.Message) {
	f.mu.Lock()
	f.msgs = msgs
	f.rerender()
	fn := f.onChange
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// ContentHeight 内容总行数
func (f *FeedViewport) ContentHeight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vp.TotalLineCount()
}

// ScrollTop 当前首行偏移
func (f *FeedViewport) ScrollTop() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vp.YOffset
}

// SetScrollTop 设置首行偏移
func (f *FeedViewport) SetScrollTop(top int) {
	f.mu.Lock()
	f.vp.SetYOffset(top)
	f.mu.Unlock()
}

// ScrollToBottom jumps to the last line. A terminal has no smooth scrolling,
// so the flag is ignored.
func (f *FeedViewport) ScrollToBottom(bool) {
	f.mu.Lock()
	f.vp.GotoBottom()
	f.mu.Unlock()
}

// Resize changes the visible area and re-wraps the content.
func (f *FeedViewport) Resize(width, height int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	atBottom := f.vp.AtBottom()
	f.vp.Width = width
	f.vp.Height = height
	f.rerender()
	if atBottom {
		f.vp.GotoBottom()
	}
}

// Scroll forwards a key or mouse message to the viewport and reports whether
// the first line is now visible.
func (f *FeedViewport) Scroll(msg tea.Msg) (atTop bool, cmd tea.Cmd) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vp, cmd = f.vp.Update(msg)
	return f.vp.AtTop(), cmd
}

// AtTop reports whether the first line is visible.
func (f *FeedViewport) AtTop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vp.AtTop()
}

// View 渲染
func (f *FeedViewport) View() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vp.View()
}

// Reset clears the content, used when another conversation is opened.
func (f *FeedViewport) Reset() {
	f.mu.Lock()
	f.msgs = nil
	f.contactName = ""
	f.channelID = 0
	f.vp.SetContent("")
	f.vp.GotoTop()
	f.mu.Unlock()
}

// rerender must be called with mu held.
func (f *FeedViewport) rerender() {
	offset := f.vp.YOffset
	f.vp.SetContent(RenderMessages(f.msgs, f.vp.Width, f.contactName, f.mediaPrefix, f.channelID))
	f.vp.SetYOffset(offset)
}

// RenderMessages lays out the window with a separator line at each new day.
// Provider media is linked through the proxy under mediaPrefix for channelID.
func RenderMessages(msgs []entity.Message, width int, contactName, mediaPrefix string, channelID int64) string {
	if len(msgs) == 0 {
		return dimStyle.Render("No messages yet.")
	}
	if width <= 0 {
		width = 80
	}
	body := lipgloss.NewStyle().Width(width).PaddingLeft(2)

	var sb strings.Builder
	var lastDay string
	for i := range msgs {
		m := &msgs[i]
		day := m.CreatedAt.Local().Format("2006-01-02")
		if day != lastDay {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(separatorStyle.Render(daySeparator(day, width)))
			sb.WriteString("\n")
			lastDay = day
		}
		sb.WriteString(renderHeader(m, contactName))
		sb.WriteString("\n")
		sb.WriteString(body.Render(renderBody(m, mediaPrefix, channelID)))
		if i < len(msgs)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func daySeparator(day string, width int) string {
	label := " " + day + " "
	side := (width - lipgloss.Width(label)) / 2
	if side < 2 {
		side = 2
	}
	return strings.Repeat("─", side) + label + strings.Repeat("─", side)
}

func renderHeader(m *entity.Message, contactName string) string {
	at := dimStyle.Render(m.CreatedAt.Local().Format("15:04"))
	switch m.SenderType {
	case entity.SenderAdmin:
		return at + " " + adminNameStyle.Render(m.Author())
	case entity.SenderAI:
		return at + " " + aiNameStyle.Render("AI Auto-Reply")
	case entity.SenderSystem:
		return at + " " + dimStyle.Render("system")
	default:
		name := contactName
		if name == "" {
			name = m.Author()
		}
		return at + " " + contactNameStyle.Render(name)
	}
}

func renderBody(m *entity.Message, mediaPrefix string, channelID int64) string {
	switch m.MessageType {
	case entity.MessageImage, entity.MessageVideo:
		md := m.Metadata()
		ref := md.Filename
		if url := m.MediaURL(mediaPrefix, channelID); url != "" {
			if ref != "" {
				ref += " "
			}
			ref += dimStyle.Render(url)
		}
		if ref == "" {
			ref = dimStyle.Render("(media unavailable)")
		}
		return fmt.Sprintf("[%s] %s", m.MessageType, ref)
	case entity.MessageSticker, entity.MessageAudio, entity.MessageFile, entity.MessageLocation:
		if m.Content == "" {
			return fmt.Sprintf("[%s]", m.MessageType)
		}
		return fmt.Sprintf("[%s] %s", m.MessageType, m.Content)
	default:
		return m.Content
	}
}
