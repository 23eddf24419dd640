// Package feed keeps the message window of the conversation that is currently
// open: the newest page on selection, older pages on demand and single new
// messages as they are pushed.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/pkg/safego"
	"go.uber.org/zap"
)

// DefaultPageSize is used when Config.PageSize is not positive.
const DefaultPageSize = 50

// ErrStale is returned when a response arrives for a selection that is no
// longer current. The response has been discarded.
var ErrStale = errors.New("feed: response for a previous selection discarded")

// ErrNoConversation is returned by operations that need an open conversation.
var ErrNoConversation = errors.New("feed: no conversation selected")

// Source fetches messages. Pages are ascending by id.
type Source interface {
	// Latest returns the newest limit messages. Total is -1 when unknown.
	Latest(ctx context.Context, conversationID int64, limit int) (entity.MessagePage, error)
	// Before returns up to limit messages with id < beforeID.
	Before(ctx context.Context, conversationID, beforeID int64, limit int) ([]entity.Message, error)
	// Newest returns the single newest message, nil when the conversation is empty.
	Newest(ctx context.Context, conversationID int64) (*entity.Message, error)
	// Send stores a new outbound message.
	Send(ctx context.Context, conversationID int64, msg entity.NewMessage) error
}

// Viewport is the scrollable surface the window is rendered into. Heights and
// offsets are in the viewport's own units (lines for a terminal).
type Viewport interface {
	SetMessages(msgs []entity.Message)
	ContentHeight() int
	ScrollTop() int
	SetScrollTop(top int)
	ScrollToBottom(smooth bool)
}

// ReadMarker marks a conversation read on the server.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID int64) error
}

// Config 消息流配置
type Config struct {
	PageSize int
}

// State is a snapshot of the engine.
type State struct {
	ConversationID int64
	Generation     uint64
	Messages       []entity.Message
	HasMore        bool
	LoadingOlder   bool
	FirstLoad      bool
}

// Engine 会话消息流引擎
//
// All methods are safe for concurrent use. Network calls are made without
// holding the lock; every response is checked against the selection
// generation that issued it before it touches the window.
type Engine struct {
	mu sync.Mutex

	source Source
	view   Viewport
	marker ReadMarker
	run    safego.Runner
	logger *zap.Logger

	pageSize int

	conversationID int64
	generation     uint64
	window         []entity.Message
	hasMore        bool
	loadingOlder   bool
	firstLoad      bool
}

// NewEngine creates an engine with nothing selected. marker may be nil.
// Read marking is dispatched through run.
func NewEngine(cfg Config, source Source, view Viewport, marker ReadMarker, run safego.Runner, logger *zap.Logger) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Engine{
		source:    source,
		view:      view,
		marker:    marker,
		run:       run,
		logger:    logger.With(zap.String("component", "feed")),
		pageSize:  cfg.PageSize,
		firstLoad: true,
	}
}

// PageSize 每页条数
func (e *Engine) PageSize() int {
	return e.pageSize
}

// Select switches to conversationID and clears every piece of pagination
// state before anything is fetched. Responses still in flight for the
// previous selection will be discarded. Selecting 0 closes the feed.
func (e *Engine) Select(conversationID int64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.generation++
	e.conversationID = conversationID
	e.window = nil
	e.hasMore = false
	e.loadingOlder = false
	e.firstLoad = true
	e.view.SetMessages(nil)

	e.logger.Debug("Conversation selected",
		zap.Int64("conversation_id", conversationID),
		zap.Uint64("generation", e.generation),
	)
	return e.generation
}

// Open selects conversationID and performs the initial load.
func (e *Engine) Open(ctx context.Context, conversationID int64) error {
	e.Select(conversationID)
	return e.InitialLoad(ctx)
}

// InitialLoad fetches the newest page and replaces the window with it. The
// viewport is scrolled to the bottom on the first successful load of a
// selection only.
func (e *Engine) InitialLoad(ctx context.Context) error {
	id, gen := e.current()
	if id == 0 {
		return ErrNoConversation
	}

	page, err := e.source.Latest(ctx, id, e.pageSize)
	if err != nil {
		return fmt.Errorf("load conversation %d: %w", id, err)
	}

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.logger.Debug("Discarding stale initial page", zap.Int64("conversation_id", id))
		return ErrStale
	}

	e.window = normalize(page.Messages)
	if page.Total >= 0 {
		e.hasMore = len(page.Messages) < page.Total
	} else {
		e.hasMore = len(page.Messages) >= e.pageSize
	}
	e.view.SetMessages(e.snapshot())
	if e.firstLoad {
		e.view.ScrollToBottom(false)
		e.firstLoad = false
	}
	e.mu.Unlock()

	e.markRead(id)
	return nil
}

// Backfill prepends the page before the oldest held message and keeps the
// previously visible content where it was on screen. It returns the number
// of messages added; zero with a nil error means the call was a no-op (a
// backfill is already running, nothing older exists, or the window is
// empty).
func (e *Engine) Backfill(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.conversationID == 0 || e.loadingOlder || !e.hasMore || len(e.window) == 0 {
		e.mu.Unlock()
		return 0, nil
	}
	e.loadingOlder = true
	id, gen := e.conversationID, e.generation
	oldestID := e.window[0].ID
	e.mu.Unlock()

	older, err := e.source.Before(ctx, id, oldestID, e.pageSize)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		// Select already reset loadingOlder for the new conversation.
		return 0, ErrStale
	}
	e.loadingOlder = false
	if err != nil {
		return 0, fmt.Errorf("load older messages of %d: %w", id, err)
	}

	oldHeight := e.view.ContentHeight()
	oldTop := e.view.ScrollTop()

	before := len(e.window)
	e.window = prepend(e.window, older)
	e.hasMore = len(older) >= e.pageSize

	e.view.SetMessages(e.snapshot())
	e.view.SetScrollTop(e.view.ContentHeight() - oldHeight + oldTop)

	return len(e.window) - before, nil
}

// LiveAppend handles a push for conversationID. Pushes for any other
// conversation are ignored. Only the newest message is fetched and merged by
// id, so repeated pushes for the same message are harmless.
func (e *Engine) LiveAppend(ctx context.Context, conversationID int64) (bool, error) {
	id, gen := e.current()
	if id == 0 || id != conversationID {
		return false, nil
	}
	appended, err := e.appendNewest(ctx, id, gen)
	if err != nil {
		return false, err
	}
	e.markRead(id)
	return appended, nil
}

// Send submits text to the open conversation, then fetches the stored message
// back rather than trusting the local copy. On error nothing is appended and
// the caller keeps its input.
func (e *Engine) Send(ctx context.Context, text string) error {
	msg := entity.NewMessage{Content: text, MessageType: entity.MessageText}
	if err := msg.Validate(); err != nil {
		return err
	}
	id, gen := e.current()
	if id == 0 {
		return ErrNoConversation
	}
	if err := e.source.Send(ctx, id, msg); err != nil {
		return fmt.Errorf("send to conversation %d: %w", id, err)
	}
	if _, err := e.appendNewest(ctx, id, gen); err != nil && !errors.Is(err, ErrStale) {
		// The message is stored; the next push or load will show it.
		e.logger.Warn("Sent message could not be fetched back",
			zap.Int64("conversation_id", id),
			zap.Error(err),
		)
	}
	return nil
}

func (e *Engine) appendNewest(ctx context.Context, id int64, gen uint64) (bool, error) {
	newest, err := e.source.Newest(ctx, id)
	if err != nil {
		return false, fmt.Errorf("fetch newest message of %d: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return false, ErrStale
	}
	if newest == nil {
		return false, nil
	}

	var appended bool
	e.window, appended = merge(e.window, *newest)
	if appended {
		e.view.SetMessages(e.snapshot())
	}
	e.view.ScrollToBottom(true)
	return appended, nil
}

// markRead is fire-and-forget; failures are logged at debug and dropped.
func (e *Engine) markRead(id int64) {
	if e.marker == nil || e.run == nil {
		return
	}
	e.run("feed-mark-read", func() {
		if err := e.marker.MarkRead(context.Background(), id); err != nil {
			e.logger.Debug("Mark read failed", zap.Int64("conversation_id", id), zap.Error(err))
		}
	})
}

func (e *Engine) current() (int64, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationID, e.generation
}

// snapshot copies the window; callers hold e.mu.
func (e *Engine) snapshot() []entity.Message {
	out := make([]entity.Message, len(e.window))
	copy(out, e.window)
	return out
}

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		ConversationID: e.conversationID,
		Generation:     e.generation,
		Messages:       e.snapshot(),
		HasMore:        e.hasMore,
		LoadingOlder:   e.loadingOlder,
		FirstLoad:      e.firstLoad,
	}
}

// ConversationID returns the open conversation, 0 when none.
func (e *Engine) ConversationID() int64 {
	id, _ := e.current()
	return id
}
