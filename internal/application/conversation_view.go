package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/feed"
	"github.com/chatdesk/chatdesk/console/internal/domain/repository"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/api"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/eventbus"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/monitoring"
	apperrors "github.com/chatdesk/chatdesk/console/pkg/errors"
	"github.com/chatdesk/chatdesk/console/pkg/safego"
)

// ConversationAPI is the slice of the REST client the conversation view uses.
type ConversationAPI interface {
	GetConversation(ctx context.Context, id int64) (*entity.Conversation, error)
	ResolveConversation(ctx context.Context, id int64) error
	ReopenConversation(ctx context.Context, id int64) error
	Pin(ctx context.Context, id int64) error
	Unpin(ctx context.Context, id int64) error
	AddTag(ctx context.Context, id int64, tag string) error
	RemoveTag(ctx context.Context, id int64, tag string) error
	SetPriority(ctx context.Context, id int64, p entity.Priority) error
	Assign(ctx context.Context, id, adminID int64) error
	UploadFile(ctx context.Context, id int64, path string) (*entity.SendResult, error)
	ExportConversation(ctx context.Context, id int64, w io.Writer) (string, error)
}

// RoomChannel is the slice of the live channel the conversation view uses.
type RoomChannel interface {
	JoinConversation(conversationID int64) error
	LeaveConversation(conversationID int64) error
	Typing(conversationID int64) error
}

var (
	_ ConversationAPI = (*api.Client)(nil)
)

// ConversationViewDeps 会话视图依赖
type ConversationViewDeps struct {
	API      ConversationAPI
	Source   feed.Source
	Marker   feed.ReadMarker
	Channel  RoomChannel
	Bus      eventbus.Bus
	Drafts   repository.DraftRepository
	OrgID    int64
	PageSize int
	Run      safego.Runner
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
}

// ConversationView is the open conversation: the feed window, its summary
// row, the composer draft and the admin actions.
type ConversationView struct {
	deps   ConversationViewDeps
	engine *feed.Engine
	logger *zap.Logger

	mu       sync.RWMutex
	summary  *entity.Conversation
	joined   int64
	typingAt time.Time
	onUpdate []func()

	subs eventbus.Subscriptions
}

// NewConversationView binds a view to the live new_message stream. Call Close
// to release the subscription.
func NewConversationView(deps ConversationViewDeps, viewport feed.Viewport) *ConversationView {
	v := &ConversationView{
		deps:   deps,
		logger: deps.Logger.With(zap.String("component", "conversation-view")),
	}
	v.engine = feed.NewEngine(feed.Config{PageSize: deps.PageSize}, deps.Source, viewport, deps.Marker, deps.Run, deps.Logger)
	v.subs.Add(eventbus.On(deps.Bus, entity.EventNewMessage, v.onNewMessage))
	return v
}

// NewConversationView builds a view wired to this app.
func (app *App) NewConversationView(viewport feed.Viewport) *ConversationView {
	var orgID int64
	if id := app.Identity(); id != nil {
		orgID = id.OrgID
	}
	source := api.NewFeedSource(app.client)
	return NewConversationView(ConversationViewDeps{
		API:      app.client,
		Source:   source,
		Marker:   source,
		Channel:  app.channel,
		Bus:      app.bus,
		Drafts:   app.drafts,
		OrgID:    orgID,
		PageSize: app.config.Feed.PageSize,
		Run:      app.run,
		Metrics:  app.metrics,
		Logger:   app.logger,
	}, viewport)
}

// Engine exposes the feed engine.
func (v *ConversationView) Engine() *feed.Engine {
	return v.engine
}

// OnUpdate registers fn to run after live changes (new message, summary).
func (v *ConversationView) OnUpdate(fn func()) {
	v.mu.Lock()
	v.onUpdate = append(v.onUpdate, fn)
	v.mu.Unlock()
}

func (v *ConversationView) notify() {
	v.mu.RLock()
	fns := make([]func(), len(v.onUpdate))
	copy(fns, v.onUpdate)
	v.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Open switches to conversation id: leaves the previous room, resets the
// feed, joins the new room and loads the newest page and the summary row.
func (v *ConversationView) Open(ctx context.Context, id int64) error {
	v.leave()
	v.engine.Select(id)
	v.mu.Lock()
	v.summary = nil
	v.mu.Unlock()

	if v.deps.Channel != nil {
		if err := v.deps.Channel.JoinConversation(id); err != nil {
			v.logger.Debug("Join conversation room failed", zap.Int64("conversation_id", id), zap.Error(err))
		} else {
			v.mu.Lock()
			v.joined = id
			v.mu.Unlock()
		}
	}

	err := v.engine.InitialLoad(ctx)
	v.deps.Metrics.FeedOp("initial_load", err)
	if err != nil {
		return err
	}
	v.refreshSummary(ctx)
	return nil
}

// Deselect leaves the room and empties the feed. The view stays bound to the
// live stream and can Open another conversation.
func (v *ConversationView) Deselect() {
	v.leave()
	v.engine.Select(0)
	v.mu.Lock()
	v.summary = nil
	v.mu.Unlock()
}

// Close leaves the room and drops the subscription.
func (v *ConversationView) Close() {
	v.Deselect()
	v.subs.Release(v.deps.Bus)
}

func (v *ConversationView) leave() {
	v.mu.Lock()
	joined := v.joined
	v.joined = 0
	v.mu.Unlock()
	if joined == 0 || v.deps.Channel == nil {
		return
	}
	if err := v.deps.Channel.LeaveConversation(joined); err != nil {
		v.logger.Debug("Leave conversation room failed", zap.Int64("conversation_id", joined), zap.Error(err))
	}
}

// Backfill loads the previous page.
func (v *ConversationView) Backfill(ctx context.Context) (int, error) {
	n, err := v.engine.Backfill(ctx)
	v.deps.Metrics.FeedOp("backfill", err)
	return n, err
}

// State is the feed snapshot.
func (v *ConversationView) State() feed.State {
	return v.engine.State()
}

// Summary is the conversation row, nil until loaded.
func (v *ConversationView) Summary() *entity.Conversation {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.summary == nil {
		return nil
	}
	c := *v.summary
	return &c
}

func (v *ConversationView) onNewMessage(ctx context.Context, p entity.NewMessagePayload) {
	id := v.engine.ConversationID()
	if id == 0 || p.ConversationID != id {
		return
	}
	v.deps.Run("conversation-live-append", func() {
		ctx := context.Background()
		_, err := v.engine.LiveAppend(ctx, id)
		v.deps.Metrics.FeedOp("live_append", err)
		if err != nil && !errors.Is(err, feed.ErrStale) {
			v.logger.Debug("Live append failed", zap.Int64("conversation_id", id), zap.Error(err))
			return
		}
		v.refreshSummary(ctx)
		v.notify()
	})
}

// refreshSummary refetches the conversation row; failures keep the old row.
func (v *ConversationView) refreshSummary(ctx context.Context) {
	id := v.engine.ConversationID()
	if id == 0 {
		return
	}
	conv, err := v.deps.API.GetConversation(ctx, id)
	if err != nil {
		v.logger.Debug("Summary refresh failed", zap.Int64("conversation_id", id), zap.Error(err))
		return
	}
	if v.engine.ConversationID() != id {
		return
	}
	v.mu.Lock()
	v.summary = conv
	v.mu.Unlock()
}

// ===== Composer =====

// Draft returns the saved composer text of the open conversation.
func (v *ConversationView) Draft(ctx context.Context) string {
	id := v.engine.ConversationID()
	if id == 0 || v.deps.Drafts == nil {
		return ""
	}
	d, err := v.deps.Drafts.Find(ctx, v.deps.OrgID, id)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			v.logger.Debug("Draft lookup failed", zap.Error(err))
		}
		return ""
	}
	return d.Content
}

// SaveDraft stores the composer text; blank text removes the draft.
func (v *ConversationView) SaveDraft(ctx context.Context, text string) error {
	id := v.engine.ConversationID()
	if id == 0 {
		return feed.ErrNoConversation
	}
	if v.deps.Drafts == nil {
		return nil
	}
	d := &entity.Draft{OrgID: v.deps.OrgID, ConversationID: id, Content: text, UpdatedAt: time.Now().UTC()}
	if d.Empty() {
		return v.deps.Drafts.Delete(ctx, v.deps.OrgID, id)
	}
	return v.deps.Drafts.Save(ctx, d)
}

// Send persists the draft, submits it and clears the draft only when the send
// succeeded. On failure the text stays in the draft for the composer to show.
func (v *ConversationView) Send(ctx context.Context, text string) error {
	if err := (entity.NewMessage{Content: text}).Validate(); err != nil {
		return err
	}
	if err := v.SaveDraft(ctx, text); err != nil {
		v.logger.Debug("Saving draft before send failed", zap.Error(err))
	}

	err := v.engine.Send(ctx, strings.TrimSpace(text))
	v.deps.Metrics.FeedOp("send", err)
	if err != nil {
		return err
	}
	if err := v.SaveDraft(ctx, ""); err != nil {
		v.logger.Debug("Clearing draft failed", zap.Error(err))
	}
	v.refreshSummary(ctx)
	return nil
}

// Upload sends a media file, then fetches the stored message back.
func (v *ConversationView) Upload(ctx context.Context, path string) (*entity.SendResult, error) {
	id := v.engine.ConversationID()
	if id == 0 {
		return nil, feed.ErrNoConversation
	}
	res, err := v.deps.API.UploadFile(ctx, id, path)
	v.deps.Metrics.FeedOp("upload", err)
	if err != nil {
		return nil, err
	}
	if _, err := v.engine.LiveAppend(ctx, id); err != nil && !errors.Is(err, feed.ErrStale) {
		v.logger.Debug("Uploaded message could not be fetched back", zap.Error(err))
	}
	return res, nil
}

// Typing announces typing at most once every three seconds.
func (v *ConversationView) Typing() {
	id := v.engine.ConversationID()
	if id == 0 || v.deps.Channel == nil {
		return
	}
	v.mu.Lock()
	if time.Since(v.typingAt) < 3*time.Second {
		v.mu.Unlock()
		return
	}
	v.typingAt = time.Now()
	v.mu.Unlock()
	if err := v.deps.Channel.Typing(id); err != nil {
		v.logger.Debug("Typing event failed", zap.Error(err))
	}
}

// ===== Actions =====

// action runs one admin action on the open conversation, then refetches the
// summary row whatever the outcome.
func (v *ConversationView) action(ctx context.Context, name string, fn func(ctx context.Context, id int64) error) error {
	id := v.engine.ConversationID()
	if id == 0 {
		return feed.ErrNoConversation
	}
	err := fn(ctx, id)
	v.refreshSummary(ctx)
	if err != nil {
		return fmt.Errorf("%s conversation %d: %w", name, id, err)
	}
	return nil
}

// Resolve marks the conversation resolved.
func (v *ConversationView) Resolve(ctx context.Context) error {
	return v.action(ctx, "resolve", v.deps.API.ResolveConversation)
}

// Reopen reopens a resolved conversation.
func (v *ConversationView) Reopen(ctx context.Context) error {
	return v.action(ctx, "reopen", v.deps.API.ReopenConversation)
}

// TogglePin pins or unpins depending on the current summary.
func (v *ConversationView) TogglePin(ctx context.Context) error {
	if s := v.Summary(); s != nil && bool(s.IsPinned) {
		return v.action(ctx, "unpin", v.deps.API.Unpin)
	}
	return v.action(ctx, "pin", v.deps.API.Pin)
}

// AddTag 添加标签
func (v *ConversationView) AddTag(ctx context.Context, tag string) error {
	return v.action(ctx, "tag", func(ctx context.Context, id int64) error {
		return v.deps.API.AddTag(ctx, id, tag)
	})
}

// RemoveTag 删除标签
func (v *ConversationView) RemoveTag(ctx context.Context, tag string) error {
	return v.action(ctx, "untag", func(ctx context.Context, id int64) error {
		return v.deps.API.RemoveTag(ctx, id, tag)
	})
}

// SetPriority 设置优先级
func (v *ConversationView) SetPriority(ctx context.Context, p entity.Priority) error {
	if !p.Valid() {
		return entity.ErrInvalidPriority
	}
	return v.action(ctx, "prioritize", func(ctx context.Context, id int64) error {
		return v.deps.API.SetPriority(ctx, id, p)
	})
}

// Assign 分配给管理员
func (v *ConversationView) Assign(ctx context.Context, adminID int64) error {
	return v.action(ctx, "assign", func(ctx context.Context, id int64) error {
		return v.deps.API.Assign(ctx, id, adminID)
	})
}

// Export writes the open conversation as CSV.
func (v *ConversationView) Export(ctx context.Context, w io.Writer) (string, error) {
	id := v.engine.ConversationID()
	if id == 0 {
		return "", feed.ErrNoConversation
	}
	return v.deps.API.ExportConversation(ctx, id, w)
}
