// Package realtime holds the session's single live connection to the
// backend. Frames are JSON envelopes {"event": name, "data": {...}}; every
// received frame is republished on the event bus with its raw data as the
// payload.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/eventbus"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/monitoring"
	"github.com/chatdesk/chatdesk/console/pkg/safego"
)

// ErrNotConnected is returned by Emit when no connection is open.
var ErrNotConnected = errors.New("realtime: not connected")

// ErrSuperseded is returned by Open when Close or another Open ran while the
// dial was in progress. The fresh connection is dropped.
var ErrSuperseded = errors.New("realtime: closed while connecting")

// Envelope 实时通道帧
type Envelope struct {
	Event entity.EventName `json:"event"`
	Data  json.RawMessage  `json:"data,omitempty"`
}

// ClosedPayload is published as channel_closed when the connection drops
// without Close being called.
type ClosedPayload struct {
	Reason string `json:"reason"`
}

// Config 实时通道配置
type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
}

// WSURL turns the REST base URL into the socket URL: http→ws, https→wss.
func WSURL(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if path == "" {
		path = "/ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	return u.String(), nil
}

// Channel is one live connection per authenticated session.
type Channel struct {
	cfg     Config
	bus     eventbus.Bus
	logger  *zap.Logger
	metrics *monitoring.Metrics
	dialer  *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	identity *entity.Identity
	gen      uint64
	rooms    map[int64]struct{}

	writeMu sync.Mutex
}

// NewChannel 创建实时通道, 不会立即连接
func NewChannel(cfg Config, bus eventbus.Bus, logger *zap.Logger, metrics *monitoring.Metrics) *Channel {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 512 * 1024
	}
	return &Channel{
		cfg:     cfg,
		bus:     bus,
		logger:  logger.With(zap.String("component", "realtime")),
		metrics: metrics,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		rooms: make(map[int64]struct{}),
	}
}

// Open connects for identity and announces the org scope. Any existing
// connection is torn down first. A nil identity only tears down.
func (c *Channel) Open(ctx context.Context, identity *entity.Identity) error {
	c.Close()
	if identity == nil {
		return nil
	}
	c.mu.Lock()
	dialGen := c.gen
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	c.mu.Lock()
	if c.gen != dialGen {
		c.mu.Unlock()
		_ = conn.Close()
		c.logger.Debug("Dropping connection opened after close", zap.String("url", c.cfg.URL))
		return ErrSuperseded
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	id := *identity
	c.identity = &id
	c.rooms = make(map[int64]struct{})
	c.mu.Unlock()

	if err := c.Emit(entity.EventJoin, entity.JoinPayload{OrgID: identity.OrgID}); err != nil {
		c.Close()
		return fmt.Errorf("join org %d: %w", identity.OrgID, err)
	}

	c.metrics.SetConnected(true)
	c.logger.Info("Realtime channel open",
		zap.String("url", c.cfg.URL),
		zap.Int64("org_id", identity.OrgID),
	)

	safego.Go(c.logger, "realtime-read", func() {
		c.readLoop(conn, gen)
	})
	return nil
}

// Close tears the connection down. Safe to call when nothing is open.
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.identity = nil
	c.gen++
	c.rooms = make(map[int64]struct{})
	c.mu.Unlock()

	if conn == nil {
		return
	}
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	_ = conn.Close()

	c.metrics.SetConnected(false)
	c.logger.Info("Realtime channel closed")
}

// Connected reports whether a connection is open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Identity is the identity the channel was opened for, nil when closed.
func (c *Channel) Identity() *entity.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return nil
	}
	id := *c.identity
	return &id
}

// Emit sends one event.
func (c *Channel) Emit(name entity.EventName, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	frame, err := json.Marshal(Envelope{Event: name, Data: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// JoinConversation enters the conversation room.
func (c *Channel) JoinConversation(conversationID int64) error {
	if err := c.Emit(entity.EventJoinConversation, entity.ConversationScopePayload{ConversationID: conversationID}); err != nil {
		return err
	}
	c.mu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.mu.Unlock()
	return nil
}

// LeaveConversation leaves the conversation room.
func (c *Channel) LeaveConversation(conversationID int64) error {
	c.mu.Lock()
	delete(c.rooms, conversationID)
	c.mu.Unlock()
	return c.Emit(entity.EventLeaveConversation, entity.ConversationScopePayload{ConversationID: conversationID})
}

// Typing tells other admins this one is typing in a conversation.
func (c *Channel) Typing(conversationID int64) error {
	return c.Emit(entity.EventAdminTyping, entity.ConversationScopePayload{ConversationID: conversationID})
}

// Rooms returns the conversation rooms currently joined.
func (c *Channel) Rooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	ctx := context.Background()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, gen, err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Warn("Ignoring malformed frame", zap.Int("bytes", len(data)))
			continue
		}
		c.metrics.LiveEvent(string(env.Event))
		c.bus.Publish(ctx, eventbus.NewEvent(env.Event, env.Data))
	}
}

// dropped clears state after a read error, unless Close or a newer Open
// already replaced the connection.
func (c *Channel) dropped(conn *websocket.Conn, gen uint64, cause error) {
	c.mu.Lock()
	current := c.gen == gen
	if current {
		c.conn = nil
		c.identity = nil
		c.rooms = make(map[int64]struct{})
	}
	c.mu.Unlock()
	_ = conn.Close()

	if !current {
		return
	}
	c.metrics.SetConnected(false)
	c.logger.Warn("Realtime channel dropped", zap.Error(cause))
	c.bus.Publish(context.Background(), eventbus.NewEvent(entity.EventChannelClosed, ClosedPayload{Reason: cause.Error()}))
}
