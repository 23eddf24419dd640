// Package websocket is the sandbox backend's live endpoint: a hub of
// connections grouped into rooms (org_{id}, admin_{id}, conversation_{id}).
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/monitoring"
	"github.com/chatdesk/chatdesk/console/internal/infrastructure/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // sandbox only
	},
}

// OrgRoom 组织房间名
func OrgRoom(orgID int64) string { return fmt.Sprintf("org_%d", orgID) }

// AdminRoom 管理员房间名
func AdminRoom(adminID int64) string { return fmt.Sprintf("admin_%d", adminID) }

// ConversationRoom 会话房间名
func ConversationRoom(conversationID int64) string {
	return fmt.Sprintf("conversation_%d", conversationID)
}

// Authenticator resolves the admin behind an upgrade request.
type Authenticator func(r *http.Request) (*entity.Identity, bool)

// EventHandler receives client frames the hub does not handle itself
// (mark_read, admin_typing).
type EventHandler func(c *Client, env realtime.Envelope)

// Client 一个已连接的管理员
type Client struct {
	ID       string
	Identity entity.Identity

	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	rooms  map[string]struct{}
	logger *zap.Logger
}

// Hub WebSocket 连接中心
type Hub struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics

	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	nextID  atomic.Uint64

	onEvent EventHandler
}

// NewHub 创建连接中心
func NewHub(logger *zap.Logger, metrics *monitoring.Metrics) *Hub {
	return &Hub{
		logger:     logger.With(zap.String("component", "ws-hub")),
		metrics:    metrics,
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
	}
}

// SetEventHandler 设置客户端事件处理器
func (h *Hub) SetEventHandler(fn EventHandler) {
	h.onEvent = fn
}

// Run 运行连接中心, 直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.unregister:
			if h.remove(c) {
				h.logger.Info("Client disconnected", zap.String("client_id", c.ID))
				h.Emit(OrgRoom(c.Identity.OrgID), entity.EventAdminOffline, entity.PresencePayload{
					AdminID:  c.Identity.AdminID,
					Username: c.Identity.Username,
				})
			}
		}
	}
}

// add registers c before its pumps start, so its first frame can join rooms.
func (h *Hub) add(c *Client) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.WSConnected()
	h.logger.Info("Client connected",
		zap.String("client_id", c.ID),
		zap.Int64("admin_id", c.Identity.AdminID),
	)
	return true
}

// remove drops c from every room and closes its send queue once.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	close(c.send)
	h.metrics.WSDisconnected()
	return true
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
}

// Join adds c to room.
func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// Leave removes c from room.
func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// Emit sends one event to every member of room and returns how many clients
// it was queued for. Clients whose queue is full are skipped.
func (h *Hub) Emit(room string, event entity.EventName, payload any) int {
	frame, err := encode(event, payload)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("event", string(event)), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	delivered := 0
	for c := range h.rooms[room] {
		select {
		case c.send <- frame:
			delivered++
		default:
			h.logger.Warn("Client queue full, dropping frame", zap.String("client_id", c.ID))
		}
	}
	h.mu.RUnlock()

	h.metrics.WSDelivered(delivered)
	return delivered
}

// ClientCount 获取客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize 房间成员数
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Handler WebSocket 处理器
type Handler struct {
	hub    *Hub
	auth   Authenticator
	logger *zap.Logger
}

// NewHandler 创建 WebSocket 处理器
func NewHandler(hub *Hub, auth Authenticator, logger *zap.Logger) *Handler {
	return &Handler{hub: hub, auth: auth, logger: logger}
}

// ServeWS 处理 WebSocket 连接. Unauthenticated upgrades get a 401.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id, ok := h.auth(r)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	c := &Client{
		ID:       fmt.Sprintf("c%d", h.hub.nextID.Add(1)),
		Identity: *id,
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      h.hub,
		rooms:    make(map[string]struct{}),
		logger:   h.logger,
	}
	if !h.hub.add(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump 读取消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		var env realtime.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("Failed to parse frame", zap.Error(err))
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env realtime.Envelope) {
	switch env.Event {
	case entity.EventJoin:
		var p entity.JoinPayload
		_ = json.Unmarshal(env.Data, &p)
		if p.OrgID != c.Identity.OrgID {
			c.reply(entity.EventError, map[string]string{"message": "organization mismatch"})
			return
		}
		c.hub.Join(c, OrgRoom(p.OrgID))
		c.hub.Join(c, AdminRoom(c.Identity.AdminID))
		c.reply(entity.EventConnected, map[string]any{"org_id": p.OrgID, "admin_id": c.Identity.AdminID})
		c.hub.Emit(OrgRoom(p.OrgID), entity.EventAdminOnline, entity.PresencePayload{
			AdminID:  c.Identity.AdminID,
			Username: c.Identity.Username,
		})
	case entity.EventJoinConversation, entity.EventLeaveConversation:
		var p entity.ConversationScopePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.ConversationID == 0 {
			return
		}
		if env.Event == entity.EventJoinConversation {
			c.hub.Join(c, ConversationRoom(p.ConversationID))
		} else {
			c.hub.Leave(c, ConversationRoom(p.ConversationID))
		}
	default:
		if c.hub.onEvent != nil {
			c.hub.onEvent(c, env)
		}
	}
}

// reply queues a frame for this client only.
func (c *Client) reply(event entity.EventName, payload any) {
	frame, err := encode(event, payload)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// writePump 写入消息
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(event entity.EventName, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(realtime.Envelope{Event: event, Data: data})
}
