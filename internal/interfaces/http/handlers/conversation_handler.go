package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
	"github.com/chatdesk/chatdesk/console/internal/domain/service"
)

// Broadcaster pushes one realtime event to a room.
type Broadcaster interface {
	Emit(room string, event entity.EventName, payload any) int
}

type nopBroadcaster struct{}

func (nopBroadcaster) Emit(string, entity.EventName, any) int { return 0 }

// OrgRoom / AdminRoom match the room names the websocket hub uses.
func OrgRoom(orgID int64) string     { return fmt.Sprintf("org_%d", orgID) }
func AdminRoom(adminID int64) string { return fmt.Sprintf("admin_%d", adminID) }

// ConversationHandler serves conversations, messages, uploads and exports.
type ConversationHandler struct {
	store  *Store
	events Broadcaster
	policy service.UploadPolicy
	prefix string
	logger *zap.Logger
}

// NewConversationHandler creates the handler. A nil events drops broadcasts.
func NewConversationHandler(store *Store, events Broadcaster, policy service.UploadPolicy, prefix string, logger *zap.Logger) *ConversationHandler {
	if events == nil {
		events = nopBroadcaster{}
	}
	return &ConversationHandler{store: store, events: events, policy: policy, prefix: prefix, logger: logger}
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abort(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}

func ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// List GET /conversations
func (h *ConversationHandler) List(c *gin.Context) {
	f := entity.ConversationFilter{
		Status: entity.ConversationStatus(c.Query("status")),
		Search: c.Query("search"),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	f.ChannelID, _ = strconv.ParseInt(c.Query("channel_id"), 10, 64)
	f.AssignedAdminID, _ = strconv.ParseInt(c.Query("assigned_admin_id"), 10, 64)
	if f.Status != "" && !f.Status.Valid() {
		abort(c, http.StatusBadRequest, "invalid status")
		return
	}
	out := h.store.Conversations(f)
	if out == nil {
		out = []entity.Conversation{}
	}
	c.JSON(http.StatusOK, out)
}

// Get GET /conversations/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	conv, found := h.store.Conversation(id)
	if !found {
		abort(c, http.StatusNotFound, "conversation not found")
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Update PUT /conversations/:id
func (h *ConversationHandler) Update(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var u entity.ConversationUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := u.Validate(); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(c, h.store.UpdateConversation(id, u))
}

// action wraps the bodiless POST endpoints.
func (h *ConversationHandler) action(fn func(id int64) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, valid := pathID(c)
		if !valid {
			return
		}
		h.respond(c, fn(id))
	}
}

func (h *ConversationHandler) respond(c *gin.Context, found bool) {
	if !found {
		abort(c, http.StatusNotFound, "conversation not found")
		return
	}
	ok(c)
}

// Resolve POST /conversations/:id/resolve
func (h *ConversationHandler) Resolve(c *gin.Context) { h.action(h.store.Resolve)(c) }

// Reopen POST /conversations/:id/reopen
func (h *ConversationHandler) Reopen(c *gin.Context) { h.action(h.store.Reopen)(c) }

// MarkRead POST /conversations/:id/read
func (h *ConversationHandler) MarkRead(c *gin.Context) { h.action(h.store.MarkRead)(c) }

// Pin POST /conversations/:id/pin
func (h *ConversationHandler) Pin(c *gin.Context) {
	h.action(func(id int64) bool { return h.store.SetPinned(id, true) })(c)
}

// Unpin POST /conversations/:id/unpin
func (h *ConversationHandler) Unpin(c *gin.Context) {
	h.action(func(id int64) bool { return h.store.SetPinned(id, false) })(c)
}

// Tags GET /conversations/:id/tags
func (h *ConversationHandler) Tags(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	conv, found := h.store.Conversation(id)
	if !found {
		abort(c, http.StatusNotFound, "conversation not found")
		return
	}
	tags := conv.Tags
	if tags == nil {
		tags = []string{}
	}
	c.JSON(http.StatusOK, tags)
}

// AddTag POST /conversations/:id/tags {"tag"}
func (h *ConversationHandler) AddTag(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req struct {
		Tag string `json:"tag"`
	}
	_ = c.ShouldBindJSON(&req)
	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		abort(c, http.StatusBadRequest, "tag is required")
		return
	}
	h.respond(c, h.store.AddTag(id, tag))
}

// RemoveTag DELETE /conversations/:id/tags/:tag
func (h *ConversationHandler) RemoveTag(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	h.respond(c, h.store.RemoveTag(id, c.Param("tag")))
}

// Messages GET /conversations/:id/messages?limit=&before_id=
func (h *ConversationHandler) Messages(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	limit := queryInt(c, "limit")
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	beforeID, _ := strconv.ParseInt(c.Query("before_id"), 10, 64)
	msgs, total, found := h.store.Messages(id, limit, beforeID)
	if !found {
		abort(c, http.StatusNotFound, "conversation not found")
		return
	}
	if msgs == nil {
		msgs = []entity.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": total})
}

// Send POST /conversations/:id/messages {content, message_type}
func (h *ConversationHandler) Send(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req entity.NewMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	msg, found := h.store.AppendMessage(entity.Message{
		ConversationID: id,
		SenderType:     entity.SenderAdmin,
		MessageType:    req.MessageType,
		Content:        req.Content,
	})
	if !found {
		abort(c, http.StatusNotFound, "conversation not found")
		return
	}
	h.broadcast(msg)
	c.JSON(http.StatusOK, entity.SendResult{MessageID: msg.ID, Success: true})
}

// Upload POST /conversations/:id/upload (multipart field "file")
func (h *ConversationHandler) Upload(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, "file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.policy.MaxBytes+1))
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = service.DetectContentType(fh.Filename, data)
	}
	if err := h.policy.Validate(contentType, int64(len(data))); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}

	key := h.store.PutMedia(contentType, data)
	mediaURL := h.prefix + "/media/uploads/" + key
	kind := entity.MessageImage
	if strings.HasPrefix(contentType, "video/") {
		kind = entity.MessageVideo
	}
	meta, _ := json.Marshal(entity.MessageMetadata{MediaURL: mediaURL, Filename: fh.Filename, ContentType: contentType})
	msg, found := h.store.AppendMessage(entity.Message{
		ConversationID: id,
		SenderType:     entity.SenderAdmin,
		MessageType:    kind,
		Content:        fh.Filename,
		MetadataJSON:   string(meta),
	})
	if !found {
		abort(c, http.StatusNotFound, "conversation not found")
		return
	}
	h.broadcast(msg)

	res := entity.SendResult{MessageID: msg.ID, Success: true, MediaURL: mediaURL}
	if h.store.Settings().PublicBaseURL == "" {
		res.Warning = "public URL is not configured, the contact may not be able to open the media"
	}
	c.JSON(http.StatusOK, res)
}

// Media GET /media/uploads/:key and /media/line/:id
func (h *ConversationHandler) Media(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		key = c.Param("platform_id")
	}
	m, found := h.store.Media(key)
	if !found {
		abort(c, http.StatusNotFound, "media not found")
		return
	}
	c.Data(http.StatusOK, m.ContentType, m.Data)
}

// Export GET /conversations/:id/export
func (h *ConversationHandler) Export(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var buf bytes.Buffer
	name, err := h.store.ExportConversation(id, &buf)
	if errors.Is(err, errNotFound) {
		abort(c, http.StatusNotFound, "conversation not found")
		return
	}
	h.attachment(c, name, buf.Bytes(), err)
}

// ExportAll GET /conversations/export-all
func (h *ConversationHandler) ExportAll(c *gin.Context) {
	var buf bytes.Buffer
	name, err := h.store.ExportAll(&buf)
	h.attachment(c, name, buf.Bytes(), err)
}

func (h *ConversationHandler) attachment(c *gin.Context, name string, data []byte, err error) {
	if err != nil {
		h.logger.Error("Export failed", zap.Error(err))
		abort(c, http.StatusInternalServerError, "export failed")
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// broadcast announces a stored message to the org room.
func (h *ConversationHandler) broadcast(msg entity.Message) {
	conv, _ := h.store.Conversation(msg.ConversationID)
	h.events.Emit(OrgRoom(conv.OrgID), entity.EventNewMessage, entity.NewMessagePayload{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		ChannelType:    conv.ChannelType,
		Content:        msg.Content,
		SenderType:     msg.SenderType,
	})
}
