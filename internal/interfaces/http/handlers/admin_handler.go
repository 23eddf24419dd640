package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// AdminHandler serves identity, notifications, analytics, settings and backups.
type AdminHandler struct {
	store  *Store
	logger *zap.Logger
}

func NewAdminHandler(store *Store, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{store: store, logger: logger}
}

// Me GET /me
func (h *AdminHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Admin())
}

// Notifications GET /notifications[?unread=1]
func (h *AdminHandler) Notifications(c *gin.Context) {
	unread := c.Query("unread") == "1" || c.Query("unread") == "true"
	c.JSON(http.StatusOK, h.store.Notifications(unread))
}

// MarkNotificationRead POST /notifications/:id/read
func (h *AdminHandler) MarkNotificationRead(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if !h.store.MarkNotificationRead(id) {
		abort(c, http.StatusNotFound, "notification not found")
		return
	}
	ok(c)
}

// MarkAllNotificationsRead POST /notifications/read-all
func (h *AdminHandler) MarkAllNotificationsRead(c *gin.Context) {
	h.store.MarkAllNotificationsRead()
	ok(c)
}

// Overview GET /analytics/overview
func (h *AdminHandler) Overview(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Overview())
}

// Behavior GET /analytics/customer-behavior
func (h *AdminHandler) Behavior(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Behavior())
}

// AIToggle GET /settings/ai-toggle
func (h *AdminHandler) AIToggle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ai_auto_reply_enabled": h.store.Settings().AIAutoReplyEnabled})
}

// SetAIToggle PUT /settings/ai-toggle
func (h *AdminHandler) SetAIToggle(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"ai_auto_reply_enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		abort(c, http.StatusBadRequest, "ai_auto_reply_enabled is required")
		return
	}
	h.store.SetAIAutoReply(*req.Enabled)
	ok(c)
}

// PublicURL GET /settings/public-url
func (h *AdminHandler) PublicURL(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"public_base_url": h.store.Settings().PublicBaseURL})
}

// SetPublicURL PUT /settings/public-url
func (h *AdminHandler) SetPublicURL(c *gin.Context) {
	var req entity.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	h.store.SetPublicURL(req.PublicBaseURL)
	ok(c)
}

// Backups GET /backups
func (h *AdminHandler) Backups(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Backups())
}

// CreateBackup POST /backups
func (h *AdminHandler) CreateBackup(c *gin.Context) {
	b, err := h.store.CreateBackup()
	if err != nil {
		abort(c, http.StatusConflict, err.Error())
		return
	}
	h.logger.Info("Backup created", zap.String("filename", b.Filename))
	c.JSON(http.StatusOK, b)
}

func backupName(c *gin.Context) (string, bool) {
	name := c.Param("filename")
	if !entity.ValidBackupName(name) {
		abort(c, http.StatusBadRequest, "invalid backup filename")
		return "", false
	}
	return name, true
}

// RestoreBackup POST /backups/:filename/restore
func (h *AdminHandler) RestoreBackup(c *gin.Context) {
	name, valid := backupName(c)
	if !valid {
		return
	}
	if err := h.store.RestoreBackup(name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errNotFound) {
			status = http.StatusNotFound
		}
		abort(c, status, err.Error())
		return
	}
	h.logger.Warn("Backup restored", zap.String("filename", name))
	ok(c)
}

// DownloadBackup GET /backups/:filename/download
func (h *AdminHandler) DownloadBackup(c *gin.Context) {
	name, valid := backupName(c)
	if !valid {
		return
	}
	data, found := h.store.BackupData(name)
	if !found {
		abort(c, http.StatusNotFound, "backup not found")
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+name)
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(http.StatusOK, "application/octet-stream", data)
}
