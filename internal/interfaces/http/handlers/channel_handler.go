package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// ChannelHandler serves channels, their credentials and AI providers.
type ChannelHandler struct {
	store   *Store
	baseURL string
	logger  *zap.Logger
}

// NewChannelHandler creates the handler. baseURL is used for webhook URLs
// when no public URL has been configured.
func NewChannelHandler(store *Store, baseURL string, logger *zap.Logger) *ChannelHandler {
	return &ChannelHandler{store: store, baseURL: baseURL, logger: logger}
}

// List GET /channels
func (h *ChannelHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Channels())
}

// Get GET /channels/:id, with masked credentials.
func (h *ChannelHandler) Get(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	ch, found := h.store.Channel(id)
	if !found {
		abort(c, http.StatusNotFound, "channel not found")
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Create POST /channels
func (h *ChannelHandler) Create(c *gin.Context) {
	var in entity.ChannelInput
	if err := c.ShouldBindJSON(&in); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := in.Validate(); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if _, known := ChannelTypes[in.ChannelType]; !known {
		abort(c, http.StatusBadRequest, "unsupported channel type")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": h.store.CreateChannel(in)})
}

// Update PUT /channels/:id
func (h *ChannelHandler) Update(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var in entity.ChannelInput
	if err := c.ShouldBindJSON(&in); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if !h.store.UpdateChannel(id, in) {
		abort(c, http.StatusNotFound, "channel not found")
		return
	}
	ok(c)
}

// Delete DELETE /channels/:id
func (h *ChannelHandler) Delete(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if !h.store.DeleteChannel(id) {
		abort(c, http.StatusNotFound, "channel not found")
		return
	}
	ok(c)
}

// SetCredentials POST /channels/:id/credentials
func (h *ChannelHandler) SetCredentials(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var values map[string]string
	if err := c.ShouldBindJSON(&values); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.SetCredentials(id, values); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errNotFound) {
			status = http.StatusNotFound
		}
		abort(c, status, err.Error())
		return
	}
	h.logger.Info("Channel credentials updated", zap.Int64("channel_id", id), zap.Int("fields", len(values)))
	ok(c)
}

// Verify POST /channels/:id/verify
func (h *ChannelHandler) Verify(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	res, found := h.store.VerifyChannel(id)
	if !found {
		abort(c, http.StatusNotFound, "channel not found")
		return
	}
	c.JSON(http.StatusOK, res)
}

// WebhookURL GET /channels/:id/webhook-url
func (h *ChannelHandler) WebhookURL(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	ch, found := h.store.Channel(id)
	if !found {
		abort(c, http.StatusNotFound, "channel not found")
		return
	}
	base := h.store.Settings().PublicBaseURL
	if base == "" {
		base = h.baseURL
	}
	c.JSON(http.StatusOK, gin.H{
		"webhook_url": fmt.Sprintf("%s/webhooks/%s/%d", strings.TrimRight(base, "/"), ch.ChannelType, ch.ID),
	})
}

// Types GET /channel-types
func (h *ChannelHandler) Types(c *gin.Context) {
	c.JSON(http.StatusOK, ChannelTypes)
}

// ===== AI providers =====

// Providers GET /ai-providers
func (h *ChannelHandler) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.AIProviders())
}

// CreateProvider POST /ai-providers
func (h *ChannelHandler) CreateProvider(c *gin.Context) {
	var in entity.AIProviderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := in.ValidateCreate(); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if _, known := AIProviderTypes[in.ProviderType]; !known {
		abort(c, http.StatusBadRequest, "unsupported provider type")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": h.store.CreateAIProvider(in)})
}

// UpdateProvider PUT /ai-providers/:id
func (h *ChannelHandler) UpdateProvider(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var in entity.AIProviderInput
	if err := c.ShouldBindJSON(&in); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := in.ValidateUpdate(); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if !h.store.UpdateAIProvider(id, in) {
		abort(c, http.StatusNotFound, "provider not found")
		return
	}
	ok(c)
}

// DeleteProvider DELETE /ai-providers/:id
func (h *ChannelHandler) DeleteProvider(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if !h.store.DeleteAIProvider(id) {
		abort(c, http.StatusNotFound, "provider not found")
		return
	}
	ok(c)
}

// TestProvider POST /ai-providers/:id/test
func (h *ChannelHandler) TestProvider(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	res, found := h.store.TestAIProvider(id)
	if !found {
		abort(c, http.StatusNotFound, "provider not found")
		return
	}
	c.JSON(http.StatusOK, res)
}

// ProviderTypes GET /ai-provider-types
func (h *ChannelHandler) ProviderTypes(c *gin.Context) {
	c.JSON(http.StatusOK, AIProviderTypes)
}
