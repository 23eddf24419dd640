package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatdesk/chatdesk/console/internal/domain/entity"
)

// DirectoryHandler serves contacts, templates and the team list.
type DirectoryHandler struct {
	store  *Store
	logger *zap.Logger
}

func NewDirectoryHandler(store *Store, logger *zap.Logger) *DirectoryHandler {
	return &DirectoryHandler{store: store, logger: logger}
}

// Contacts GET /contacts?search=&limit=&offset=
func (h *DirectoryHandler) Contacts(c *gin.Context) {
	out := h.store.Contacts(c.Query("search"), queryInt(c, "limit"), queryInt(c, "offset"))
	if out == nil {
		out = []entity.Contact{}
	}
	c.JSON(http.StatusOK, out)
}

// Contact GET /contacts/:id
func (h *DirectoryHandler) Contact(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	ct, found := h.store.Contact(id)
	if !found {
		abort(c, http.StatusNotFound, "contact not found")
		return
	}
	c.JSON(http.StatusOK, ct)
}

// UpdateContact PUT /contacts/:id
func (h *DirectoryHandler) UpdateContact(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var u entity.ContactUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := u.Validate(); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if !h.store.UpdateContact(id, u) {
		abort(c, http.StatusNotFound, "contact not found")
		return
	}
	ok(c)
}

// Templates GET /templates?category=
func (h *DirectoryHandler) Templates(c *gin.Context) {
	out := h.store.Templates(c.Query("category"))
	if out == nil {
		out = []entity.Template{}
	}
	c.JSON(http.StatusOK, out)
}

func bindTemplate(c *gin.Context) (entity.TemplateInput, bool) {
	var in entity.TemplateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return in, false
	}
	if err := in.Validate(); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return in, false
	}
	return in, true
}

// CreateTemplate POST /templates
func (h *DirectoryHandler) CreateTemplate(c *gin.Context) {
	in, valid := bindTemplate(c)
	if !valid {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": h.store.CreateTemplate(in)})
}

// UpdateTemplate PUT /templates/:id
func (h *DirectoryHandler) UpdateTemplate(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	in, valid := bindTemplate(c)
	if !valid {
		return
	}
	if !h.store.UpdateTemplate(id, in) {
		abort(c, http.StatusNotFound, "template not found")
		return
	}
	ok(c)
}

// DeleteTemplate DELETE /templates/:id
func (h *DirectoryHandler) DeleteTemplate(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if !h.store.DeleteTemplate(id) {
		abort(c, http.StatusNotFound, "template not found")
		return
	}
	ok(c)
}

// Team GET /team
func (h *DirectoryHandler) Team(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Team())
}
