package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keywarden/keywarden/internal/keys"
	"github.com/keywarden/keywarden/internal/observability"
)

// Handlers implements the administrative key endpoints.
type Handlers struct {
	manager *keys.Manager
	logger  observability.Logger
}

// NewHandlers creates the administrative handlers.
func NewHandlers(manager *keys.Manager, logger observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{manager: manager, logger: logger}
}

// Register mounts the administrative routes on the given group.
func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.POST("/keys", h.CreateKey)
	rg.GET("/keys/:key", h.GetKey)
	rg.PATCH("/keys/:key", h.UpdateKey)
	rg.DELETE("/keys/:key/cache", h.EvictKey)
}

// createKeyRequest is the body for POST /keys.
type createKeyRequest struct {
	// Key is optional; when absent the key is derived from the email
	// and website.
	Key     string `json:"key"`
	AppName string `json:"appName" binding:"required"`
	Website string `json:"website" binding:"required"`
	Email   string `json:"email" binding:"required"`
	Tier    int    `json:"tier"`
	Active  *bool  `json:"active"`
}

// createKeyResponse is the body returned by POST /keys.
type createKeyResponse struct {
	Key string `json:"key"`
}

// CreateKey handles POST /keys. Creation is idempotent per identity:
// resubmitting the same identity returns the same key again.
func (h *Handlers) CreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rec := keys.Record{
		Key:     req.Key,
		AppName: req.AppName,
		Website: req.Website,
		Email:   req.Email,
		Tier:    req.Tier,
		Active:  active,
	}

	key, err := h.manager.Create(c.Request.Context(), rec)
	if err != nil {
		h.logger.Error("key creation failed", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "could not create key",
		})
		return
	}

	c.JSON(http.StatusCreated, createKeyResponse{Key: key})
}

// GetKey handles GET /keys/:key. It reports whether the key validates,
// without distinguishing unknown, inactive, and unverifiable keys.
func (h *Handlers) GetKey(c *gin.Context) {
	entity := h.manager.GetAPIKey(c.Request.Context(), c.Param("key"))
	if entity == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "unknown API key",
		})
		return
	}
	c.JSON(http.StatusOK, entity)
}

// updateKeyRequest is the body for PATCH /keys/:key. Absent fields are
// left untouched.
type updateKeyRequest struct {
	AppName *string `json:"appName"`
	Website *string `json:"website"`
	Email   *string `json:"email"`
	Tier    *int    `json:"tier"`
	Active  *bool   `json:"active"`
}

// UpdateKey handles PATCH /keys/:key.
func (h *Handlers) UpdateKey(c *gin.Context) {
	var req updateKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	fields := keys.Fields{
		AppName: req.AppName,
		Website: req.Website,
		Email:   req.Email,
		Tier:    req.Tier,
		Active:  req.Active,
	}

	err := h.manager.Update(c.Request.Context(), c.Param("key"), fields)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	case errors.Is(err, keys.ErrNoFields):
		badRequest(c, "no fields to update")
	case errors.Is(err, keys.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "unknown API key",
		})
	default:
		h.logger.Error("key update failed", observability.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "could not update key",
		})
	}
}

// EvictKey handles DELETE /keys/:key/cache. It drops the key from this
// instance's cache tiers; the store row is untouched.
func (h *Handlers) EvictKey(c *gin.Context) {
	h.manager.DeleteCachedAPIKey(c.Request.Context(), c.Param("key"))
	c.JSON(http.StatusOK, gin.H{"status": "evicted"})
}

// badRequest writes a uniform 400 response.
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "bad_request",
		"message": message,
	})
}
