package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/models"
	"github.com/nope-sec/nope/internal/security"
	"github.com/nope-sec/nope/internal/util"
)

// APIKeyHandler manages machine credentials. All routes are admin only.
type APIKeyHandler struct {
	db *gorm.DB
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(db *gorm.DB) *APIKeyHandler {
	return &APIKeyHandler{db: db}
}

// apiKeyCreateRequest defines the request body for creating a key.
type apiKeyCreateRequest struct {
	Name string `json:"name"`
}

func apiKeyResponse(key *models.APIKey) gin.H {
	return gin.H{
		"id":           key.ID,
		"name":         key.Name,
		"key":          key.Key,
		"active":       key.Active,
		"created_at":   key.CreatedAt,
		"last_used_at": key.LastUsedAt,
	}
}

// List returns all API keys ordered by name. The key material is
// masked; the full key is only ever shown in the create response.
func (h *APIKeyHandler) List(c *gin.Context) {
	var keys []models.APIKey
	errFind := h.db.WithContext(c.Request.Context()).Order("name ASC").Find(&keys).Error
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list api keys failed"})
		return
	}
	out := make([]gin.H, 0, len(keys))
	for i := range keys {
		item := apiKeyResponse(&keys[i])
		item["key"] = util.MaskKey(keys[i].Key)
		out = append(out, item)
	}
	c.JSON(http.StatusOK, out)
}

// Create generates a new API key. The key name is the actor identity
// its requests carry in audit entries, so names are unique.
func (h *APIKeyHandler) Create(c *gin.Context) {
	var body apiKeyCreateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	var existing models.APIKey
	errDup := h.db.WithContext(c.Request.Context()).Where("name = ?", name).First(&existing).Error
	if errDup == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "api key name already exists"})
		return
	}
	if !errors.Is(errDup, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	token, errGen := security.GenerateAPIKey()
	if errGen != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate key failed"})
		return
	}

	key := models.APIKey{Name: name, Key: token, Active: true}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&key).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create api key failed"})
		return
	}
	c.JSON(http.StatusCreated, apiKeyResponse(&key))
}

// Delete revokes and removes an API key.
func (h *APIKeyHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var key models.APIKey
	errFind := h.db.WithContext(c.Request.Context()).First(&key, id).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	if errDelete := h.db.WithContext(c.Request.Context()).Delete(&models.APIKey{}, key.ID).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete api key failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
