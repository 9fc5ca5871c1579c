package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/edl"
	"github.com/nope-sec/nope/internal/models"
	"github.com/nope-sec/nope/internal/security"
)

// CredentialHandler manages the single global feed credential. All
// routes are admin only.
type CredentialHandler struct {
	db    *gorm.DB
	feeds *edl.Generator
}

// NewCredentialHandler constructs a CredentialHandler.
func NewCredentialHandler(db *gorm.DB, feeds *edl.Generator) *CredentialHandler {
	return &CredentialHandler{db: db, feeds: feeds}
}

// credentialUpdateRequest defines the request body for credential
// updates. An empty password keeps the current one.
type credentialUpdateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Get returns the feed credential's username.
func (h *CredentialHandler) Get(c *gin.Context) {
	var cred models.FeedCredential
	errFind := h.db.WithContext(c.Request.Context()).Limit(1).First(&cred).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no feed credential configured"})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": cred.ID, "username": cred.Username})
}

// Update changes the feed credential and rewrites the htpasswd file so
// fronting proxies pick up the change.
func (h *CredentialHandler) Update(c *gin.Context) {
	var body credentialUpdateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	username := strings.TrimSpace(body.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}

	var cred models.FeedCredential
	errFind := h.db.WithContext(c.Request.Context()).Limit(1).First(&cred).Error
	if errFind != nil && !errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		if body.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password required for new credential"})
			return
		}
		hash, errHash := security.HashPassword(body.Password)
		if errHash != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
			return
		}
		cred = models.FeedCredential{Username: username, HashedPassword: hash}
		if errCreate := h.db.WithContext(c.Request.Context()).Create(&cred).Error; errCreate != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create credential failed"})
			return
		}
	} else {
		updates := map[string]any{"username": username}
		if body.Password != "" {
			hash, errHash := security.HashPassword(body.Password)
			if errHash != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
				return
			}
			updates["hashed_password"] = hash
		}
		if errUpdate := h.db.WithContext(c.Request.Context()).Model(&cred).Updates(updates).Error; errUpdate != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update credential failed"})
			return
		}
	}

	if errSync := h.feeds.SyncHtpasswd(c.Request.Context()); errSync != nil {
		log.WithError(errSync).Warn("htpasswd sync failed")
	}
	c.JSON(http.StatusOK, gin.H{"id": cred.ID, "username": cred.Username})
}
