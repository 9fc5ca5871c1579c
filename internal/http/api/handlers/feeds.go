package handlers

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/edl"
	"github.com/nope-sec/nope/internal/models"
	"github.com/nope-sec/nope/internal/security"
)

// FeedHandler serves the generated feed files to firewalls and runs the
// manual regeneration sweep.
type FeedHandler struct {
	db    *gorm.DB
	feeds *edl.Generator
}

// NewFeedHandler constructs a FeedHandler.
func NewFeedHandler(db *gorm.DB, feeds *edl.Generator) *FeedHandler {
	return &FeedHandler{db: db, feeds: feeds}
}

// Serve returns one feed file as plain text behind basic auth. Feed
// consumers authenticate with the feed credential, not console tokens.
func (h *FeedHandler) Serve(c *gin.Context) {
	username, password, ok := c.Request.BasicAuth()
	if !ok || !h.checkCredential(c, username, password) {
		c.Header("WWW-Authenticate", `Basic realm="edl"`)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	slug := c.Param("slug")
	if !models.ValidSlug(slug) {
		c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
		return
	}

	path := h.feeds.PathFor(slug)
	if _, errStat := os.Stat(path); errStat != nil {
		// The database is authoritative; rebuild on demand when the
		// file is missing but the list exists.
		written, errGen := h.feeds.Generate(c.Request.Context(), slug)
		if errGen != nil || written == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
			return
		}
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.File(path)
}

// RegenerateAll rewrites every feed file from the database. This is the
// recovery sweep for feed writes that failed after commit. Admin only.
func (h *FeedHandler) RegenerateAll(c *gin.Context) {
	paths, errGen := h.feeds.GenerateAll(c.Request.Context())
	if errGen != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "regeneration failed", "written": len(paths)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"regenerated": len(paths)})
}

func (h *FeedHandler) checkCredential(c *gin.Context, username, password string) bool {
	var cred models.FeedCredential
	errFind := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&cred).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return false
	}
	if errFind != nil {
		return false
	}
	return security.CheckPassword(cred.HashedPassword, password)
}
