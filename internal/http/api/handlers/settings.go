package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/settings"
)

// SettingsHandler serves the runtime-editable EDL URL configuration.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// edlURLUpdateRequest defines the request body for EDL URL updates.
type edlURLUpdateRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// GetEDLURL returns the host and port advertised in feed URLs.
func (h *SettingsHandler) GetEDLURL(c *gin.Context) {
	ctx := c.Request.Context()
	host, errHost := settings.Get(ctx, h.db, settings.KeyEDLHost, "localhost")
	if errHost != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load settings failed"})
		return
	}
	portStr, errPort := settings.Get(ctx, h.db, settings.KeyEDLPort, "8081")
	if errPort != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load settings failed"})
		return
	}
	port, _ := strconv.Atoi(portStr)
	c.JSON(http.StatusOK, gin.H{
		"host":     host,
		"port":     port,
		"full_url": fmt.Sprintf("https://%s:%d", host, port),
	})
}

// UpdateEDLURL stores a new advertised host and port. A pasted full URL
// is reduced to its hostname. Admin only.
func (h *SettingsHandler) UpdateEDLURL(c *gin.Context) {
	var body edlURLUpdateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	host := strings.TrimSpace(body.Host)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	if i := strings.IndexAny(host, "/:"); i >= 0 {
		host = host[:i]
	}
	if host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "host cannot be empty"})
		return
	}
	if body.Port < 1 || body.Port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "port must be between 1 and 65535"})
		return
	}

	ctx := c.Request.Context()
	if errSet := settings.Set(ctx, h.db, settings.KeyEDLHost, host); errSet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save settings failed"})
		return
	}
	if errSet := settings.Set(ctx, h.db, settings.KeyEDLPort, strconv.Itoa(body.Port)); errSet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save settings failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"host":     host,
		"port":     body.Port,
		"full_url": fmt.Sprintf("https://%s:%d", host, body.Port),
	})
}

// PublicConfig returns the feed base URL without authentication, for
// client bootstrap.
func (h *SettingsHandler) PublicConfig(c *gin.Context) {
	baseURL, errURL := settings.EDLBaseURL(c.Request.Context(), h.db)
	if errURL != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load settings failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"edl_base_url": baseURL})
}
