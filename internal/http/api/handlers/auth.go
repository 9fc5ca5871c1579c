package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/auth"
	"github.com/nope-sec/nope/internal/config"
	"github.com/nope-sec/nope/internal/models"
	"github.com/nope-sec/nope/internal/security"
)

// AuthHandler handles console authentication endpoints.
type AuthHandler struct {
	db  *gorm.DB
	cfg *config.Config
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg *config.Config) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg}
}

// loginRequest defines the request body for console login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates a console user and issues a session token. A
// locked account gets the same generic 401 as bad credentials so the
// response does not leak which usernames exist.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, errAuth := auth.Authenticate(c.Request.Context(), h.db, username, body.Password)
	var locked *auth.LockedError
	if errors.As(errAuth, &locked) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if errAuth != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authentication failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, errToken := security.GenerateToken(h.cfg.SecretKey, user, h.cfg.TokenExpiry)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

// Me returns the authenticated user's identity.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"username": c.GetString("actor"),
		"role":     c.GetString("role"),
	})
}

// changePasswordRequest defines the request body for password changes.
type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword verifies the current password and stores a new one.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var body changePasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var user models.UIUser
	errFind := h.db.WithContext(c.Request.Context()).
		Where("username = ?", c.GetString("actor")).First(&user).Error
	if errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	errChange := auth.ChangePassword(c.Request.Context(), h.db, user.ID, body.CurrentPassword, body.NewPassword)
	if errChange != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errChange.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "password updated"})
}
