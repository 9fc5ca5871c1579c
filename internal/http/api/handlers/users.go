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
)

// UserHandler handles console user administration. All routes are
// admin only.
type UserHandler struct {
	db *gorm.DB
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

// userCreateRequest defines the request body for creating a user.
type userCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// userUpdateRequest defines the request body for updating a user.
type userUpdateRequest struct {
	Role     *string `json:"role"`
	Password *string `json:"password"`
}

func userResponse(user *models.UIUser) gin.H {
	return gin.H{
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
	}
}

// List returns all console users ordered by username.
func (h *UserHandler) List(c *gin.Context) {
	var users []models.UIUser
	errFind := h.db.WithContext(c.Request.Context()).Order("username ASC").Find(&users).Error
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}
	out := make([]gin.H, 0, len(users))
	for i := range users {
		out = append(out, userResponse(&users[i]))
	}
	c.JSON(http.StatusOK, out)
}

// Create adds a console user. New users default to the analyst role.
func (h *UserHandler) Create(c *gin.Context) {
	var body userCreateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	username := strings.TrimSpace(body.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	role := models.UserRole(body.Role)
	if role == "" {
		role = models.RoleAnalyst
	}
	if role != models.RoleAdmin && role != models.RoleAnalyst {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	if errComplexity := security.ValidatePasswordComplexity(body.Password); errComplexity != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errComplexity.Error()})
		return
	}

	var existing models.UIUser
	errDup := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&existing).Error
	if errDup == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		return
	}
	if !errors.Is(errDup, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	user := models.UIUser{Username: username, HashedPassword: hash, Role: role}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&user).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}
	c.JSON(http.StatusCreated, userResponse(&user))
}

// Update changes a user's role or password. Admins cannot demote
// themselves.
func (h *UserHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var body userUpdateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var user models.UIUser
	errFind := h.db.WithContext(c.Request.Context()).First(&user, id).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	updates := map[string]any{}
	if body.Role != nil {
		role := models.UserRole(*body.Role)
		if role != models.RoleAdmin && role != models.RoleAnalyst {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		if user.Username == c.GetString("actor") && role != models.RoleAdmin {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot change your own role"})
			return
		}
		updates["role"] = role
	}
	if body.Password != nil {
		if errComplexity := security.ValidatePasswordComplexity(*body.Password); errComplexity != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errComplexity.Error()})
			return
		}
		hash, errHash := security.HashPassword(*body.Password)
		if errHash != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
			return
		}
		updates["hashed_password"] = hash
	}

	if len(updates) > 0 {
		if errUpdate := h.db.WithContext(c.Request.Context()).Model(&user).Updates(updates).Error; errUpdate != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update user failed"})
			return
		}
	}
	c.JSON(http.StatusOK, userResponse(&user))
}

// Delete removes a console user. Deleting your own account is rejected.
func (h *UserHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var user models.UIUser
	errFind := h.db.WithContext(c.Request.Context()).First(&user, id).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	if user.Username == c.GetString("actor") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete your own account"})
		return
	}

	if errDelete := h.db.WithContext(c.Request.Context()).Delete(&models.UIUser{}, user.ID).Error; errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete user failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
