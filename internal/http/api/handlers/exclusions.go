package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/exclusion"
	"github.com/nope-sec/nope/internal/ioc"
	"github.com/nope-sec/nope/internal/models"
)

// ExclusionHandler handles exclusion rule endpoints.
type ExclusionHandler struct {
	db  *gorm.DB
	svc *exclusion.Service
}

// NewExclusionHandler constructs an ExclusionHandler.
func NewExclusionHandler(db *gorm.DB, svc *exclusion.Service) *ExclusionHandler {
	return &ExclusionHandler{db: db, svc: svc}
}

// exclusionCreateRequest defines the request body for adding a rule.
type exclusionCreateRequest struct {
	Value          string `json:"value"`
	Reason         string `json:"reason"`
	PurgeConflicts bool   `json:"purge_conflicts"`
}

// previewRequest defines the request body for a conflict dry run.
type previewRequest struct {
	Value string `json:"value"`
}

func exclusionResponse(rule *models.Exclusion) gin.H {
	return gin.H{
		"id":         rule.ID,
		"value":      rule.Value,
		"type":       rule.Type,
		"reason":     rule.Reason,
		"is_builtin": rule.IsBuiltin,
		"created_at": rule.CreatedAt,
	}
}

// List returns all rules ordered by pattern, builtin and user-defined
// partitioned.
func (h *ExclusionHandler) List(c *gin.Context) {
	builtin, userDefined, errAll := h.svc.All(c.Request.Context())
	if errAll != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list exclusions failed"})
		return
	}

	builtinOut := make([]gin.H, 0, len(builtin))
	for i := range builtin {
		builtinOut = append(builtinOut, exclusionResponse(&builtin[i]))
	}
	userOut := make([]gin.H, 0, len(userDefined))
	for i := range userDefined {
		userOut = append(userOut, exclusionResponse(&userDefined[i]))
	}
	c.JSON(http.StatusOK, gin.H{"builtin": builtinOut, "user_defined": userOut})
}

// Preview reports which existing indicators a candidate rule would
// forbid, without changing anything.
func (h *ExclusionHandler) Preview(c *gin.Context) {
	var body previewRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	exclType, ok := ioc.DetectExclusionType(body.Value)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exclusion pattern"})
		return
	}

	conflicts, errPreview := h.svc.PreviewConflicts(c.Request.Context(), body.Value, exclType)
	if errPreview != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "preview failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"type": exclType, "conflicts": conflicts})
}

// Create adds a user-defined rule, optionally purging the indicators it
// would forbid.
func (h *ExclusionHandler) Create(c *gin.Context) {
	var body exclusionCreateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	result, errAdd := h.svc.Add(c.Request.Context(), body.Value, body.Reason, body.PurgeConflicts, c.GetString("actor"))
	if errAdd != nil {
		var (
			validation *ioc.ValidationError
			duplicate  *exclusion.DuplicateError
		)
		switch {
		case errors.As(errAdd, &validation):
			c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
		case errors.As(errAdd, &duplicate):
			c.JSON(http.StatusConflict, gin.H{"error": duplicate.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create exclusion failed"})
		}
		return
	}

	resp := exclusionResponse(&result.Exclusion)
	resp["purged"] = result.Purged
	c.JSON(http.StatusCreated, resp)
}

// Delete removes a user-defined rule by id. Builtin rules are
// protected.
func (h *ExclusionHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var rule models.Exclusion
	errFind := h.db.WithContext(c.Request.Context()).First(&rule, id).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "exclusion not found"})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	removed, errRemove := h.svc.Remove(c.Request.Context(), rule.Value, c.GetString("actor"))
	var builtin *exclusion.BuiltinError
	if errors.As(errRemove, &builtin) {
		c.JSON(http.StatusBadRequest, gin.H{"error": builtin.Error()})
		return
	}
	if errRemove != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete exclusion failed"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "exclusion not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
