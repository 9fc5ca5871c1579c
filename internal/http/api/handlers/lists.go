package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/audit"
	"github.com/nope-sec/nope/internal/edl"
	"github.com/nope-sec/nope/internal/ioc"
	"github.com/nope-sec/nope/internal/models"
)

// ListHandler handles blocklist CRUD endpoints.
type ListHandler struct {
	db    *gorm.DB
	feeds *edl.Generator
	iocs  *ioc.Service
}

// NewListHandler constructs a ListHandler.
func NewListHandler(db *gorm.DB, feeds *edl.Generator, iocs *ioc.Service) *ListHandler {
	return &ListHandler{db: db, feeds: feeds, iocs: iocs}
}

// listCreateRequest defines the request body for creating a list.
type listCreateRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Tags        datatypes.JSON `json:"tags"`
	ListType    string         `json:"list_type"`
}

// listUpdateRequest defines the request body for updating a list. The
// slug never changes once assigned, so renames do not break feed URLs.
type listUpdateRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Tags        *datatypes.JSON `json:"tags"`
	ListType    *string         `json:"list_type"`
}

func listResponse(list *models.List, iocCount int64) gin.H {
	return gin.H{
		"id":          list.ID,
		"name":        list.Name,
		"slug":        list.Slug,
		"description": list.Description,
		"tags":        list.Tags,
		"list_type":   list.ListType,
		"ioc_count":   iocCount,
		"created_at":  list.CreatedAt,
		"updated_at":  list.UpdatedAt,
	}
}

// List returns all lists with their member counts, ordered by name.
func (h *ListHandler) List(c *gin.Context) {
	var lists []models.List
	errFind := h.db.WithContext(c.Request.Context()).Order("name ASC").Find(&lists).Error
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list lists failed"})
		return
	}

	type countRow struct {
		ListID uint64
		N      int64
	}
	var counts []countRow
	errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.ListIOC{}).
		Select("list_id, COUNT(*) AS n").
		Group("list_id").
		Scan(&counts).Error
	if errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count members failed"})
		return
	}
	byList := make(map[uint64]int64, len(counts))
	for _, row := range counts {
		byList[row.ListID] = row.N
	}

	out := make([]gin.H, 0, len(lists))
	for i := range lists {
		out = append(out, listResponse(&lists[i], byList[lists[i].ID]))
	}
	c.JSON(http.StatusOK, out)
}

// Create creates a new list. The slug is derived from the name once and
// is permanent; a name whose slug collides with an existing list is a
// conflict.
func (h *ListHandler) Create(c *gin.Context) {
	var body listCreateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	listType := models.ListType(body.ListType)
	if !listType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid list_type"})
		return
	}
	slug := models.GenerateSlug(name)
	if !models.ValidSlug(slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must contain at least one alphanumeric character"})
		return
	}

	var existing models.List
	errDup := h.db.WithContext(c.Request.Context()).Where("slug = ?", slug).First(&existing).Error
	if errDup == nil {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("list with slug '%s' already exists", slug)})
		return
	}
	if !errors.Is(errDup, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	list := models.List{
		Name:        name,
		Slug:        slug,
		Description: body.Description,
		Tags:        body.Tags,
		ListType:    listType,
	}
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&list).Error; errCreate != nil {
			return errCreate
		}
		id := list.ID
		return audit.Record(tx, models.AuditActionCreate, "list", &id, list.Slug, nil, c.GetString("actor"))
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create list failed"})
		return
	}

	// An empty feed file exists from the moment the list does.
	h.feeds.Regenerate(c.Request.Context(), list.Slug)

	c.JSON(http.StatusCreated, listResponse(&list, 0))
}

// Get returns one list by slug with its member count.
func (h *ListHandler) Get(c *gin.Context) {
	list, count, ok := h.loadWithCount(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, listResponse(list, count))
}

// Update modifies a list's name, description, tags, or type. Changing
// the type is rejected while the list holds members the new type would
// not accept. The slug is immutable.
func (h *ListHandler) Update(c *gin.Context) {
	var body listUpdateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	list, count, ok := h.loadWithCount(c)
	if !ok {
		return
	}

	updates := map[string]any{}
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
			return
		}
		updates["name"] = name
	}
	if body.Description != nil {
		updates["description"] = *body.Description
	}
	if body.Tags != nil {
		updates["tags"] = *body.Tags
	}
	if body.ListType != nil && models.ListType(*body.ListType) != list.ListType {
		newType := models.ListType(*body.ListType)
		if !newType.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid list_type"})
			return
		}
		invalid, iocType, errCheck := h.incompatibleMembers(c, list.ID, newType)
		if errCheck != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "validate members failed"})
			return
		}
		if invalid > 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("cannot change to '%s' type: list contains %d %s IOCs", newType, invalid, iocType),
			})
			return
		}
		updates["list_type"] = newType
	}

	if len(updates) > 0 {
		errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
			if errUpdate := tx.Model(list).Updates(updates).Error; errUpdate != nil {
				return errUpdate
			}
			id := list.ID
			return audit.Record(tx, models.AuditActionUpdate, "list", &id, list.Slug, updates, c.GetString("actor"))
		})
		if errTx != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update list failed"})
			return
		}
	}
	c.JSON(http.StatusOK, listResponse(list, count))
}

// Delete removes a list, its memberships, and its feed file. The IOC
// records themselves survive; only the links go.
func (h *ListHandler) Delete(c *gin.Context) {
	slug := c.Param("slug")

	var list models.List
	errFind := h.db.WithContext(c.Request.Context()).Where("slug = ?", slug).First(&list).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "list not found"})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errDel := tx.Where("list_id = ?", list.ID).Delete(&models.ListIOC{}).Error; errDel != nil {
			return errDel
		}
		id := list.ID
		if errRecord := audit.Record(tx, models.AuditActionDelete, "list", &id, list.Slug, nil, c.GetString("actor")); errRecord != nil {
			return errRecord
		}
		return tx.Delete(&models.List{}, list.ID).Error
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete list failed"})
		return
	}

	if _, errRemove := h.feeds.Remove(list.Slug); errRemove != nil {
		log.WithError(errRemove).WithField("list", list.Slug).Warn("feed file removal failed")
	}
	c.Status(http.StatusNoContent)
}

// Members returns one page of a list's IOCs ordered by value.
func (h *ListHandler) Members(c *gin.Context) {
	slug := c.Param("slug")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	members, total, found, errMembers := h.iocs.ListMembers(c.Request.Context(), slug, limit, offset)
	if errMembers != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load members failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "list not found"})
		return
	}

	items := make([]gin.H, 0, len(members))
	for i := range members {
		items = append(items, gin.H{
			"id":         members[i].ID,
			"value":      members[i].Value,
			"ioc_type":   members[i].Type,
			"created_at": members[i].CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "items": items})
}

func (h *ListHandler) loadWithCount(c *gin.Context) (*models.List, int64, bool) {
	slug := c.Param("slug")

	var list models.List
	errFind := h.db.WithContext(c.Request.Context()).Where("slug = ?", slug).First(&list).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "list not found"})
		return nil, 0, false
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return nil, 0, false
	}

	var count int64
	errCount := h.db.WithContext(c.Request.Context()).
		Model(&models.ListIOC{}).Where("list_id = ?", list.ID).Count(&count).Error
	if errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count members failed"})
		return nil, 0, false
	}
	return &list, count, true
}

// incompatibleMembers counts current members a new list type would
// reject, returning the most common offending kind for the error text.
func (h *ListHandler) incompatibleMembers(c *gin.Context, listID uint64, newType models.ListType) (int, models.IOCType, error) {
	var members []models.IOC
	errFind := h.db.WithContext(c.Request.Context()).
		Joins("JOIN list_iocs ON list_iocs.ioc_id = iocs.id").
		Where("list_iocs.list_id = ?", listID).
		Find(&members).Error
	if errFind != nil {
		return 0, "", errFind
	}

	counts := make(map[models.IOCType]int)
	for i := range members {
		if !ioc.TypeAllowed(members[i].Type, newType) {
			counts[members[i].Type]++
		}
	}
	var worst models.IOCType
	for kind, n := range counts {
		if worst == "" || n > counts[worst] {
			worst = kind
		}
	}
	return counts[worst], worst, nil
}
