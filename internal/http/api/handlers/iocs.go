package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/audit"
	"github.com/nope-sec/nope/internal/edl"
	"github.com/nope-sec/nope/internal/ioc"
	"github.com/nope-sec/nope/internal/models"
)

// maxBulkValues caps one bulk request. Larger imports should be split
// by the client.
const maxBulkValues = 500

// IOCHandler handles indicator endpoints.
type IOCHandler struct {
	db    *gorm.DB
	svc   *ioc.Service
	feeds *edl.Generator
}

// NewIOCHandler constructs an IOCHandler.
func NewIOCHandler(db *gorm.DB, svc *ioc.Service, feeds *edl.Generator) *IOCHandler {
	return &IOCHandler{db: db, svc: svc, feeds: feeds}
}

// iocCreateRequest defines the request body for adding an indicator.
type iocCreateRequest struct {
	Value     string   `json:"value"`
	ListSlugs []string `json:"list_slugs"`
	Comment   string   `json:"comment"`
	Source    string   `json:"source"`
}

// commentCreateRequest defines the request body for adding a comment.
type commentCreateRequest struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// bulkAddRequest defines the request body for bulk additions.
type bulkAddRequest struct {
	Values   []string `json:"values"`
	ListSlug string   `json:"list_slug"`
	Comment  string   `json:"comment"`
	Source   string   `json:"source"`
}

// bulkRemoveRequest defines the request body for bulk removals.
type bulkRemoveRequest struct {
	Values   []string `json:"values"`
	ListSlug string   `json:"list_slug"`
	AllLists bool     `json:"all_lists"`
}

func iocListRefs(record *models.IOC) []gin.H {
	refs := make([]gin.H, 0, len(record.ListIOCs))
	for i := range record.ListIOCs {
		refs = append(refs, gin.H{
			"slug": record.ListIOCs[i].List.Slug,
			"name": record.ListIOCs[i].List.Name,
		})
	}
	return refs
}

func iocResponse(record *models.IOC) gin.H {
	comments := make([]gin.H, 0, len(record.Comments))
	for i := range record.Comments {
		comments = append(comments, gin.H{
			"id":         record.Comments[i].ID,
			"comment":    record.Comments[i].Comment,
			"source":     record.Comments[i].Source,
			"created_at": record.Comments[i].CreatedAt,
		})
	}
	return gin.H{
		"id":         record.ID,
		"value":      record.Value,
		"ioc_type":   record.Type,
		"lists":      iocListRefs(record),
		"comments":   comments,
		"created_at": record.CreatedAt,
		"updated_at": record.UpdatedAt,
	}
}

// List returns indicators, filtered by the q query when present and
// optionally scoped to one list, newest first otherwise.
func (h *IOCHandler) List(c *gin.Context) {
	query := c.Query("q")
	listSlug := c.Query("list")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	var (
		records []models.IOC
		errFind error
	)
	if query != "" || listSlug != "" {
		records, errFind = h.svc.Search(c.Request.Context(), query, limit, listSlug)
	} else {
		records, errFind = h.svc.Recent(c.Request.Context(), limit)
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	out := make([]gin.H, 0, len(records))
	for i := range records {
		item := gin.H{
			"id":         records[i].ID,
			"value":      records[i].Value,
			"ioc_type":   records[i].Type,
			"lists":      iocListRefs(&records[i]),
			"created_at": records[i].CreatedAt,
		}
		if len(records[i].Comments) > 0 {
			comment := records[i].Comments[0].Comment
			if len(comment) > 100 {
				comment = comment[:100]
			}
			item["comment"] = comment
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, out)
}

// Create adds one indicator to zero or more lists.
func (h *IOCHandler) Create(c *gin.Context) {
	var body iocCreateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	record, errAdd := h.svc.Add(c.Request.Context(), ioc.AddParams{
		Value:     body.Value,
		ListSlugs: body.ListSlugs,
		Comment:   body.Comment,
		Source:    body.Source,
		AddedBy:   c.GetString("actor"),
	})
	if errAdd != nil {
		writeIOCError(c, errAdd)
		return
	}
	c.JSON(http.StatusCreated, iocResponse(record))
}

// Get returns one indicator with its full audit history.
func (h *IOCHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	record, errFind := h.svc.GetDetail(c.Request.Context(), id)
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ioc not found"})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	history := make([]gin.H, 0, len(record.AuditLogs))
	for i := range record.AuditLogs {
		entry := gin.H{
			"id":           record.AuditLogs[i].ID,
			"action":       record.AuditLogs[i].Action,
			"content":      record.AuditLogs[i].Content,
			"performed_by": record.AuditLogs[i].PerformedBy,
			"created_at":   record.AuditLogs[i].CreatedAt,
		}
		if record.AuditLogs[i].List != nil {
			entry["list_slug"] = record.AuditLogs[i].List.Slug
			entry["list_name"] = record.AuditLogs[i].List.Name
		}
		history = append(history, entry)
	}

	resp := iocResponse(record)
	resp["audit_history"] = history
	c.JSON(http.StatusOK, resp)
}

// Delete removes an indicator from every list and deletes the record.
func (h *IOCHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	deleted, errDelete := h.svc.Delete(c.Request.Context(), id, c.GetString("actor"))
	if errDelete != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "ioc not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveFromList removes one membership link, leaving the indicator and
// its other memberships in place.
func (h *IOCHandler) RemoveFromList(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	removed, errRemove := h.svc.RemoveFromList(c.Request.Context(), id, c.Param("slug"), c.GetString("actor"))
	if errRemove != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove failed"})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "ioc not found in list"})
		return
	}
	c.Status(http.StatusNoContent)
}

// AddToList links an existing indicator to one more list. An existing
// link is a conflict here, unlike the idempotent create path, because
// the caller named a specific membership they expect to be new.
func (h *IOCHandler) AddToList(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	slug := c.Param("slug")

	var record models.IOC
	errFind := h.db.WithContext(c.Request.Context()).Preload("ListIOCs").First(&record, id).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ioc not found"})
		return
	}
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	var list models.List
	errList := h.db.WithContext(c.Request.Context()).Where("slug = ?", slug).First(&list).Error
	if errors.Is(errList, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "list not found"})
		return
	}
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	if !ioc.TypeAllowed(record.Type, list.ListType) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": (&ioc.ListTypeMismatchError{IOCType: record.Type, ListType: list.ListType}).Error(),
		})
		return
	}

	for i := range record.ListIOCs {
		if record.ListIOCs[i].ListID == list.ID {
			c.JSON(http.StatusConflict, gin.H{"error": "ioc already in list"})
			return
		}
	}

	actor := c.GetString("actor")
	errTx := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		link := models.ListIOC{ListID: list.ID, IOCID: record.ID, AddedBy: actor}
		if errCreate := tx.Create(&link).Error; errCreate != nil {
			return errCreate
		}
		return audit.IOCAddedToList(tx, record.ID, list.ID, actor)
	})
	if errTx != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add to list failed"})
		return
	}

	h.feeds.Regenerate(c.Request.Context(), slug)
	c.JSON(http.StatusCreated, gin.H{"message": "ioc added to " + slug})
}

// AddComment appends a standalone comment to an indicator.
func (h *IOCHandler) AddComment(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var body commentCreateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Content == "" || len(body.Content) > 1000 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content must be 1-1000 characters"})
		return
	}

	found, errComment := h.svc.AddCommentByID(c.Request.Context(), id, body.Content, body.Source, c.GetString("actor"))
	if errComment != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add comment failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "ioc not found"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "comment added"})
}

// BulkAdd adds up to maxBulkValues raw values to one list in a single
// transaction, reporting added, skipped, and failed values separately.
func (h *IOCHandler) BulkAdd(c *gin.Context) {
	var body bulkAddRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.Values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "values are required"})
		return
	}
	if len(body.Values) > maxBulkValues {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many values, maximum is 500"})
		return
	}
	if body.ListSlug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "list_slug is required"})
		return
	}

	result, errBulk := h.svc.BulkAdd(c.Request.Context(), body.Values, body.ListSlug, body.Comment, body.Source, c.GetString("actor"))
	if errBulk != nil {
		writeIOCError(c, errBulk)
		return
	}
	c.JSON(http.StatusOK, result)
}

// BulkRemove removes up to maxBulkValues values from one list, or
// deletes them entirely when all_lists is set.
func (h *IOCHandler) BulkRemove(c *gin.Context) {
	var body bulkRemoveRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.Values) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "values are required"})
		return
	}
	if len(body.Values) > maxBulkValues {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many values, maximum is 500"})
		return
	}
	if !body.AllLists && body.ListSlug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "list_slug or all_lists is required"})
		return
	}

	result, errBulk := h.svc.BulkRemove(c.Request.Context(), body.Values, body.ListSlug, body.AllLists, c.GetString("actor"))
	if errBulk != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bulk remove failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// writeIOCError maps membership engine errors onto HTTP statuses.
func writeIOCError(c *gin.Context, err error) {
	var (
		validation *ioc.ValidationError
		excluded   *ioc.ExcludedError
		notFound   *ioc.ListNotFoundError
		mismatch   *ioc.ListTypeMismatchError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &excluded):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot add ioc: " + excluded.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &mismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": mismatch.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
	}
}
