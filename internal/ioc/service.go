package ioc

import (
	"context"
	"errors"
	"strings"

	"github.com/nope-sec/nope/internal/audit"
	"github.com/nope-sec/nope/internal/db"
	"github.com/nope-sec/nope/internal/edl"
	"github.com/nope-sec/nope/internal/models"
	"gorm.io/gorm"
)

// Service is the membership engine: it classifies raw values, enforces
// exclusion rules and list-type policy, and maintains the many-to-many
// membership between indicators and lists with idempotent add/remove
// semantics. All multi-step mutations run in a single transaction; feed
// regeneration happens after commit and never rolls anything back.
type Service struct {
	db    *gorm.DB       // Database handle.
	feeds *edl.Generator // Feed file generator, invoked after commits.
}

// NewService constructs the membership engine.
func NewService(db *gorm.DB, feeds *edl.Generator) *Service {
	return &Service{db: db, feeds: feeds}
}

// AddParams are the inputs for adding one indicator.
type AddParams struct {
	Value     string   // Raw input value.
	ListSlugs []string // Target lists; may be empty for a freestanding IOC.
	Comment   string   // Optional comment text.
	Source    string   // Optional comment source tag.
	AddedBy   string   // Actor identity for audit entries.
}

// Add classifies a raw value, checks exclusions and list-type policy,
// creates or reuses the indicator record, and links it to every target
// list that is not already linked. Re-adding an existing link is a
// silent no-op. Returns the indicator with lists and comments attached.
func (s *Service) Add(ctx context.Context, params AddParams) (*models.IOC, error) {
	normalized, iocType, errClassify := Classify(params.Value)
	if errClassify != nil {
		return nil, errClassify
	}

	exclusions, errLoad := s.loadExclusions(ctx)
	if errLoad != nil {
		return nil, errLoad
	}
	if match := CheckExclusions(normalized, iocType, exclusions); match != nil {
		return nil, &ExcludedError{Match: *match}
	}

	lists, errResolve := s.resolveLists(ctx, params.ListSlugs)
	if errResolve != nil {
		return nil, errResolve
	}
	for i := range lists {
		if !TypeAllowed(iocType, lists[i].ListType) {
			return nil, &ListTypeMismatchError{IOCType: iocType, ListType: lists[i].ListType}
		}
	}

	var record models.IOC
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ioc, errGet := getOrCreateIOC(tx, normalized, iocType, params.AddedBy)
		if errGet != nil {
			return errGet
		}
		record = *ioc

		linked, errLinked := linkedListIDs(tx, ioc.ID)
		if errLinked != nil {
			return errLinked
		}

		for i := range lists {
			if linked[lists[i].ID] {
				continue
			}
			link := models.ListIOC{ListID: lists[i].ID, IOCID: ioc.ID, AddedBy: params.AddedBy}
			if errCreate := tx.Create(&link).Error; errCreate != nil {
				return errCreate
			}
			if errAudit := audit.IOCAddedToList(tx, ioc.ID, lists[i].ID, params.AddedBy); errAudit != nil {
				return errAudit
			}
		}

		if params.Comment != "" {
			comment := models.IOCComment{IOCID: ioc.ID, Comment: params.Comment, Source: params.Source}
			if errCreate := tx.Create(&comment).Error; errCreate != nil {
				return errCreate
			}
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	s.feeds.Regenerate(ctx, params.ListSlugs...)

	return s.GetByID(ctx, record.ID)
}

// GetByID loads one indicator with lists and comments attached. Returns
// gorm.ErrRecordNotFound when it does not exist.
func (s *Service) GetByID(ctx context.Context, id uint64) (*models.IOC, error) {
	var record models.IOC
	errFind := s.db.WithContext(ctx).
		Preload("ListIOCs.List").
		Preload("Comments").
		First(&record, id).Error
	if errFind != nil {
		return nil, errFind
	}
	return &record, nil
}

// GetDetail loads one indicator with lists, comments, and its audit
// history (newest first) attached.
func (s *Service) GetDetail(ctx context.Context, id uint64) (*models.IOC, error) {
	var record models.IOC
	errFind := s.db.WithContext(ctx).
		Preload("ListIOCs.List").
		Preload("Comments").
		Preload("AuditLogs", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("created_at DESC, id DESC")
		}).
		Preload("AuditLogs.List").
		First(&record, id).Error
	if errFind != nil {
		return nil, errFind
	}
	return &record, nil
}

// RemoveFromList removes an indicator from one list. Returns false when
// no such membership exists; that is a no-op, not an error.
func (s *Service) RemoveFromList(ctx context.Context, iocID uint64, listSlug, actor string) (bool, error) {
	var link models.ListIOC
	errFind := s.db.WithContext(ctx).
		Joins("JOIN lists ON lists.id = list_iocs.list_id").
		Where("list_iocs.ioc_id = ? AND lists.slug = ?", iocID, listSlug).
		First(&link).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if errFind != nil {
		return false, errFind
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errAudit := audit.IOCRemovedFromList(tx, iocID, link.ListID, actor); errAudit != nil {
			return errAudit
		}
		return tx.Delete(&models.ListIOC{}, link.ID).Error
	})
	if errTx != nil {
		return false, errTx
	}

	s.feeds.Regenerate(ctx, listSlug)
	return true, nil
}

// Delete removes an indicator entirely, cascading its links, comments,
// and per-IOC audit rows. The deletion itself is recorded in the
// entity-level audit log, which survives the cascade. Returns false
// when the indicator does not exist.
func (s *Service) Delete(ctx context.Context, iocID uint64, actor string) (bool, error) {
	var record models.IOC
	errFind := s.db.WithContext(ctx).Preload("ListIOCs.List").First(&record, iocID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if errFind != nil {
		return false, errFind
	}

	affected := make([]string, 0, len(record.ListIOCs))
	for i := range record.ListIOCs {
		affected = append(affected, record.ListIOCs[i].List.Slug)
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The per-IOC entry is written before the row disappears; it is
		// removed by the cascade below, so the durable record lands in
		// the entity-level log.
		if errAudit := audit.IOCDeleted(tx, record.ID, actor); errAudit != nil {
			return errAudit
		}
		id := record.ID
		if errRecord := audit.Record(tx, models.AuditActionDelete, "ioc", &id, record.Value, nil, actor); errRecord != nil {
			return errRecord
		}
		return deleteIOCCascade(tx, record.ID)
	})
	if errTx != nil {
		return false, errTx
	}

	s.feeds.Regenerate(ctx, affected...)
	return true, nil
}

// Search performs a case-insensitive substring match over normalized
// values, optionally scoped to one list, with lists and comments
// eagerly attached. Pure read path.
func (s *Service) Search(ctx context.Context, query string, limit int, listSlug string) ([]models.IOC, error) {
	if limit <= 0 {
		limit = 50
	}

	pattern := db.NormalizeLikePattern(s.db, "%"+strings.TrimSpace(query)+"%")
	q := s.db.WithContext(ctx).
		Preload("ListIOCs.List").
		Preload("Comments").
		Where(db.CaseInsensitiveLikeExpr(s.db, "iocs.value"), pattern)

	if listSlug != "" {
		q = q.
			Joins("JOIN list_iocs li ON li.ioc_id = iocs.id").
			Joins("JOIN lists ON lists.id = li.list_id").
			Where("lists.slug = ?", listSlug).
			Distinct("iocs.*")
	}

	var results []models.IOC
	if errFind := q.Limit(limit).Order("iocs.value ASC").Find(&results).Error; errFind != nil {
		return nil, errFind
	}
	return results, nil
}

// Recent returns the most recently created indicators with lists and
// comments attached.
func (s *Service) Recent(ctx context.Context, limit int) ([]models.IOC, error) {
	if limit <= 0 {
		limit = 100
	}
	var results []models.IOC
	errFind := s.db.WithContext(ctx).
		Preload("ListIOCs.List").
		Preload("Comments").
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&results).Error
	if errFind != nil {
		return nil, errFind
	}
	return results, nil
}

// ListMembers returns one page of a list's members ordered by value,
// plus the total count. The found flag distinguishes "list not found"
// from "list found but empty".
func (s *Service) ListMembers(ctx context.Context, listSlug string, limit, offset int) ([]models.IOC, int64, bool, error) {
	var list models.List
	errFind := s.db.WithContext(ctx).Where("slug = ?", listSlug).First(&list).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, 0, false, nil
	}
	if errFind != nil {
		return nil, 0, false, errFind
	}

	var total int64
	if errCount := s.db.WithContext(ctx).Model(&models.ListIOC{}).Where("list_id = ?", list.ID).Count(&total).Error; errCount != nil {
		return nil, 0, true, errCount
	}

	if limit <= 0 {
		limit = 100
	}
	var members []models.IOC
	errPage := s.db.WithContext(ctx).
		Joins("JOIN list_iocs ON list_iocs.ioc_id = iocs.id").
		Where("list_iocs.list_id = ?", list.ID).
		Order("iocs.value ASC").
		Offset(offset).
		Limit(limit).
		Find(&members).Error
	if errPage != nil {
		return nil, 0, true, errPage
	}
	return members, total, true, nil
}

// AddComment appends a comment to an existing indicator located by
// normalized value, recording it in the per-IOC audit trail. Returns
// false when no such indicator exists.
func (s *Service) AddComment(ctx context.Context, value, comment, source, actor string) (bool, error) {
	var record models.IOC
	errFind := s.db.WithContext(ctx).Where("value = ?", strings.ToLower(strings.TrimSpace(value))).First(&record).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if errFind != nil {
		return false, errFind
	}
	return true, s.appendComment(ctx, record.ID, comment, source, actor)
}

// AddCommentByID appends a comment to an indicator by id. Returns false
// when no such indicator exists.
func (s *Service) AddCommentByID(ctx context.Context, iocID uint64, comment, source, actor string) (bool, error) {
	var record models.IOC
	errFind := s.db.WithContext(ctx).First(&record, iocID).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if errFind != nil {
		return false, errFind
	}
	return true, s.appendComment(ctx, record.ID, comment, source, actor)
}

func (s *Service) appendComment(ctx context.Context, iocID uint64, comment, source, actor string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.IOCComment{IOCID: iocID, Comment: comment, Source: source}
		if errCreate := tx.Create(&row).Error; errCreate != nil {
			return errCreate
		}
		return audit.IOCCommented(tx, iocID, comment, actor)
	})
}

// loadExclusions loads the full rule set ordered by id, so first-match
// wins deterministically.
func (s *Service) loadExclusions(ctx context.Context) ([]models.Exclusion, error) {
	var exclusions []models.Exclusion
	if errFind := s.db.WithContext(ctx).Order("id ASC").Find(&exclusions).Error; errFind != nil {
		return nil, errFind
	}
	return exclusions, nil
}

// resolveLists loads every requested list and fails atomically, naming
// all missing slugs, before anything is mutated.
func (s *Service) resolveLists(ctx context.Context, slugs []string) ([]models.List, error) {
	if len(slugs) == 0 {
		return nil, nil
	}

	var lists []models.List
	if errFind := s.db.WithContext(ctx).Where("slug IN ?", slugs).Find(&lists).Error; errFind != nil {
		return nil, errFind
	}

	found := make(map[string]bool, len(lists))
	for i := range lists {
		found[lists[i].Slug] = true
	}
	var missing []string
	for _, slug := range slugs {
		if !found[slug] {
			missing = append(missing, slug)
		}
	}
	if len(missing) > 0 {
		return nil, &ListNotFoundError{Missing: missing}
	}
	return lists, nil
}

// getOrCreateIOC looks up an indicator by normalized value, creating it
// if absent. Two concurrent calls may both see "not found" and race on
// the insert; the unique constraint on value is the backstop, and the
// loser falls back to fetching the winner's row.
func getOrCreateIOC(tx *gorm.DB, normalized string, iocType models.IOCType, actor string) (*models.IOC, error) {
	var record models.IOC
	errFind := tx.Where("value = ?", normalized).First(&record).Error
	if errFind == nil {
		return &record, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, errFind
	}

	record = models.IOC{Value: normalized, Type: iocType}
	// Savepoint around the insert so a duplicate-key loss does not
	// poison the surrounding transaction on strict dialects.
	errCreate := tx.Transaction(func(inner *gorm.DB) error {
		return inner.Create(&record).Error
	})
	if errCreate == nil {
		if errAudit := audit.IOCCreated(tx, record.ID, actor); errAudit != nil {
			return nil, errAudit
		}
		id := record.ID
		if errRecord := audit.Record(tx, models.AuditActionCreate, "ioc", &id, record.Value, nil, actor); errRecord != nil {
			return nil, errRecord
		}
		return &record, nil
	}

	if errors.Is(errCreate, gorm.ErrDuplicatedKey) || isUniqueViolation(errCreate) {
		record = models.IOC{}
		if errRefetch := tx.Where("value = ?", normalized).First(&record).Error; errRefetch != nil {
			return nil, errRefetch
		}
		return &record, nil
	}
	return nil, errCreate
}

// isUniqueViolation is the string-match fallback for dialects that do
// not translate duplicate-key errors.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// linkedListIDs returns the set of list ids an indicator is currently
// linked to.
func linkedListIDs(tx *gorm.DB, iocID uint64) (map[uint64]bool, error) {
	var ids []uint64
	if errPluck := tx.Model(&models.ListIOC{}).Where("ioc_id = ?", iocID).Pluck("list_id", &ids).Error; errPluck != nil {
		return nil, errPluck
	}
	linked := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		linked[id] = true
	}
	return linked, nil
}

// deleteIOCCascade removes an indicator and its dependent rows in
// foreign-key order. Explicit child deletes keep behavior identical
// across dialects regardless of FK enforcement.
func deleteIOCCascade(tx *gorm.DB, iocID uint64) error {
	if errDel := tx.Where("ioc_id = ?", iocID).Delete(&models.IOCComment{}).Error; errDel != nil {
		return errDel
	}
	if errDel := tx.Where("ioc_id = ?", iocID).Delete(&models.ListIOC{}).Error; errDel != nil {
		return errDel
	}
	if errDel := tx.Where("ioc_id = ?", iocID).Delete(&models.IOCAuditLog{}).Error; errDel != nil {
		return errDel
	}
	return tx.Delete(&models.IOC{}, iocID).Error
}
