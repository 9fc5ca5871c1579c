package ioc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nope-sec/nope/internal/audit"
	"github.com/nope-sec/nope/internal/models"
	"gorm.io/gorm"
)

// BulkFailure pairs a rejected input value with the reason it failed.
type BulkFailure struct {
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// BulkAddResult partitions a batch into newly linked values, values
// already on the list (skipped, not failures), and rejects.
type BulkAddResult struct {
	Added   []string      `json:"added"`
	Skipped []string      `json:"skipped"`
	Failed  []BulkFailure `json:"failed"`
}

// BulkRemoveResult partitions a removal batch.
type BulkRemoveResult struct {
	Removed  []string `json:"removed"`
	NotFound []string `json:"not_found"`
}

// BulkAdd adds many raw values to one list. The list is resolved and
// the exclusion set loaded once; each value is then classified, policy-
// and exclusion-checked, and linked independently, so one value's
// failure never aborts the batch. The feed file is regenerated exactly
// once at the end. Batch size ceilings are the caller's concern.
func (s *Service) BulkAdd(ctx context.Context, values []string, listSlug, comment, source, addedBy string) (*BulkAddResult, error) {
	var list models.List
	errFind := s.db.WithContext(ctx).Where("slug = ?", listSlug).First(&list).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, &ListNotFoundError{Missing: []string{listSlug}}
	}
	if errFind != nil {
		return nil, errFind
	}

	exclusions, errLoad := s.loadExclusions(ctx)
	if errLoad != nil {
		return nil, errLoad
	}

	result := &BulkAddResult{Added: []string{}, Skipped: []string{}, Failed: []BulkFailure{}}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, raw := range values {
			normalized, iocType, errClassify := Classify(raw)
			if errClassify != nil {
				result.Failed = append(result.Failed, BulkFailure{Value: raw, Reason: errClassify.Error()})
				continue
			}

			if !TypeAllowed(iocType, list.ListType) {
				result.Failed = append(result.Failed, BulkFailure{
					Value:  raw,
					Reason: fmt.Sprintf("type %s not allowed on %s list", iocType, list.ListType),
				})
				continue
			}

			if match := CheckExclusions(normalized, iocType, exclusions); match != nil {
				reason := match.Reason
				if reason == "" {
					reason = "excluded"
				}
				result.Failed = append(result.Failed, BulkFailure{Value: raw, Reason: reason})
				continue
			}

			ioc, errGet := getOrCreateIOC(tx, normalized, iocType, addedBy)
			if errGet != nil {
				return errGet
			}

			linked, errLinked := linkedListIDs(tx, ioc.ID)
			if errLinked != nil {
				return errLinked
			}
			if linked[list.ID] {
				result.Skipped = append(result.Skipped, normalized)
				continue
			}

			link := models.ListIOC{ListID: list.ID, IOCID: ioc.ID, AddedBy: addedBy}
			if errCreate := tx.Create(&link).Error; errCreate != nil {
				return errCreate
			}
			if errAudit := audit.IOCAddedToList(tx, ioc.ID, list.ID, addedBy); errAudit != nil {
				return errAudit
			}

			if comment != "" {
				row := models.IOCComment{IOCID: ioc.ID, Comment: comment, Source: source}
				if errCreate := tx.Create(&row).Error; errCreate != nil {
					return errCreate
				}
			}

			result.Added = append(result.Added, normalized)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	s.feeds.Regenerate(ctx, listSlug)
	return result, nil
}

// BulkRemove removes many values from one list, or deletes them from
// every list when allLists is set. Affected feed files are collected
// across the batch and regenerated exactly once each at the end.
func (s *Service) BulkRemove(ctx context.Context, values []string, listSlug string, allLists bool, actor string) (*BulkRemoveResult, error) {
	result := &BulkRemoveResult{Removed: []string{}, NotFound: []string{}}
	affected := make(map[string]bool)

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, raw := range values {
			normalized := strings.ToLower(strings.TrimSpace(raw))

			var record models.IOC
			errFind := tx.Preload("ListIOCs.List").Where("value = ?", normalized).First(&record).Error
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				result.NotFound = append(result.NotFound, raw)
				continue
			}
			if errFind != nil {
				return errFind
			}

			if allLists {
				for i := range record.ListIOCs {
					affected[record.ListIOCs[i].List.Slug] = true
				}
				if errAudit := audit.IOCDeleted(tx, record.ID, actor); errAudit != nil {
					return errAudit
				}
				id := record.ID
				if errRecord := audit.Record(tx, models.AuditActionDelete, "ioc", &id, record.Value, nil, actor); errRecord != nil {
					return errRecord
				}
				if errDel := deleteIOCCascade(tx, record.ID); errDel != nil {
					return errDel
				}
				result.Removed = append(result.Removed, raw)
				continue
			}

			removed := false
			for i := range record.ListIOCs {
				if record.ListIOCs[i].List.Slug != listSlug {
					continue
				}
				if errAudit := audit.IOCRemovedFromList(tx, record.ID, record.ListIOCs[i].ListID, actor); errAudit != nil {
					return errAudit
				}
				if errDel := tx.Delete(&models.ListIOC{}, record.ListIOCs[i].ID).Error; errDel != nil {
					return errDel
				}
				affected[listSlug] = true
				result.Removed = append(result.Removed, raw)
				removed = true
				break
			}
			if !removed {
				result.NotFound = append(result.NotFound, raw)
			}
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}

	slugs := make([]string, 0, len(affected))
	for slug := range affected {
		slugs = append(slugs, slug)
	}
	s.feeds.Regenerate(ctx, slugs...)
	return result, nil
}
