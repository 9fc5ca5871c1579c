// Package exclusion administers the rule set that keeps unsafe
// patterns out of every list: user rule add/remove, conflict preview,
// and purge of already-present indicators a new rule would forbid.
package exclusion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nope-sec/nope/internal/audit"
	"github.com/nope-sec/nope/internal/edl"
	"github.com/nope-sec/nope/internal/ioc"
	"github.com/nope-sec/nope/internal/models"
	"gorm.io/gorm"
)

// DuplicateError indicates an exclusion pattern already exists.
type DuplicateError struct {
	Value string // The duplicate pattern.
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("exclusion '%s' already exists", e.Value)
}

// BuiltinError indicates an attempt to remove a protected seed rule.
type BuiltinError struct {
	Value string // The protected pattern.
}

func (e *BuiltinError) Error() string {
	return fmt.Sprintf("cannot remove builtin exclusion: %s", e.Value)
}

// Conflict describes an existing indicator a candidate rule would
// forbid, with the lists currently carrying it.
type Conflict struct {
	Value string         `json:"value"`
	Type  models.IOCType `json:"type"`
	Lists []string       `json:"lists"`
}

// AddResult carries the created rule and whatever the purge removed.
type AddResult struct {
	Exclusion models.Exclusion // The persisted rule.
	Purged    []Conflict       // Indicators deleted by purge_conflicts.
}

// Service administers exclusion rules over the shared store.
type Service struct {
	db    *gorm.DB       // Database handle.
	feeds *edl.Generator // Feed generator for purge regeneration.
}

// NewService constructs the exclusion administration service.
func NewService(db *gorm.DB, feeds *edl.Generator) *Service {
	return &Service{db: db, feeds: feeds}
}

// All returns every rule ordered by pattern, partitioned into builtin
// and user-defined.
func (s *Service) All(ctx context.Context) (builtin, userDefined []models.Exclusion, err error) {
	var rules []models.Exclusion
	if errFind := s.db.WithContext(ctx).Order("value ASC").Find(&rules).Error; errFind != nil {
		return nil, nil, errFind
	}
	for i := range rules {
		if rules[i].IsBuiltin {
			builtin = append(builtin, rules[i])
		} else {
			userDefined = append(userDefined, rules[i])
		}
	}
	return builtin, userDefined, nil
}

// PreviewConflicts is a read-only dry run: it reports every existing
// indicator a candidate rule would match, using exactly the matcher the
// live add path uses.
func (s *Service) PreviewConflicts(ctx context.Context, value string, exclType models.ExclusionType) ([]Conflict, error) {
	candidate := []models.Exclusion{{
		Value: strings.ToLower(strings.TrimSpace(value)),
		Type:  exclType,
	}}

	var all []models.IOC
	if errFind := s.db.WithContext(ctx).Preload("ListIOCs.List").Find(&all).Error; errFind != nil {
		return nil, errFind
	}

	conflicts := []Conflict{}
	for i := range all {
		if ioc.CheckExclusions(all[i].Value, all[i].Type, candidate) == nil {
			continue
		}
		slugs := make([]string, 0, len(all[i].ListIOCs))
		for j := range all[i].ListIOCs {
			slugs = append(slugs, all[i].ListIOCs[j].List.Slug)
		}
		conflicts = append(conflicts, Conflict{Value: all[i].Value, Type: all[i].Type, Lists: slugs})
	}
	return conflicts, nil
}

// Add creates a user exclusion rule. The pattern is typed via
// DetectExclusionType, normalized to lowercase, and rejected when a
// rule with the same value exists. With purgeConflicts, every indicator
// the new rule would forbid is deleted (cascading links) in the same
// transaction as the rule insert, and each affected feed file is
// regenerated exactly once afterwards.
func (s *Service) Add(ctx context.Context, value, reason string, purgeConflicts bool, actor string) (*AddResult, error) {
	trimmed := strings.TrimSpace(value)
	exclType, ok := ioc.DetectExclusionType(trimmed)
	if !ok {
		return nil, &ioc.ValidationError{Message: fmt.Sprintf("invalid exclusion pattern: %s", trimmed)}
	}
	normalized := strings.ToLower(trimmed)

	var existing models.Exclusion
	errDup := s.db.WithContext(ctx).Where("value = ?", normalized).First(&existing).Error
	if errDup == nil {
		return nil, &DuplicateError{Value: trimmed}
	}
	if !errors.Is(errDup, gorm.ErrRecordNotFound) {
		return nil, errDup
	}

	var conflicts []Conflict
	if purgeConflicts {
		var errPreview error
		conflicts, errPreview = s.PreviewConflicts(ctx, normalized, exclType)
		if errPreview != nil {
			return nil, errPreview
		}
	}

	rule := models.Exclusion{
		Value:     normalized,
		Type:      exclType,
		Reason:    reason,
		IsBuiltin: false,
	}

	affected := make(map[string]bool)
	purged := []Conflict{}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&rule).Error; errCreate != nil {
			return errCreate
		}
		id := rule.ID
		if errRecord := audit.Record(tx, models.AuditActionCreate, "exclusion", &id, rule.Value, nil, actor); errRecord != nil {
			return errRecord
		}

		for _, conflict := range conflicts {
			var record models.IOC
			errFind := tx.Preload("ListIOCs.List").Where("value = ?", conflict.Value).First(&record).Error
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				continue
			}
			if errFind != nil {
				return errFind
			}
			for i := range record.ListIOCs {
				affected[record.ListIOCs[i].List.Slug] = true
			}
			recordID := record.ID
			if errRecord := audit.Record(tx, models.AuditActionDelete, "ioc", &recordID, record.Value, map[string]string{"purged_by": rule.Value}, actor); errRecord != nil {
				return errRecord
			}
			if errDel := deleteIOCCascade(tx, record.ID); errDel != nil {
				return errDel
			}
			purged = append(purged, conflict)
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

	return &AddResult{Exclusion: rule, Purged: purged}, nil
}

// Remove deletes a user-defined rule by value. Builtin rules are
// protected. Returns false when no such rule exists.
func (s *Service) Remove(ctx context.Context, value, actor string) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))

	var rule models.Exclusion
	errFind := s.db.WithContext(ctx).Where("value = ?", normalized).First(&rule).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if errFind != nil {
		return false, errFind
	}

	if rule.IsBuiltin {
		return false, &BuiltinError{Value: rule.Value}
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id := rule.ID
		if errRecord := audit.Record(tx, models.AuditActionDelete, "exclusion", &id, rule.Value, nil, actor); errRecord != nil {
			return errRecord
		}
		return tx.Delete(&models.Exclusion{}, rule.ID).Error
	})
	if errTx != nil {
		return false, errTx
	}
	return true, nil
}

// deleteIOCCascade removes an indicator and its dependent rows in
// foreign-key order, mirroring the membership engine's cascade.
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
