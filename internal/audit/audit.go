// Package audit writes immutable history entries. Per-IOC entries are
// written in the same transaction as the action they record; the
// entity-level log has no foreign keys and survives deletion of the
// rows it describes.
package audit

import (
	"encoding/json"

	"github.com/nope-sec/nope/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IOCCreated records first creation of an indicator.
func IOCCreated(tx *gorm.DB, iocID uint64, actor string) error {
	return tx.Create(&models.IOCAuditLog{
		IOCID:       iocID,
		Action:      models.IOCAuditCreated,
		PerformedBy: actor,
	}).Error
}

// IOCAddedToList records a new membership link.
func IOCAddedToList(tx *gorm.DB, iocID, listID uint64, actor string) error {
	return tx.Create(&models.IOCAuditLog{
		IOCID:       iocID,
		Action:      models.IOCAuditAddedToList,
		ListID:      &listID,
		PerformedBy: actor,
	}).Error
}

// IOCRemovedFromList records removal of a membership link.
func IOCRemovedFromList(tx *gorm.DB, iocID, listID uint64, actor string) error {
	return tx.Create(&models.IOCAuditLog{
		IOCID:       iocID,
		Action:      models.IOCAuditRemovedFromList,
		ListID:      &listID,
		PerformedBy: actor,
	}).Error
}

// IOCCommented records a freestanding comment.
func IOCCommented(tx *gorm.DB, iocID uint64, content, actor string) error {
	return tx.Create(&models.IOCAuditLog{
		IOCID:       iocID,
		Action:      models.IOCAuditComment,
		Content:     content,
		PerformedBy: actor,
	}).Error
}

// IOCDeleted records deletion. It must run before the IOC row is
// removed since the entry references it.
func IOCDeleted(tx *gorm.DB, iocID uint64, actor string) error {
	return tx.Create(&models.IOCAuditLog{
		IOCID:       iocID,
		Action:      models.IOCAuditDeleted,
		PerformedBy: actor,
	}).Error
}

// Record writes an entity-level audit entry. Details may be nil.
func Record(tx *gorm.DB, action models.AuditAction, entityType string, entityID *uint64, entityValue string, details any, actor string) error {
	entry := models.AuditLog{
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		EntityValue: entityValue,
		PerformedBy: actor,
	}
	if details != nil {
		raw, errMarshal := json.Marshal(details)
		if errMarshal != nil {
			return errMarshal
		}
		entry.Details = datatypes.JSON(raw)
	}
	return tx.Create(&entry).Error
}
