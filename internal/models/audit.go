package models

import (
	"time"

	"gorm.io/datatypes"
)

// IOCAuditAction enumerates state-changing actions recorded per IOC.
type IOCAuditAction string

// IOCAuditAction values.
const (
	IOCAuditCreated         IOCAuditAction = "created"
	IOCAuditAddedToList     IOCAuditAction = "added_to_list"
	IOCAuditRemovedFromList IOCAuditAction = "removed_from_list"
	IOCAuditComment         IOCAuditAction = "comment"
	IOCAuditDeleted         IOCAuditAction = "deleted"
)

// String returns the storage form of the action.
func (a IOCAuditAction) String() string { return string(a) }

// IOCAuditLog is an immutable history entry for one IOC. Rows cascade
// with their IOC; the terminal "deleted" action therefore also lands in
// the entity-level AuditLog, which has no foreign key and survives.
type IOCAuditLog struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`  // Primary key.
	IOCID       uint64         `gorm:"not null;index"`            // Subject IOC.
	Action      IOCAuditAction `gorm:"type:varchar(50);not null"` // What happened.
	ListID      *uint64        `gorm:"index"`                     // Optional list reference.
	Content     string         `gorm:"type:text"`                 // Optional free text.
	PerformedBy string         `gorm:"size:255"`                  // Actor identity.

	List *List `gorm:"foreignKey:ListID;constraint:OnDelete:SET NULL"` // List relation.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // When it happened.
}

// AuditAction enumerates entity-level audit actions.
type AuditAction string

// AuditAction values.
const (
	AuditActionCreate AuditAction = "create"
	AuditActionUpdate AuditAction = "update"
	AuditActionDelete AuditAction = "delete"
)

// String returns the storage form of the action.
func (a AuditAction) String() string { return string(a) }

// AuditLog records create/update/delete actions on any entity by value,
// without foreign keys, so history outlives the rows it describes.
type AuditLog struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`  // Primary key.
	Action      AuditAction    `gorm:"type:varchar(10);not null"` // What happened.
	EntityType  string         `gorm:"size:50;not null"`          // "ioc", "list", "exclusion", ...
	EntityID    *uint64        ``                                 // Row id at the time of the action.
	EntityValue string         `gorm:"size:255"`                  // Human-readable identifier.
	Details     datatypes.JSON `gorm:"type:json"`                 // Optional structured payload.
	PerformedBy string         `gorm:"size:255"`                  // Actor identity.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // When it happened.
}
