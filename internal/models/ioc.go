package models

import "time"

// IOCType is the closed set of indicator kinds.
type IOCType string

// IOCType values. CIDR networks share the IP kind; the "/" in the stored
// value is the only downstream signal that a value is a network.
const (
	IOCTypeIP       IOCType = "ip"
	IOCTypeDomain   IOCType = "domain"
	IOCTypeWildcard IOCType = "wildcard"
	IOCTypeMD5      IOCType = "md5"
	IOCTypeSHA1     IOCType = "sha1"
	IOCTypeSHA256   IOCType = "sha256"
)

// String returns the storage form of the type.
func (t IOCType) String() string { return string(t) }

// IOC is a typed, normalized indicator value. The value is unique across
// the whole store; normalization happens before any lookup or insert.
type IOC struct {
	ID    uint64  `gorm:"primaryKey;autoIncrement"`              // Primary key.
	Value string  `gorm:"size:255;not null;uniqueIndex"`         // Normalized value.
	Type  IOCType `gorm:"type:varchar(16);not null;index"`       // Indicator kind.

	ListIOCs  []ListIOC     `gorm:"foreignKey:IOCID;constraint:OnDelete:CASCADE"` // List memberships.
	Comments  []IOCComment  `gorm:"foreignKey:IOCID;constraint:OnDelete:CASCADE"` // Append-only comments.
	AuditLogs []IOCAuditLog `gorm:"foreignKey:IOCID;constraint:OnDelete:CASCADE"` // Per-IOC history.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ListIOC links one IOC to one list. Exactly one row may exist per
// (list, ioc) pair.
type ListIOC struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`                    // Primary key.
	ListID  uint64 `gorm:"not null;uniqueIndex:uq_list_ioc;index"`      // Owning list.
	IOCID   uint64 `gorm:"not null;uniqueIndex:uq_list_ioc;index"`      // Linked IOC.
	AddedBy string `gorm:"size:255"`                                    // Actor identity.

	List List `gorm:"foreignKey:ListID;constraint:OnDelete:CASCADE"` // List relation.
	IOC  IOC  `gorm:"foreignKey:IOCID;constraint:OnDelete:CASCADE"`  // IOC relation.

	AddedAt time.Time `gorm:"not null;autoCreateTime"` // Link timestamp.
}

// IOCComment is an append-only annotation on an IOC. Comments are never
// edited or deleted individually; they cascade with the IOC.
type IOCComment struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.
	IOCID   uint64 `gorm:"not null;index"`           // Annotated IOC.
	Comment string `gorm:"type:text;not null"`       // Free text.
	Source  string `gorm:"size:255"`                 // Optional source tag.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
