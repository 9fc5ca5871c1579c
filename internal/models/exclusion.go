package models

import "time"

// ExclusionType is the closed set of exclusion rule kinds.
type ExclusionType string

// ExclusionType values.
const (
	ExclusionTypeIP       ExclusionType = "ip"
	ExclusionTypeDomain   ExclusionType = "domain"
	ExclusionTypeCIDR     ExclusionType = "cidr"
	ExclusionTypeWildcard ExclusionType = "wildcard"
)

// String returns the storage form of the type.
func (t ExclusionType) String() string { return string(t) }

// Exclusion is a pattern that forbids matching indicators from being
// accepted into any list. Built-in rows are seeded once and can never be
// edited or removed.
type Exclusion struct {
	ID        uint64        `gorm:"primaryKey;autoIncrement"`      // Primary key.
	Value     string        `gorm:"size:255;not null;uniqueIndex"` // Normalized pattern.
	Type      ExclusionType `gorm:"type:varchar(10);not null"`     // Matching semantics selector.
	Reason    string        `gorm:"type:text"`                     // Human reason, surfaced to callers.
	IsBuiltin bool          `gorm:"not null;default:false"`        // Seeded, protected rule.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
