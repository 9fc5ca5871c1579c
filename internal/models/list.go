package models

import (
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// ListType restricts which indicator kinds a list may contain.
type ListType string

// ListType values.
const (
	ListTypeIP     ListType = "ip"
	ListTypeDomain ListType = "domain"
	ListTypeHash   ListType = "hash"
	ListTypeMixed  ListType = "mixed"
)

// String returns the storage form of the type.
func (t ListType) String() string { return string(t) }

// Valid reports whether t is one of the known list types.
func (t ListType) Valid() bool {
	switch t {
	case ListTypeIP, ListTypeDomain, ListTypeHash, ListTypeMixed:
		return true
	}
	return false
}

// slugStripRe removes everything that is not lowercase alphanumeric.
var slugStripRe = regexp.MustCompile(`[^a-z0-9]`)

// slugValidRe validates an already-generated slug.
var slugValidRe = regexp.MustCompile(`^[a-z0-9]+$`)

// GenerateSlug derives the URL-safe slug from a display name. Slugs are
// assigned once at creation and never regenerated on rename.
func GenerateSlug(name string) string {
	return slugStripRe.ReplaceAllString(strings.ToLower(name), "")
}

// ValidSlug reports whether s is a well-formed list slug.
func ValidSlug(s string) bool { return slugValidRe.MatchString(s) }

// List is a named collection of IOCs published as one EDL feed file.
type List struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`        // Primary key.
	Name        string         `gorm:"size:255;not null"`               // Display name.
	Slug        string         `gorm:"size:255;not null;uniqueIndex"`   // Immutable feed identifier.
	Description string         `gorm:"type:text"`                       // Optional description.
	ListType    ListType       `gorm:"type:varchar(10);not null"`       // Member kind restriction.
	Tags        datatypes.JSON `gorm:"type:json"`                       // Optional tag set, JSON array of strings.

	ListIOCs []ListIOC `gorm:"foreignKey:ListID;constraint:OnDelete:CASCADE"` // Memberships.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
