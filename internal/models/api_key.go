package models

import "time"

// APIKey is a machine credential for the REST API and automation
// clients. The key name doubles as the actor identity in audit entries.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name string `gorm:"size:100;not null;uniqueIndex"` // Display name, used as actor identity.
	Key  string `gorm:"size:255;not null"`             // Full key string ("nope_" + 64 hex chars).

	Active     bool       `gorm:"not null;default:true"` // Whether the key is enabled.
	LastUsedAt *time.Time // Last successful usage time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
