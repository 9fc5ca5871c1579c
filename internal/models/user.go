package models

import "time"

// UserRole distinguishes administrators from read-mostly analysts.
type UserRole string

// UserRole values.
const (
	RoleAdmin   UserRole = "admin"
	RoleAnalyst UserRole = "analyst"
)

// UIUser is an interactive console account with lockout protection.
type UIUser struct {
	ID             uint64     `gorm:"primaryKey;autoIncrement"`                  // Primary key.
	Username       string     `gorm:"size:255;not null;uniqueIndex"`             // Login name.
	HashedPassword string     `gorm:"size:255;not null"`                         // bcrypt hash.
	Role           UserRole   `gorm:"type:varchar(10);not null;default:analyst"` // Access role.
	FailedAttempts int        `gorm:"not null;default:0"`                        // Consecutive login failures.
	LockedUntil    *time.Time ``                                                 // Lockout expiry, nil when unlocked.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// FeedCredential is a basic-auth credential for fetching EDL feed files.
// It is mirrored into the .htpasswd file beside the feeds.
type FeedCredential struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`      // Primary key.
	Username       string `gorm:"size:255;not null;uniqueIndex"` // Basic-auth user.
	HashedPassword string `gorm:"size:255;not null"`             // bcrypt hash.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
