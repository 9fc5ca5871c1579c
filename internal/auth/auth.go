// Package auth authenticates console users with account lockout
// protection and issues their session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nope-sec/nope/internal/models"
	"github.com/nope-sec/nope/internal/security"
	"gorm.io/gorm"
)

// Lockout parameters.
const (
	// MaxFailedAttempts is the failure count that triggers a lockout.
	MaxFailedAttempts = 5
	// LockoutDuration is how long a locked account stays locked.
	LockoutDuration = 15 * time.Minute
)

// LockedError indicates the account is locked until the given time.
type LockedError struct {
	LockedUntil time.Time // When the lockout expires.
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.LockedUntil.UTC().Format(time.RFC3339))
}

// Authenticate verifies credentials with lockout protection. A nil user
// with nil error means invalid credentials. Five consecutive failures
// lock the account for fifteen minutes; a successful login resets the
// counter, and an expired lockout is cleared on the next attempt.
func Authenticate(ctx context.Context, conn *gorm.DB, username, password string) (*models.UIUser, error) {
	var user models.UIUser
	errFind := conn.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, errFind
	}

	now := time.Now().UTC()
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		return nil, &LockedError{LockedUntil: *user.LockedUntil}
	}
	if user.LockedUntil != nil && !user.LockedUntil.After(now) {
		user.LockedUntil = nil
		user.FailedAttempts = 0
	}

	if security.CheckPassword(user.HashedPassword, password) {
		errReset := conn.WithContext(ctx).Model(&user).
			Updates(map[string]any{"failed_attempts": 0, "locked_until": nil}).Error
		if errReset != nil {
			return nil, errReset
		}
		return &user, nil
	}

	user.FailedAttempts++
	updates := map[string]any{"failed_attempts": user.FailedAttempts}
	if user.FailedAttempts >= MaxFailedAttempts {
		lockedUntil := now.Add(LockoutDuration)
		updates["locked_until"] = lockedUntil
	}
	if errUpdate := conn.WithContext(ctx).Model(&user).Updates(updates).Error; errUpdate != nil {
		return nil, errUpdate
	}
	return nil, nil
}

// ChangePassword verifies the current password and stores a bcrypt hash
// of the new one.
func ChangePassword(ctx context.Context, conn *gorm.DB, userID uint64, current, next string) error {
	var user models.UIUser
	if errFind := conn.WithContext(ctx).First(&user, userID).Error; errFind != nil {
		return errFind
	}
	if !security.CheckPassword(user.HashedPassword, current) {
		return errors.New("current password is incorrect")
	}
	if errComplexity := security.ValidatePasswordComplexity(next); errComplexity != nil {
		return errComplexity
	}
	hash, errHash := security.HashPassword(next)
	if errHash != nil {
		return errHash
	}
	return conn.WithContext(ctx).Model(&user).Update("hashed_password", hash).Error
}
