package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/db"
	"github.com/nope-sec/nope/internal/models"
	"github.com/nope-sec/nope/internal/security"
)

func setupAuthTest(t *testing.T, password string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:auth_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		t.Fatalf("hash password: %v", errHash)
	}
	user := &models.UIUser{Username: "alice", HashedPassword: hash, Role: models.RoleAnalyst}
	if errCreate := conn.Create(user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return conn
}

func TestAuthenticate_Success(t *testing.T) {
	conn := setupAuthTest(t, "correct horse")

	user, errAuth := Authenticate(context.Background(), conn, "alice", "correct horse")
	if errAuth != nil {
		t.Fatalf("authenticate: %v", errAuth)
	}
	if user == nil || user.Username != "alice" {
		t.Fatalf("user = %+v", user)
	}
}

func TestAuthenticate_InvalidReturnsNilNil(t *testing.T) {
	conn := setupAuthTest(t, "correct horse")

	user, errAuth := Authenticate(context.Background(), conn, "alice", "wrong")
	if errAuth != nil || user != nil {
		t.Fatalf("bad password = (%+v, %v), want (nil, nil)", user, errAuth)
	}

	user, errAuth = Authenticate(context.Background(), conn, "nobody", "whatever")
	if errAuth != nil || user != nil {
		t.Fatalf("unknown user = (%+v, %v), want (nil, nil)", user, errAuth)
	}
}

func TestAuthenticate_LocksAfterFiveFailures(t *testing.T) {
	conn := setupAuthTest(t, "correct horse")

	for i := 0; i < MaxFailedAttempts; i++ {
		if user, errAuth := Authenticate(context.Background(), conn, "alice", "wrong"); user != nil || errAuth != nil {
			t.Fatalf("attempt %d = (%+v, %v)", i+1, user, errAuth)
		}
	}

	// Even the right password is rejected while locked.
	_, errLocked := Authenticate(context.Background(), conn, "alice", "correct horse")
	var locked *LockedError
	if !errors.As(errLocked, &locked) {
		t.Fatalf("expected LockedError, got %v", errLocked)
	}
	remaining := time.Until(locked.LockedUntil)
	if remaining <= 0 || remaining > LockoutDuration {
		t.Fatalf("lockout expiry out of range: %v", remaining)
	}
}

func TestAuthenticate_ExpiredLockoutClears(t *testing.T) {
	conn := setupAuthTest(t, "correct horse")

	past := time.Now().UTC().Add(-time.Minute)
	errUpdate := conn.Model(&models.UIUser{}).Where("username = ?", "alice").
		Updates(map[string]any{"failed_attempts": MaxFailedAttempts, "locked_until": past}).Error
	if errUpdate != nil {
		t.Fatalf("force lockout: %v", errUpdate)
	}

	user, errAuth := Authenticate(context.Background(), conn, "alice", "correct horse")
	if errAuth != nil || user == nil {
		t.Fatalf("expired lockout should clear, got (%+v, %v)", user, errAuth)
	}

	var fresh models.UIUser
	if errFind := conn.Where("username = ?", "alice").First(&fresh).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	if fresh.FailedAttempts != 0 || fresh.LockedUntil != nil {
		t.Fatalf("counters not reset: attempts=%d locked=%v", fresh.FailedAttempts, fresh.LockedUntil)
	}
}

func TestAuthenticate_SuccessResetsCounter(t *testing.T) {
	conn := setupAuthTest(t, "correct horse")

	for i := 0; i < MaxFailedAttempts-1; i++ {
		Authenticate(context.Background(), conn, "alice", "wrong")
	}
	if user, errAuth := Authenticate(context.Background(), conn, "alice", "correct horse"); user == nil || errAuth != nil {
		t.Fatalf("login before lockout = (%+v, %v)", user, errAuth)
	}

	// The counter restarted, so four more failures still do not lock.
	for i := 0; i < MaxFailedAttempts-1; i++ {
		Authenticate(context.Background(), conn, "alice", "wrong")
	}
	if user, errAuth := Authenticate(context.Background(), conn, "alice", "correct horse"); user == nil || errAuth != nil {
		t.Fatalf("login after reset = (%+v, %v)", user, errAuth)
	}
}

func TestChangePassword(t *testing.T) {
	conn := setupAuthTest(t, "correct horse")

	var user models.UIUser
	if errFind := conn.Where("username = ?", "alice").First(&user).Error; errFind != nil {
		t.Fatalf("load user: %v", errFind)
	}

	if errChange := ChangePassword(context.Background(), conn, user.ID, "wrong", "new password"); errChange == nil {
		t.Fatalf("expected rejection with wrong current password")
	}
	if errChange := ChangePassword(context.Background(), conn, user.ID, "correct horse", "short"); !errors.Is(errChange, security.ErrPasswordTooShort) {
		t.Fatalf("expected complexity error, got %v", errChange)
	}
	if errChange := ChangePassword(context.Background(), conn, user.ID, "correct horse", "new password"); errChange != nil {
		t.Fatalf("change password: %v", errChange)
	}
	if got, errAuth := Authenticate(context.Background(), conn, "alice", "new password"); got == nil || errAuth != nil {
		t.Fatalf("login with new password = (%+v, %v)", got, errAuth)
	}
}
