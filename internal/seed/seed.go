// Package seed populates a fresh database with the default admin user,
// the default feed credential, the built-in exclusion rules, and the
// system configuration defaults. Seeding is idempotent: each group is
// only written when nothing of its kind exists yet.
package seed

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/config"
	"github.com/nope-sec/nope/internal/edl"
	"github.com/nope-sec/nope/internal/models"
	"github.com/nope-sec/nope/internal/security"
	"github.com/nope-sec/nope/internal/settings"
)

// DefaultAdminUsername is the username of the seeded console admin.
const DefaultAdminUsername = "admin"

// DefaultFeedUsername is the username of the seeded feed credential.
const DefaultFeedUsername = "edl"

type builtinExclusion struct {
	Value  string
	Type   models.ExclusionType
	Reason string
}

// builtinExclusions are rules every deployment starts with. They block
// obviously wrong entries (bare TLDs, private address space, loopback)
// from reaching any blocklist.
var builtinExclusions = []builtinExclusion{
	{Value: "com", Type: models.ExclusionTypeDomain, Reason: "Top-level domain"},
	{Value: "org", Type: models.ExclusionTypeDomain, Reason: "Top-level domain"},
	{Value: "net", Type: models.ExclusionTypeDomain, Reason: "Top-level domain"},
	{Value: "edu", Type: models.ExclusionTypeDomain, Reason: "Top-level domain"},
	{Value: "gov", Type: models.ExclusionTypeDomain, Reason: "Top-level domain"},
	{Value: "io", Type: models.ExclusionTypeDomain, Reason: "Top-level domain"},
	{Value: "co", Type: models.ExclusionTypeDomain, Reason: "Top-level domain"},
	{Value: "10.0.0.0/8", Type: models.ExclusionTypeCIDR, Reason: "RFC1918 private range"},
	{Value: "172.16.0.0/12", Type: models.ExclusionTypeCIDR, Reason: "RFC1918 private range"},
	{Value: "192.168.0.0/16", Type: models.ExclusionTypeCIDR, Reason: "RFC1918 private range"},
	{Value: "127.0.0.0/8", Type: models.ExclusionTypeCIDR, Reason: "Localhost range"},
	{Value: "localhost", Type: models.ExclusionTypeDomain, Reason: "Localhost"},
}

// Run seeds default data and syncs the feed htpasswd file.
func Run(ctx context.Context, conn *gorm.DB, cfg *config.Config, feeds *edl.Generator) error {
	if err := seedAdminUser(ctx, conn, cfg); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	if err := seedFeedCredential(ctx, conn, cfg); err != nil {
		return fmt.Errorf("seed feed credential: %w", err)
	}
	if err := seedExclusions(ctx, conn); err != nil {
		return fmt.Errorf("seed exclusions: %w", err)
	}
	if err := seedSystemConfig(ctx, conn, cfg); err != nil {
		return fmt.Errorf("seed system config: %w", err)
	}
	if err := feeds.SyncHtpasswd(ctx); err != nil {
		return fmt.Errorf("sync htpasswd: %w", err)
	}
	return nil
}

func seedAdminUser(ctx context.Context, conn *gorm.DB, cfg *config.Config) error {
	var existing models.UIUser
	errFind := conn.WithContext(ctx).Limit(1).First(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return errFind
	}
	hash, errHash := security.HashPassword(cfg.AdminPassword)
	if errHash != nil {
		return errHash
	}
	log.WithField("username", DefaultAdminUsername).Info("seeding default admin user")
	return conn.WithContext(ctx).Create(&models.UIUser{
		Username:       DefaultAdminUsername,
		HashedPassword: hash,
		Role:           models.RoleAdmin,
	}).Error
}

func seedFeedCredential(ctx context.Context, conn *gorm.DB, cfg *config.Config) error {
	var existing models.FeedCredential
	errFind := conn.WithContext(ctx).Limit(1).First(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return errFind
	}
	hash, errHash := security.HashPassword(cfg.FeedPassword)
	if errHash != nil {
		return errHash
	}
	log.WithField("username", DefaultFeedUsername).Info("seeding default feed credential")
	return conn.WithContext(ctx).Create(&models.FeedCredential{
		Username:       DefaultFeedUsername,
		HashedPassword: hash,
	}).Error
}

func seedExclusions(ctx context.Context, conn *gorm.DB) error {
	var existing models.Exclusion
	errFind := conn.WithContext(ctx).Where("is_builtin = ?", true).Limit(1).First(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return errFind
	}
	log.WithField("count", len(builtinExclusions)).Info("seeding built-in exclusions")
	for _, rule := range builtinExclusions {
		errCreate := conn.WithContext(ctx).Create(&models.Exclusion{
			Value:     rule.Value,
			Type:      rule.Type,
			Reason:    rule.Reason,
			IsBuiltin: true,
		}).Error
		if errCreate != nil {
			return errCreate
		}
	}
	return nil
}

func seedSystemConfig(ctx context.Context, conn *gorm.DB, cfg *config.Config) error {
	defaults := map[string]string{
		settings.KeyEDLHost: "localhost",
		settings.KeyEDLPort: strconv.Itoa(cfg.Port),
	}
	for key, value := range defaults {
		var existing models.SystemConfig
		errFind := conn.WithContext(ctx).Where("key = ?", key).First(&existing).Error
		if errFind == nil {
			continue
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return errFind
		}
		errCreate := conn.WithContext(ctx).Create(&models.SystemConfig{Key: key, Value: value}).Error
		if errCreate != nil {
			return errCreate
		}
	}
	return nil
}
