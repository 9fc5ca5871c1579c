// Package settings reads and writes runtime-editable configuration
// stored in the database, such as the host and port advertised in EDL
// feed URLs.
package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/nope-sec/nope/internal/models"
	"gorm.io/gorm"
)

// Well-known configuration keys.
const (
	// KeyEDLHost is the hostname advertised in feed URLs.
	KeyEDLHost = "edl_host"
	// KeyEDLPort is the port advertised in feed URLs.
	KeyEDLPort = "edl_port"
	// KeyAuditRetentionDays is how long entity audit entries are kept.
	// Zero disables pruning.
	KeyAuditRetentionDays = "audit_retention_days"
)

// Get returns a config value by key, or the default when unset.
func Get(ctx context.Context, conn *gorm.DB, key, fallback string) (string, error) {
	var row models.SystemConfig
	errFind := conn.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fallback, nil
	}
	if errFind != nil {
		return "", errFind
	}
	return row.Value, nil
}

// Set stores a config value, creating or updating as needed.
func Set(ctx context.Context, conn *gorm.DB, key, value string) error {
	var row models.SystemConfig
	errFind := conn.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return conn.WithContext(ctx).Create(&models.SystemConfig{Key: key, Value: value}).Error
	}
	if errFind != nil {
		return errFind
	}
	return conn.WithContext(ctx).Model(&row).Update("value", value).Error
}

// EDLBaseURL builds the externally visible base URL for feed files.
func EDLBaseURL(ctx context.Context, conn *gorm.DB) (string, error) {
	host, errHost := Get(ctx, conn, KeyEDLHost, "localhost")
	if errHost != nil {
		return "", errHost
	}
	port, errPort := Get(ctx, conn, KeyEDLPort, "8081")
	if errPort != nil {
		return "", errPort
	}
	return fmt.Sprintf("https://%s:%s", host, port), nil
}
