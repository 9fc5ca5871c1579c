package models

// SystemConfig stores a runtime-editable key/value configuration entry,
// e.g. the host and port advertised in EDL feed URLs.
type SystemConfig struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`      // Primary key.
	Key   string `gorm:"size:255;not null;uniqueIndex"` // Configuration key.
	Value string `gorm:"type:text;not null"`            // Configuration value.
}
