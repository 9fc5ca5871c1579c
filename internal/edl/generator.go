// Package edl renders list membership into the flat feed files that
// firewalls poll. Files are regenerated in full after every relevant
// mutation; the database stays authoritative and a full sweep is the
// recovery path when a write fails.
package edl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nope-sec/nope/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Generator writes EDL feed files for lists into a single output
// directory, one file per list slug, no extension.
type Generator struct {
	db        *gorm.DB // Database handle.
	outputDir string   // Feed output directory.
}

// NewGenerator constructs a feed file generator.
func NewGenerator(db *gorm.DB, outputDir string) *Generator {
	return &Generator{db: db, outputDir: outputDir}
}

// OutputDir returns the configured feed directory.
func (g *Generator) OutputDir() string { return g.outputDir }

// PathFor returns the feed file path for a list slug.
func (g *Generator) PathFor(slug string) string {
	return filepath.Join(g.outputDir, slug)
}

// Generate rewrites the feed file for one list: one indicator value per
// line, sorted lexicographically. Returns the written path, or "" when
// the list does not exist.
func (g *Generator) Generate(ctx context.Context, slug string) (string, error) {
	var list models.List
	errFind := g.db.WithContext(ctx).Where("slug = ?", slug).First(&list).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if errFind != nil {
		return "", fmt.Errorf("edl: load list %s: %w", slug, errFind)
	}

	var values []string
	errPluck := g.db.WithContext(ctx).
		Model(&models.ListIOC{}).
		Joins("JOIN iocs ON iocs.id = list_iocs.ioc_id").
		Where("list_iocs.list_id = ?", list.ID).
		Pluck("iocs.value", &values).Error
	if errPluck != nil {
		return "", fmt.Errorf("edl: load members of %s: %w", slug, errPluck)
	}
	sort.Strings(values)

	if errDir := os.MkdirAll(g.outputDir, 0o755); errDir != nil {
		return "", fmt.Errorf("edl: create output dir: %w", errDir)
	}

	path := g.PathFor(slug)
	if errWrite := os.WriteFile(path, []byte(strings.Join(values, "\n")), 0o644); errWrite != nil {
		return "", fmt.Errorf("edl: write %s: %w", path, errWrite)
	}
	return path, nil
}

// Regenerate is the best-effort variant invoked after a committed
// mutation. A failed file write never rolls back the database change;
// it is logged and left for the next full sweep.
func (g *Generator) Regenerate(ctx context.Context, slugs ...string) {
	for _, slug := range slugs {
		if _, errGen := g.Generate(ctx, slug); errGen != nil {
			log.WithError(errGen).WithField("list", slug).Warn("edl regeneration failed")
		}
	}
}

// GenerateAll rewrites every list's feed file. Used at startup and as
// the idempotent manual/scheduled recovery sweep.
func (g *Generator) GenerateAll(ctx context.Context) ([]string, error) {
	var slugs []string
	if errPluck := g.db.WithContext(ctx).Model(&models.List{}).Pluck("slug", &slugs).Error; errPluck != nil {
		return nil, fmt.Errorf("edl: load list slugs: %w", errPluck)
	}

	paths := make([]string, 0, len(slugs))
	for _, slug := range slugs {
		path, errGen := g.Generate(ctx, slug)
		if errGen != nil {
			return paths, errGen
		}
		if path != "" {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// Remove deletes the feed file for a list. Returns true if a file
// existed.
func (g *Generator) Remove(slug string) (bool, error) {
	path := g.PathFor(slug)
	errRemove := os.Remove(path)
	if errRemove == nil {
		return true, nil
	}
	if os.IsNotExist(errRemove) {
		return false, nil
	}
	return false, fmt.Errorf("edl: remove %s: %w", path, errRemove)
}

// SyncHtpasswd mirrors feed credentials into a .htpasswd file beside
// the feeds for fronting proxies. bcrypt hashes are htpasswd compatible.
func (g *Generator) SyncHtpasswd(ctx context.Context) error {
	var creds []models.FeedCredential
	if errFind := g.db.WithContext(ctx).Order("username ASC").Find(&creds).Error; errFind != nil {
		return fmt.Errorf("edl: load feed credentials: %w", errFind)
	}

	if errDir := os.MkdirAll(g.outputDir, 0o755); errDir != nil {
		return fmt.Errorf("edl: create output dir: %w", errDir)
	}

	var b strings.Builder
	for _, cred := range creds {
		b.WriteString(cred.Username)
		b.WriteString(":")
		b.WriteString(cred.HashedPassword)
		b.WriteString("\n")
	}

	path := filepath.Join(g.outputDir, ".htpasswd")
	if errWrite := os.WriteFile(path, []byte(b.String()), 0o600); errWrite != nil {
		return fmt.Errorf("edl: write htpasswd: %w", errWrite)
	}
	return nil
}
