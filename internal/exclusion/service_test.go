package exclusion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/db"
	"github.com/nope-sec/nope/internal/edl"
	"github.com/nope-sec/nope/internal/ioc"
	"github.com/nope-sec/nope/internal/models"
)

func setupExclusionTest(t *testing.T) (*gorm.DB, *Service, *ioc.Service, *edl.Generator) {
	t.Helper()
	dsn := fmt.Sprintf("file:exclusion_service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	feeds := edl.NewGenerator(conn, t.TempDir())
	return conn, NewService(conn, feeds), ioc.NewService(conn, feeds), feeds
}

func TestAdd_DetectsTypeAndRejectsDuplicates(t *testing.T) {
	_, svc, _, _ := setupExclusionTest(t)

	result, errAdd := svc.Add(context.Background(), "10.0.0.0/8", "private", false, "admin")
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}
	if result.Exclusion.Type != models.ExclusionTypeCIDR {
		t.Fatalf("type = %q, want cidr", result.Exclusion.Type)
	}

	_, errDup := svc.Add(context.Background(), "10.0.0.0/8", "again", false, "admin")
	var duplicate *DuplicateError
	if !errors.As(errDup, &duplicate) {
		t.Fatalf("expected DuplicateError, got %v", errDup)
	}

	_, errInvalid := svc.Add(context.Background(), "foo*bar.com", "", false, "admin")
	var validation *ioc.ValidationError
	if !errors.As(errInvalid, &validation) {
		t.Fatalf("expected ValidationError, got %v", errInvalid)
	}
}

func TestPreviewConflicts_MatchesLiveMatcher(t *testing.T) {
	_, svc, iocs, _ := setupExclusionTest(t)
	conn := svc.db
	list := &models.List{Name: "Watch", Slug: "watch", ListType: models.ListTypeMixed}
	if errCreate := conn.Create(list).Error; errCreate != nil {
		t.Fatalf("create list: %v", errCreate)
	}

	for _, v := range []string{"mail.bad.com", "bad.com", "other.example.com"} {
		if _, errAdd := iocs.Add(context.Background(), ioc.AddParams{Value: v, ListSlugs: []string{"watch"}}); errAdd != nil {
			t.Fatalf("add %q: %v", v, errAdd)
		}
	}

	conflicts, errPreview := svc.PreviewConflicts(context.Background(), "*.bad.com", models.ExclusionTypeWildcard)
	if errPreview != nil {
		t.Fatalf("preview: %v", errPreview)
	}
	if len(conflicts) != 1 || conflicts[0].Value != "mail.bad.com" {
		t.Fatalf("conflicts = %+v, want only mail.bad.com", conflicts)
	}
	if len(conflicts[0].Lists) != 1 || conflicts[0].Lists[0] != "watch" {
		t.Fatalf("conflict lists = %v", conflicts[0].Lists)
	}
}

func TestAdd_PurgeRemovesConflictsAndRegeneratesFeeds(t *testing.T) {
	_, svc, iocs, feeds := setupExclusionTest(t)
	conn := svc.db
	list := &models.List{Name: "Watch", Slug: "watch", ListType: models.ListTypeMixed}
	if errCreate := conn.Create(list).Error; errCreate != nil {
		t.Fatalf("create list: %v", errCreate)
	}

	for _, v := range []string{"mail.bad.com", "keep.example.com"} {
		if _, errAdd := iocs.Add(context.Background(), ioc.AddParams{Value: v, ListSlugs: []string{"watch"}}); errAdd != nil {
			t.Fatalf("add %q: %v", v, errAdd)
		}
	}

	result, errAdd := svc.Add(context.Background(), "*.bad.com", "bad actor infra", true, "admin")
	if errAdd != nil {
		t.Fatalf("add with purge: %v", errAdd)
	}
	if len(result.Purged) != 1 || result.Purged[0].Value != "mail.bad.com" {
		t.Fatalf("purged = %+v", result.Purged)
	}

	errGone := conn.Where("value = ?", "mail.bad.com").First(&models.IOC{}).Error
	if !errors.Is(errGone, gorm.ErrRecordNotFound) {
		t.Fatalf("purged ioc still present: %v", errGone)
	}

	data, errRead := os.ReadFile(feeds.PathFor("watch"))
	if errRead != nil {
		t.Fatalf("read feed: %v", errRead)
	}
	feed := string(data)
	if strings.Contains(feed, "mail.bad.com") {
		t.Fatalf("feed still lists purged value: %q", feed)
	}
	if !strings.Contains(feed, "keep.example.com") {
		t.Fatalf("feed lost unrelated value: %q", feed)
	}

	// New additions matching the rule are now rejected.
	_, errBlocked := iocs.Add(context.Background(), ioc.AddParams{Value: "new.bad.com", ListSlugs: []string{"watch"}})
	var excluded *ioc.ExcludedError
	if !errors.As(errBlocked, &excluded) {
		t.Fatalf("expected ExcludedError, got %v", errBlocked)
	}
}

func TestRemove_ProtectsBuiltins(t *testing.T) {
	_, svc, _, _ := setupExclusionTest(t)
	conn := svc.db

	builtin := models.Exclusion{Value: "com", Type: models.ExclusionTypeDomain, IsBuiltin: true}
	if errCreate := conn.Create(&builtin).Error; errCreate != nil {
		t.Fatalf("create builtin: %v", errCreate)
	}

	_, errRemove := svc.Remove(context.Background(), "com", "admin")
	var protected *BuiltinError
	if !errors.As(errRemove, &protected) {
		t.Fatalf("expected BuiltinError, got %v", errRemove)
	}

	removed, errMissing := svc.Remove(context.Background(), "never.seen.com", "admin")
	if errMissing != nil || removed {
		t.Fatalf("remove missing = (%v, %v), want (false, nil)", removed, errMissing)
	}
}

func TestAll_PartitionsBuiltinFromUser(t *testing.T) {
	_, svc, _, _ := setupExclusionTest(t)
	conn := svc.db

	rows := []models.Exclusion{
		{Value: "com", Type: models.ExclusionTypeDomain, IsBuiltin: true},
		{Value: "*.corp.example.com", Type: models.ExclusionTypeWildcard},
	}
	for i := range rows {
		if errCreate := conn.Create(&rows[i]).Error; errCreate != nil {
			t.Fatalf("create: %v", errCreate)
		}
	}

	builtin, userDefined, errAll := svc.All(context.Background())
	if errAll != nil {
		t.Fatalf("all: %v", errAll)
	}
	if len(builtin) != 1 || len(userDefined) != 1 {
		t.Fatalf("partition = (%d, %d)", len(builtin), len(userDefined))
	}
}
