package ioc

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
	"github.com/nope-sec/nope/internal/models"
)

func setupServiceTest(t *testing.T) (*gorm.DB, *Service, *edl.Generator) {
	t.Helper()
	dsn := fmt.Sprintf("file:ioc_service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	feeds := edl.NewGenerator(conn, t.TempDir())
	return conn, NewService(conn, feeds), feeds
}

func createList(t *testing.T, conn *gorm.DB, name string, listType models.ListType) *models.List {
	t.Helper()
	list := &models.List{Name: name, Slug: models.GenerateSlug(name), ListType: listType}
	if errCreate := conn.Create(list).Error; errCreate != nil {
		t.Fatalf("create list: %v", errCreate)
	}
	return list
}

func TestAdd_NormalizesAndLinks(t *testing.T) {
	conn, svc, feeds := setupServiceTest(t)
	list := createList(t, conn, "Malware Domains", models.ListTypeMixed)

	record, errAdd := svc.Add(context.Background(), AddParams{
		Value:     "  EVIL.Example.COM ",
		ListSlugs: []string{list.Slug},
		Comment:   "seen in campaign",
		Source:    "intel",
		AddedBy:   "tester",
	})
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}
	if record.Value != "evil.example.com" {
		t.Fatalf("value = %q, want normalized lowercase", record.Value)
	}
	if record.Type != models.IOCTypeDomain {
		t.Fatalf("type = %q, want domain", record.Type)
	}
	if len(record.ListIOCs) != 1 || record.ListIOCs[0].List.Slug != list.Slug {
		t.Fatalf("expected one membership in %q", list.Slug)
	}
	if len(record.Comments) != 1 || record.Comments[0].Comment != "seen in campaign" {
		t.Fatalf("expected the comment to be attached")
	}

	// Audit trail: created + added_to_list.
	var actions []string
	if errPluck := conn.Model(&models.IOCAuditLog{}).Where("ioc_id = ?", record.ID).Order("id ASC").Pluck("action", &actions).Error; errPluck != nil {
		t.Fatalf("load audit: %v", errPluck)
	}
	if len(actions) != 2 || actions[0] != "created" || actions[1] != "added_to_list" {
		t.Fatalf("audit actions = %v", actions)
	}

	// The feed file reflects the committed membership.
	data, errRead := os.ReadFile(feeds.PathFor(list.Slug))
	if errRead != nil {
		t.Fatalf("read feed: %v", errRead)
	}
	if !strings.Contains(string(data), "evil.example.com") {
		t.Fatalf("feed missing value: %q", string(data))
	}
}

func TestAdd_ReAddIsIdempotent(t *testing.T) {
	conn, svc, _ := setupServiceTest(t)
	list := createList(t, conn, "Blocklist", models.ListTypeMixed)

	first, errFirst := svc.Add(context.Background(), AddParams{Value: "1.2.3.4", ListSlugs: []string{list.Slug}, AddedBy: "a"})
	if errFirst != nil {
		t.Fatalf("first add: %v", errFirst)
	}
	second, errSecond := svc.Add(context.Background(), AddParams{Value: "1.2.3.4", ListSlugs: []string{list.Slug}, AddedBy: "b"})
	if errSecond != nil {
		t.Fatalf("re-add: %v", errSecond)
	}
	if first.ID != second.ID {
		t.Fatalf("re-add created a new record: %d != %d", first.ID, second.ID)
	}

	var links int64
	if errCount := conn.Model(&models.ListIOC{}).Where("ioc_id = ?", first.ID).Count(&links).Error; errCount != nil {
		t.Fatalf("count links: %v", errCount)
	}
	if links != 1 {
		t.Fatalf("links = %d, want 1", links)
	}
}

func TestAdd_MissingListsAllNamed(t *testing.T) {
	conn, svc, _ := setupServiceTest(t)
	createList(t, conn, "Exists", models.ListTypeMixed)

	_, errAdd := svc.Add(context.Background(), AddParams{
		Value:     "1.2.3.4",
		ListSlugs: []string{"exists", "ghost", "phantom"},
	})
	var notFound *ListNotFoundError
	if !errors.As(errAdd, &notFound) {
		t.Fatalf("expected ListNotFoundError, got %v", errAdd)
	}
	if len(notFound.Missing) != 2 {
		t.Fatalf("missing = %v, want both absent slugs", notFound.Missing)
	}

	// Nothing was created.
	var total int64
	if errCount := conn.Model(&models.IOC{}).Count(&total).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if total != 0 {
		t.Fatalf("iocs created on failed add: %d", total)
	}
}

func TestAdd_TypeMismatchCreatesNothing(t *testing.T) {
	conn, svc, _ := setupServiceTest(t)
	list := createList(t, conn, "IP Only", models.ListTypeIP)

	_, errAdd := svc.Add(context.Background(), AddParams{
		Value:     "evil.example.com",
		ListSlugs: []string{list.Slug},
	})
	var mismatch *ListTypeMismatchError
	if !errors.As(errAdd, &mismatch) {
		t.Fatalf("expected ListTypeMismatchError, got %v", errAdd)
	}

	var total int64
	if errCount := conn.Model(&models.IOC{}).Count(&total).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if total != 0 {
		t.Fatalf("iocs created on rejected add: %d", total)
	}
}

func TestAdd_ExclusionBlocks(t *testing.T) {
	conn, svc, _ := setupServiceTest(t)
	list := createList(t, conn, "Blocklist", models.ListTypeMixed)

	rule := models.Exclusion{Value: "10.0.0.0/8", Type: models.ExclusionTypeCIDR, Reason: "RFC1918 private range", IsBuiltin: true}
	if errCreate := conn.Create(&rule).Error; errCreate != nil {
		t.Fatalf("create exclusion: %v", errCreate)
	}

	_, errAdd := svc.Add(context.Background(), AddParams{Value: "10.5.5.5", ListSlugs: []string{list.Slug}})
	var excluded *ExcludedError
	if !errors.As(errAdd, &excluded) {
		t.Fatalf("expected ExcludedError, got %v", errAdd)
	}
	if excluded.Match.Reason != "RFC1918 private range" {
		t.Fatalf("reason = %q", excluded.Match.Reason)
	}
}

func TestRemoveFromList_LeavesOtherMemberships(t *testing.T) {
	conn, svc, feeds := setupServiceTest(t)
	listA := createList(t, conn, "Alpha", models.ListTypeMixed)
	listB := createList(t, conn, "Beta", models.ListTypeMixed)

	record, errAdd := svc.Add(context.Background(), AddParams{
		Value:     "1.2.3.4",
		ListSlugs: []string{listA.Slug, listB.Slug},
		AddedBy:   "tester",
	})
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}

	removed, errRemove := svc.RemoveFromList(context.Background(), record.ID, listA.Slug, "tester")
	if errRemove != nil {
		t.Fatalf("remove: %v", errRemove)
	}
	if !removed {
		t.Fatalf("expected removal")
	}

	detail, errGet := svc.GetByID(context.Background(), record.ID)
	if errGet != nil {
		t.Fatalf("get: %v", errGet)
	}
	if len(detail.ListIOCs) != 1 || detail.ListIOCs[0].List.Slug != listB.Slug {
		t.Fatalf("expected only %q membership left", listB.Slug)
	}

	// Alpha's feed no longer carries the value.
	data, errRead := os.ReadFile(feeds.PathFor(listA.Slug))
	if errRead != nil {
		t.Fatalf("read feed: %v", errRead)
	}
	if strings.Contains(string(data), "1.2.3.4") {
		t.Fatalf("feed still contains removed value")
	}

	// Removing again is a no-op, not an error.
	removed, errRemove = svc.RemoveFromList(context.Background(), record.ID, listA.Slug, "tester")
	if errRemove != nil || removed {
		t.Fatalf("second remove = (%v, %v), want (false, nil)", removed, errRemove)
	}
}

func TestDelete_CascadesAndSurvivesInEntityAudit(t *testing.T) {
	conn, svc, _ := setupServiceTest(t)
	list := createList(t, conn, "Blocklist", models.ListTypeMixed)

	record, errAdd := svc.Add(context.Background(), AddParams{
		Value:     "evil.example.com",
		ListSlugs: []string{list.Slug},
		Comment:   "note",
		AddedBy:   "tester",
	})
	if errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}

	deleted, errDelete := svc.Delete(context.Background(), record.ID, "tester")
	if errDelete != nil || !deleted {
		t.Fatalf("delete = (%v, %v)", deleted, errDelete)
	}

	for _, probe := range []struct {
		name  string
		model any
	}{
		{"iocs", &models.IOC{}},
		{"links", &models.ListIOC{}},
		{"comments", &models.IOCComment{}},
		{"ioc audit", &models.IOCAuditLog{}},
	} {
		var n int64
		if errCount := conn.Model(probe.model).Count(&n).Error; errCount != nil {
			t.Fatalf("count %s: %v", probe.name, errCount)
		}
		if n != 0 {
			t.Fatalf("%s not cascaded: %d rows left", probe.name, n)
		}
	}

	// The entity-level log has no FK and keeps the deletion on record.
	var entries []models.AuditLog
	if errFind := conn.Where("entity_type = ? AND action = ?", "ioc", models.AuditActionDelete).Find(&entries).Error; errFind != nil {
		t.Fatalf("load entity audit: %v", errFind)
	}
	if len(entries) != 1 || entries[0].EntityValue != "evil.example.com" {
		t.Fatalf("entity audit entries = %+v", entries)
	}

	deleted, errDelete = svc.Delete(context.Background(), record.ID, "tester")
	if errDelete != nil || deleted {
		t.Fatalf("second delete = (%v, %v), want (false, nil)", deleted, errDelete)
	}
}

func TestSearch_CaseInsensitiveSubstring(t *testing.T) {
	conn, svc, _ := setupServiceTest(t)
	list := createList(t, conn, "Blocklist", models.ListTypeMixed)

	for _, v := range []string{"evil.example.com", "benign.example.org", "1.2.3.4"} {
		if _, errAdd := svc.Add(context.Background(), AddParams{Value: v, ListSlugs: []string{list.Slug}}); errAdd != nil {
			t.Fatalf("add %q: %v", v, errAdd)
		}
	}

	results, errSearch := svc.Search(context.Background(), "EXAMPLE", 50, "")
	if errSearch != nil {
		t.Fatalf("search: %v", errSearch)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}

	scoped, errScoped := svc.Search(context.Background(), "example", 50, list.Slug)
	if errScoped != nil {
		t.Fatalf("scoped search: %v", errScoped)
	}
	if len(scoped) != 2 {
		t.Fatalf("scoped results = %d, want 2", len(scoped))
	}
}

func TestListMembers_DistinguishesMissingFromEmpty(t *testing.T) {
	conn, svc, _ := setupServiceTest(t)
	list := createList(t, conn, "Empty List", models.ListTypeMixed)

	_, _, found, errMembers := svc.ListMembers(context.Background(), "nosuchlist", 10, 0)
	if errMembers != nil {
		t.Fatalf("members: %v", errMembers)
	}
	if found {
		t.Fatalf("expected found=false for missing list")
	}

	members, total, found, errMembers := svc.ListMembers(context.Background(), list.Slug, 10, 0)
	if errMembers != nil {
		t.Fatalf("members: %v", errMembers)
	}
	if !found || total != 0 || len(members) != 0 {
		t.Fatalf("empty list = (found=%v, total=%d, members=%d)", found, total, len(members))
	}
}

func TestAddComment_ByValue(t *testing.T) {
	conn, svc, _ := setupServiceTest(t)
	list := createList(t, conn, "Blocklist", models.ListTypeMixed)

	if _, errAdd := svc.Add(context.Background(), AddParams{Value: "evil.example.com", ListSlugs: []string{list.Slug}}); errAdd != nil {
		t.Fatalf("add: %v", errAdd)
	}

	found, errComment := svc.AddComment(context.Background(), "EVIL.example.com", "still active", "intel", "tester")
	if errComment != nil || !found {
		t.Fatalf("comment = (%v, %v)", found, errComment)
	}

	found, errComment = svc.AddComment(context.Background(), "unknown.example.com", "x", "", "tester")
	if errComment != nil || found {
		t.Fatalf("comment on missing ioc = (%v, %v), want (false, nil)", found, errComment)
	}
}
