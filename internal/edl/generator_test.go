package edl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/nope-sec/nope/internal/db"
	"github.com/nope-sec/nope/internal/models"
)

func setupGeneratorTest(t *testing.T) (*gorm.DB, *Generator) {
	t.Helper()
	dsn := fmt.Sprintf("file:edl_generator_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn, NewGenerator(conn, t.TempDir())
}

func seedMembers(t *testing.T, conn *gorm.DB, slug string, values ...string) *models.List {
	t.Helper()
	list := &models.List{Name: slug, Slug: slug, ListType: models.ListTypeMixed}
	if errCreate := conn.Create(list).Error; errCreate != nil {
		t.Fatalf("create list: %v", errCreate)
	}
	for _, v := range values {
		record := &models.IOC{Value: v, Type: models.IOCTypeDomain}
		if errCreate := conn.Create(record).Error; errCreate != nil {
			t.Fatalf("create ioc: %v", errCreate)
		}
		link := &models.ListIOC{ListID: list.ID, IOCID: record.ID}
		if errCreate := conn.Create(link).Error; errCreate != nil {
			t.Fatalf("create link: %v", errCreate)
		}
	}
	return list
}

func TestGenerate_SortedOnePerLine(t *testing.T) {
	conn, gen := setupGeneratorTest(t)
	seedMembers(t, conn, "blocklist", "zzz.example.com", "aaa.example.com", "mmm.example.com")

	path, errGen := gen.Generate(context.Background(), "blocklist")
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if path != gen.PathFor("blocklist") {
		t.Fatalf("path = %q, want %q", path, gen.PathFor("blocklist"))
	}

	data, errRead := os.ReadFile(path)
	if errRead != nil {
		t.Fatalf("read feed: %v", errRead)
	}
	want := "aaa.example.com\nmmm.example.com\nzzz.example.com"
	if string(data) != want {
		t.Fatalf("feed = %q, want %q", string(data), want)
	}
}

func TestGenerate_MissingListWritesNothing(t *testing.T) {
	_, gen := setupGeneratorTest(t)

	path, errGen := gen.Generate(context.Background(), "ghost")
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	if path != "" {
		t.Fatalf("path = %q, want empty for missing list", path)
	}
	if _, errStat := os.Stat(gen.PathFor("ghost")); !os.IsNotExist(errStat) {
		t.Fatalf("file should not exist: %v", errStat)
	}
}

func TestGenerate_EmptyListProducesEmptyFile(t *testing.T) {
	conn, gen := setupGeneratorTest(t)
	seedMembers(t, conn, "empty")

	path, errGen := gen.Generate(context.Background(), "empty")
	if errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		t.Fatalf("read feed: %v", errRead)
	}
	if len(data) != 0 {
		t.Fatalf("feed = %q, want empty", string(data))
	}
}

func TestGenerateAll_SweepsEveryList(t *testing.T) {
	conn, gen := setupGeneratorTest(t)
	seedMembers(t, conn, "first", "a.example.com")
	seedMembers(t, conn, "second", "b.example.com")

	paths, errAll := gen.GenerateAll(context.Background())
	if errAll != nil {
		t.Fatalf("generate all: %v", errAll)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v, want 2 entries", paths)
	}
	for _, slug := range []string{"first", "second"} {
		if _, errStat := os.Stat(gen.PathFor(slug)); errStat != nil {
			t.Fatalf("missing feed for %s: %v", slug, errStat)
		}
	}
}

func TestRemove(t *testing.T) {
	conn, gen := setupGeneratorTest(t)
	seedMembers(t, conn, "doomed", "x.example.com")
	if _, errGen := gen.Generate(context.Background(), "doomed"); errGen != nil {
		t.Fatalf("generate: %v", errGen)
	}

	removed, errRemove := gen.Remove("doomed")
	if errRemove != nil || !removed {
		t.Fatalf("remove = (%v, %v), want (true, nil)", removed, errRemove)
	}
	removed, errRemove = gen.Remove("doomed")
	if errRemove != nil || removed {
		t.Fatalf("second remove = (%v, %v), want (false, nil)", removed, errRemove)
	}
}

func TestSyncHtpasswd(t *testing.T) {
	conn, gen := setupGeneratorTest(t)

	creds := []models.FeedCredential{
		{Username: "edl", HashedPassword: "$2a$12$abcdefghijklmnopqrstuv"},
	}
	for i := range creds {
		if errCreate := conn.Create(&creds[i]).Error; errCreate != nil {
			t.Fatalf("create credential: %v", errCreate)
		}
	}

	if errSync := gen.SyncHtpasswd(context.Background()); errSync != nil {
		t.Fatalf("sync htpasswd: %v", errSync)
	}

	path := filepath.Join(gen.OutputDir(), ".htpasswd")
	info, errStat := os.Stat(path)
	if errStat != nil {
		t.Fatalf("stat htpasswd: %v", errStat)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("htpasswd mode = %v, want 0600", info.Mode().Perm())
	}
	data, errRead := os.ReadFile(path)
	if errRead != nil {
		t.Fatalf("read htpasswd: %v", errRead)
	}
	want := "edl:$2a$12$abcdefghijklmnopqrstuv\n"
	if string(data) != want {
		t.Fatalf("htpasswd = %q, want %q", string(data), want)
	}
}
