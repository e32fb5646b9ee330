package migrate

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/Chloe7243/Errandhub/internal/db"
	"github.com/Chloe7243/Errandhub/internal/logging"
)

func TestUpRecordsAndIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	var buf bytes.Buffer
	logger, err := logging.New(&buf, "info", "text")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	r := NewRunner(conn, logger)
	r.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	applied, err := r.Up(ctx)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if len(applied) == 0 || applied[0].Name != "001_init.sql" {
		t.Fatalf("unexpected applied set %+v", applied)
	}
	if !strings.Contains(buf.String(), "migration applied") || !strings.Contains(buf.String(), "001_init.sql") {
		t.Fatalf("expected applied migration logged, got %q", buf.String())
	}

	again, err := r.Up(ctx)
	if err != nil || len(again) != 0 {
		t.Fatalf("second run should be a no-op, got %+v err=%v", again, err)
	}
	hist, err := r.History(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != len(applied) || hist[0].Version != 1 || !hist[0].AppliedAt.Equal(r.Now()) {
		t.Fatalf("unexpected history %+v", hist)
	}
	v, err := r.Version(ctx)
	if err != nil || v != applied[len(applied)-1].Version {
		t.Fatalf("version %d err=%v", v, err)
	}
}

func TestFailedMigrationKeepsEarlierOnes(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	r := Runner{
		DB:  conn,
		Dir: "sql",
		Source: fstest.MapFS{
			"sql/001_notes.sql":  {Data: []byte(`CREATE TABLE notes(id TEXT PRIMARY KEY);`)},
			"sql/002_broken.sql": {Data: []byte(`CREATE TABLE tags(id TEXT PRIMARY KEY); CREATE TABL oops;`)},
			"sql/README.md":      {Data: []byte("ignored")},
		},
	}
	ctx := context.Background()
	applied, err := r.Up(ctx)
	if err == nil || !strings.Contains(err.Error(), "002_broken.sql") {
		t.Fatalf("expected failure naming the broken file, got %v", err)
	}
	if len(applied) != 1 || applied[0].Version != 1 {
		t.Fatalf("expected only the first migration applied, got %+v", applied)
	}
	if v, _ := r.Version(ctx); v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='tags'`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("broken migration should roll back, tags count=%d err=%v", n, err)
	}
}

func TestLoadRejectsBadNames(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"no version": {"sql/init.sql": {Data: []byte("SELECT 1;")}},
		"duplicate": {
			"sql/001_a.sql": {Data: []byte("SELECT 1;")},
			"sql/001_b.sql": {Data: []byte("SELECT 1;")},
		},
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := (Runner{Source: src, Dir: "sql"}).Load(); err == nil {
				t.Fatalf("expected load error")
			}
		})
	}
}
