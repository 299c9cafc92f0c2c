package migrate

import (
	"strings"
	"testing"
	"testing/fstest"

	"taskboard/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	if v, err := Version(conn); err != nil || v != 0 {
		t.Fatalf("fresh db version = %d, %v", v, err)
	}
	pending, err := Pending(conn)
	if err != nil || len(pending) == 0 {
		t.Fatalf("expected pending migrations, got %d, %v", len(pending), err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	want := pending[len(pending)-1].Version
	if v, err := Version(conn); err != nil || v != want {
		t.Fatalf("version = %d, %v; want %d", v, err, want)
	}
	if pending, err := Pending(conn); err != nil || len(pending) != 0 {
		t.Fatalf("still pending after migrate: %d, %v", len(pending), err)
	}
	for _, table := range []string{"workspaces", "members", "projects", "tasks", "events"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil || n != 1 {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestParseMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_tasks.sql": {Data: []byte("CREATE TABLE b(x);")},
		"m/0001_init.sql":  {Data: []byte("CREATE TABLE a(x);")},
		"m/README.md":      {Data: []byte("ignored")},
	}
	got, err := parseMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[0].Version != 1 || got[1].Version != 2 || got[1].Name != "0002_tasks.sql" {
		t.Fatalf("unexpected migrations: %+v", got)
	}
	if rest := newerThan(got, 1); len(rest) != 1 || rest[0].Version != 2 {
		t.Fatalf("newerThan(1) = %+v", rest)
	}

	cases := []struct {
		files fstest.MapFS
		want  string
	}{
		{fstest.MapFS{"m/init.sql": {}}, "positive version"},
		{fstest.MapFS{"m/0000_zero.sql": {}}, "positive version"},
		{fstest.MapFS{"m/0001_a.sql": {}, "m/1_b.sql": {}}, "share version 1"},
	}
	for _, tc := range cases {
		_, err := parseMigrations(tc.files, "m")
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("expected error containing %q, got %v", tc.want, err)
		}
	}
}
