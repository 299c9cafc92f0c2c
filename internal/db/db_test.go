package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenCreatesDataDir(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".taskboard")); err != nil {
		t.Fatalf("data dir missing: %v", err)
	}
	var fk int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Fatalf("expected foreign keys on, got %d", fk)
	}
	if Path(dir) != filepath.Join(dir, ".taskboard", "taskboard.db") {
		t.Fatalf("unexpected path %s", Path(dir))
	}
}

func TestOpenAppliesBusyTimeout(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want int
	}{
		{0, 5000},
		{250 * time.Millisecond, 250},
	}
	for _, tc := range cases {
		conn, err := Open(Config{Workspace: t.TempDir(), BusyTimeout: tc.in})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		var got int
		if err := conn.QueryRow(`PRAGMA busy_timeout`).Scan(&got); err != nil {
			t.Fatalf("pragma: %v", err)
		}
		conn.Close()
		if got != tc.want {
			t.Fatalf("busy_timeout for %s = %d, want %d", tc.in, got, tc.want)
		}
	}
	if Path("") != filepath.Join(".taskboard", "taskboard.db") {
		t.Fatalf("empty workspace should resolve to the current dir, got %s", Path(""))
	}
}
