// Package db opens the SQLite file that is the single source of truth for
// workspaces, projects, tasks and the event log.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	dirName       = ".taskboard"
	defaultDBName = "taskboard.db"

	defaultBusyTimeout = 5 * time.Second
)

// Config locates the database. Workspace is the directory holding
// .taskboard/; empty means the current directory.
type Config struct {
	Workspace string
	// BusyTimeout bounds how long a statement waits on another process's
	// lock (the CLI and `kb serve` may share a file). Zero means 5s.
	BusyTimeout time.Duration
}

func dataDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dirName)
}

// EnsureWorkspace creates <workspace>/.taskboard if missing and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	dir := dataDir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Open returns a handle on <workspace>/.taskboard/taskboard.db with foreign
// keys enforced (task and project rows cascade with their parents).
//
// The pool is capped at one connection: board writes, bulk updates and API
// reads then queue in-process instead of failing with SQLITE_BUSY. Callers
// holding a *sql.Tx must read through it, never through the pool.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)", Path(cfg.Workspace), busy.Milliseconds())
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// Path returns the database file for a workspace directory.
func Path(workspace string) string {
	return filepath.Join(dataDir(workspace), defaultDBName)
}
