package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func addWorkspace(t *testing.T, r repo.Repo, id, member string) {
	t.Helper()
	ctx := context.Background()
	if err := r.InsertWorkspace(ctx, nil, domain.Workspace{ID: id, Name: id, OwnerID: member, InviteCode: "CODE-" + id, CreatedAt: ts}); err != nil {
		t.Fatalf("insert workspace: %v", err)
	}
	if err := r.InsertMember(ctx, nil, domain.Member{WorkspaceID: id, UserID: member, Role: domain.RoleAdmin, CreatedAt: ts}); err != nil {
		t.Fatalf("insert member: %v", err)
	}
}

func TestResolveProject(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	if _, err := ResolveProject(ctx, r, "", "", "alice"); err == nil || !strings.Contains(err.Error(), "no workspace") {
		t.Fatalf("expected missing workspace error, got %v", err)
	}
	addWorkspace(t, r, "ws-1", "alice")
	if _, err := ResolveProject(ctx, r, "", "", "alice"); err == nil || !strings.Contains(err.Error(), "no projects") {
		t.Fatalf("expected missing project error, got %v", err)
	}
	if err := r.InsertProject(ctx, nil, domain.Project{ID: "p-1", WorkspaceID: "ws-1", Name: "Web", CreatedAt: ts}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	p, err := ResolveProject(ctx, r, "", "", "alice")
	if err != nil || p.ID != "p-1" {
		t.Fatalf("expected single project, got %+v %v", p, err)
	}
	if err := r.InsertProject(ctx, nil, domain.Project{ID: "p-2", WorkspaceID: "ws-1", Name: "Api", CreatedAt: ts}); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	if _, err := ResolveProject(ctx, r, "", "", "alice"); err == nil || !strings.Contains(err.Error(), "--project") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
	p, err = ResolveProject(ctx, r, "p-2", "", "alice")
	if err != nil || p.ID != "p-2" {
		t.Fatalf("override ignored: %+v %v", p, err)
	}
	if _, err := ResolveProject(ctx, r, "missing", "", "alice"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveWorkspaceAmbiguous(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	addWorkspace(t, r, "ws-1", "alice")
	addWorkspace(t, r, "ws-2", "alice")
	addWorkspace(t, r, "ws-3", "bob")

	if _, err := ResolveWorkspace(ctx, r, "", "alice"); err == nil {
		t.Fatalf("expected ambiguity for alice")
	}
	ws, err := ResolveWorkspace(ctx, r, "", "bob")
	if err != nil || ws.ID != "ws-3" {
		t.Fatalf("bob should resolve ws-3: %+v %v", ws, err)
	}
	ws, err = ResolveWorkspace(ctx, r, "ws-2", "alice")
	if err != nil || ws.ID != "ws-2" {
		t.Fatalf("override ignored: %+v %v", ws, err)
	}
}
