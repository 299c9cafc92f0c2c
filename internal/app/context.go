package app

import (
	"context"
	"errors"
	"fmt"

	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

// ResolveWorkspace picks the active workspace: the override when set, else the
// only workspace the actor belongs to.
func ResolveWorkspace(ctx context.Context, r repo.Repo, override, actorID string) (domain.Workspace, error) {
	if override != "" {
		ws, err := r.GetWorkspace(ctx, override)
		if err != nil {
			return ws, fmt.Errorf("workspace %s: %w", override, err)
		}
		return ws, nil
	}
	list, err := r.ListWorkspaces(ctx, actorID)
	if err != nil {
		return domain.Workspace{}, err
	}
	switch len(list) {
	case 0:
		return domain.Workspace{}, fmt.Errorf("no workspace for %s; run 'kb workspace create' or 'kb workspace join'", actorID)
	case 1:
		return list[0], nil
	default:
		return domain.Workspace{}, errors.New("multiple workspaces exist; specify --workspace-id")
	}
}

// ResolveProject picks the active project: the override when set, else the
// only project in the resolved workspace.
func ResolveProject(ctx context.Context, r repo.Repo, override, workspaceOverride, actorID string) (domain.Project, error) {
	if override != "" {
		p, err := r.GetProject(ctx, override)
		if err != nil {
			return p, fmt.Errorf("project %s: %w", override, err)
		}
		return p, nil
	}
	ws, err := ResolveWorkspace(ctx, r, workspaceOverride, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	projects, err := r.ListProjects(ctx, ws.ID)
	if err != nil {
		return domain.Project{}, err
	}
	switch len(projects) {
	case 0:
		return domain.Project{}, fmt.Errorf("workspace %s has no projects; run 'kb project create'", ws.Name)
	case 1:
		return projects[0], nil
	default:
		return domain.Project{}, errors.New("multiple projects exist; specify --project")
	}
}
