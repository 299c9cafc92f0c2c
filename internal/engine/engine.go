package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"taskboard/internal/cache"
	"taskboard/internal/config"
	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

var (
	// ErrInvalid marks input rejected before touching the store.
	ErrInvalid = errors.New("invalid input")
	// ErrConflict marks writes that collide with existing state.
	ErrConflict = errors.New("conflict")
	// ErrPersistFailed wraps a store failure for a move already applied to the board.
	ErrPersistFailed = errors.New("persist failed")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Cache  *cache.Tasks
	Log    logrus.FieldLogger
	Now    func() time.Time

	boards *registry
	redis  *redis.Client
}

type Option func(*Engine)

// WithRedis enables the task-list cache when the config sets a TTL.
func WithRedis(client *redis.Client) Option {
	return func(e *Engine) { e.redis = client }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.Log = l }
}

func New(db *sql.DB, cfg *config.Config, opts ...Option) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Log:    logrus.StandardLogger(),
		Now:    time.Now,
		boards: newRegistry(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	e.Cache = cache.New(cache.ListerFunc(e.listProjectTasks), e.redis, e.Config.Cache.TTL, e.Log)
	return e
}

// Close stops every board session after its queued moves are written.
func (e Engine) Close() {
	e.boards.closeAll()
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

const inviteAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func newInviteCode() (string, error) {
	b := make([]byte, 8)
	n := big.NewInt(int64(len(inviteAlphabet)))
	for i := range b {
		v, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		b[i] = inviteAlphabet[v.Int64()]
	}
	return string(b), nil
}

// CreateWorkspace stores a workspace and makes its owner an admin member.
func (e Engine) CreateWorkspace(ctx context.Context, name, actorID string) (domain.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Workspace{}, invalid("workspace name is required")
	}
	if actorID == "" {
		return domain.Workspace{}, invalid("actor is required")
	}
	code, err := newInviteCode()
	if err != nil {
		return domain.Workspace{}, err
	}
	now := e.timestamp()
	ws := domain.Workspace{
		ID:         uuid.NewString(),
		Name:       name,
		OwnerID:    actorID,
		InviteCode: code,
		CreatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workspace{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertWorkspace(ctx, tx, ws); err != nil {
		return domain.Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}
	if err := e.Repo.InsertMember(ctx, tx, domain.Member{WorkspaceID: ws.ID, UserID: actorID, Role: domain.RoleAdmin, CreatedAt: now}); err != nil {
		return domain.Workspace{}, fmt.Errorf("insert member: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.WorkspaceCreated, "", "workspace", ws.ID, actorID, events.Payload{"name": ws.Name}); err != nil {
		return domain.Workspace{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workspace{}, err
	}
	e.Log.WithFields(logrus.Fields{"workspace_id": ws.ID, "actor_id": actorID}).Info("workspace created")
	return ws, nil
}

func (e Engine) ListWorkspaces(ctx context.Context, actorID string) ([]domain.Workspace, error) {
	return e.Repo.ListWorkspaces(ctx, actorID)
}

func (e Engine) GetWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	return e.Repo.GetWorkspace(ctx, id)
}

// JoinWorkspace adds the actor as a member of the workspace owning the invite code.
func (e Engine) JoinWorkspace(ctx context.Context, inviteCode, actorID string) (domain.Workspace, error) {
	inviteCode = strings.ToUpper(strings.TrimSpace(inviteCode))
	if inviteCode == "" {
		return domain.Workspace{}, invalid("invite code is required")
	}
	if actorID == "" {
		return domain.Workspace{}, invalid("actor is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workspace{}, err
	}
	defer tx.Rollback()
	ws, err := e.Repo.GetWorkspaceByInviteCode(ctx, tx, inviteCode)
	if err != nil {
		return domain.Workspace{}, fmt.Errorf("invite code %s: %w", inviteCode, err)
	}
	if _, err := e.Repo.GetMember(ctx, tx, ws.ID, actorID); err == nil {
		return domain.Workspace{}, fmt.Errorf("%w: %s is already a member", ErrConflict, actorID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Workspace{}, err
	}
	if err := e.Repo.InsertMember(ctx, tx, domain.Member{WorkspaceID: ws.ID, UserID: actorID, Role: domain.RoleMember, CreatedAt: e.timestamp()}); err != nil {
		return domain.Workspace{}, fmt.Errorf("insert member: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.WorkspaceJoined, "", "workspace", ws.ID, actorID, nil); err != nil {
		return domain.Workspace{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workspace{}, err
	}
	return ws, nil
}

// ResetInviteCode replaces the workspace invite code, invalidating the old one.
func (e Engine) ResetInviteCode(ctx context.Context, workspaceID, actorID string) (domain.Workspace, error) {
	code, err := newInviteCode()
	if err != nil {
		return domain.Workspace{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workspace{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.ResetInviteCode(ctx, tx, workspaceID, code); err != nil {
		return domain.Workspace{}, fmt.Errorf("workspace %s: %w", workspaceID, err)
	}
	if err := e.Events.Append(ctx, tx, events.InviteCodeReset, "", "workspace", workspaceID, actorID, nil); err != nil {
		return domain.Workspace{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workspace{}, err
	}
	return e.Repo.GetWorkspace(ctx, workspaceID)
}

func (e Engine) ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	if _, err := e.Repo.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, fmt.Errorf("workspace %s: %w", workspaceID, err)
	}
	return e.Repo.ListMembers(ctx, workspaceID)
}

func (e Engine) UpdateWorkspace(ctx context.Context, id, name, actorID string) (domain.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Workspace{}, invalid("workspace name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Workspace{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateWorkspace(ctx, tx, id, name); err != nil {
		return domain.Workspace{}, fmt.Errorf("workspace %s: %w", id, err)
	}
	if err := e.Events.Append(ctx, tx, events.WorkspaceUpdated, "", "workspace", id, actorID, events.Payload{"name": name}); err != nil {
		return domain.Workspace{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Workspace{}, err
	}
	return e.Repo.GetWorkspace(ctx, id)
}

// DeleteWorkspace removes the workspace with its members, projects and tasks,
// and stops the board sessions of those projects.
func (e Engine) DeleteWorkspace(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	projectIDs, err := e.Repo.ProjectIDs(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteWorkspace(ctx, tx, id); err != nil {
		return fmt.Errorf("workspace %s: %w", id, err)
	}
	if err := e.Events.Append(ctx, tx, events.WorkspaceDeleted, "", "workspace", id, actorID, events.Payload{"projects": projectIDs}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, pid := range projectIDs {
		e.boards.drop(pid)
		e.Cache.Invalidate(ctx, pid)
	}
	e.Log.WithFields(logrus.Fields{"workspace_id": id, "projects": len(projectIDs), "actor_id": actorID}).Info("workspace deleted")
	return nil
}

// UpdateMemberRole sets a member's role. A workspace always keeps at least
// one ADMIN, so demoting the last one is a conflict.
func (e Engine) UpdateMemberRole(ctx context.Context, workspaceID, userID, role, actorID string) (domain.Member, error) {
	r, err := domain.ParseMemberRole(role)
	if err != nil {
		return domain.Member{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	m, err := e.Repo.GetMember(ctx, tx, workspaceID, userID)
	if err != nil {
		return domain.Member{}, fmt.Errorf("member %s of workspace %s: %w", userID, workspaceID, err)
	}
	if m.Role == r {
		return m, nil
	}
	if m.Role == domain.RoleAdmin {
		if err := e.keepAnAdmin(ctx, tx, workspaceID, userID); err != nil {
			return domain.Member{}, err
		}
	}
	if err := e.Repo.UpdateMemberRole(ctx, tx, workspaceID, userID, r); err != nil {
		return domain.Member{}, err
	}
	payload := events.Payload{"workspace_id": workspaceID, "from": string(m.Role), "to": string(r)}
	if err := e.Events.Append(ctx, tx, events.MemberUpdated, "", "member", userID, actorID, payload); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	m.Role = r
	return m, nil
}

// RemoveMember takes a user out of the workspace. The last member and the
// last ADMIN cannot be removed; delete the workspace instead.
func (e Engine) RemoveMember(ctx context.Context, workspaceID, userID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	m, err := e.Repo.GetMember(ctx, tx, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("member %s of workspace %s: %w", userID, workspaceID, err)
	}
	total, err := e.Repo.CountMembers(ctx, tx, workspaceID, "")
	if err != nil {
		return err
	}
	if total == 1 {
		return fmt.Errorf("%w: %s is the only member of workspace %s", ErrConflict, userID, workspaceID)
	}
	if m.Role == domain.RoleAdmin {
		if err := e.keepAnAdmin(ctx, tx, workspaceID, userID); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteMember(ctx, tx, workspaceID, userID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.MemberRemoved, "", "member", userID, actorID, events.Payload{"workspace_id": workspaceID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) keepAnAdmin(ctx context.Context, tx *sql.Tx, workspaceID, userID string) error {
	admins, err := e.Repo.CountMembers(ctx, tx, workspaceID, domain.RoleAdmin)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return fmt.Errorf("%w: %s is the last admin of workspace %s", ErrConflict, userID, workspaceID)
	}
	return nil
}

func (e Engine) CreateProject(ctx context.Context, workspaceID, name, actorID string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, invalid("project name is required")
	}
	if _, err := e.Repo.GetWorkspace(ctx, workspaceID); err != nil {
		return domain.Project{}, fmt.Errorf("workspace %s: %w", workspaceID, err)
	}
	p := domain.Project{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		CreatedAt:   e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actorID, events.Payload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, id)
	if err != nil {
		return p, fmt.Errorf("project %s: %w", id, err)
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context, workspaceID string) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx, workspaceID)
}

func (e Engine) UpdateProject(ctx context.Context, id, name, actorID string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, invalid("project name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, id, name); err != nil {
		return domain.Project{}, fmt.Errorf("project %s: %w", id, err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectUpdated, id, "project", id, actorID, events.Payload{"name": name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.GetProject(ctx, id)
}

// DeleteProject removes the project and its tasks and stops its board session.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return fmt.Errorf("project %s: %w", id, err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectDeleted, id, "project", id, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.boards.drop(id)
	e.Cache.Invalidate(ctx, id)
	return nil
}

type EventFilters = repo.EventFilters

func (e Engine) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
