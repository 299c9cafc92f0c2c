package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q runs inside tx when one is given. The database allows a single open
// connection, so reads made during a transaction must go through it.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Workspaces

const workspaceColumns = `id,name,owner_id,invite_code,created_at`

func scanWorkspace(row *sql.Row) (domain.Workspace, error) {
	var w domain.Workspace
	err := row.Scan(&w.ID, &w.Name, &w.OwnerID, &w.InviteCode, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) InsertWorkspace(ctx context.Context, tx *sql.Tx, w domain.Workspace) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO workspaces(`+workspaceColumns+`) VALUES (?,?,?,?,?)`,
		w.ID, w.Name, w.OwnerID, w.InviteCode, w.CreatedAt)
	return err
}

func (r Repo) GetWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	return scanWorkspace(r.DB.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id=?`, id))
}

func (r Repo) GetWorkspaceByInviteCode(ctx context.Context, tx *sql.Tx, code string) (domain.Workspace, error) {
	return scanWorkspace(r.q(tx).QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE invite_code=?`, code))
}

// ListWorkspaces returns workspaces the user belongs to, or all of them when userID is empty.
func (r Repo) ListWorkspaces(ctx context.Context, userID string) ([]domain.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces ORDER BY created_at DESC, id DESC`
	var args []any
	if userID != "" {
		query = `SELECT w.id,w.name,w.owner_id,w.invite_code,w.created_at FROM workspaces w
			JOIN members m ON m.workspace_id = w.id
			WHERE m.user_id=? ORDER BY w.created_at DESC, w.id DESC`
		args = append(args, userID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Workspace
	for rows.Next() {
		var w domain.Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.OwnerID, &w.InviteCode, &w.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) ResetInviteCode(ctx context.Context, tx *sql.Tx, id, code string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE workspaces SET invite_code=? WHERE id=?`, code, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) UpdateWorkspace(ctx context.Context, tx *sql.Tx, id, name string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE workspaces SET name=? WHERE id=?`, name, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// DeleteWorkspace removes the workspace; members, projects and tasks cascade.
func (r Repo) DeleteWorkspace(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM workspaces WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// Members

func (r Repo) InsertMember(ctx context.Context, tx *sql.Tx, m domain.Member) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO members(workspace_id,user_id,role,created_at) VALUES (?,?,?,?)`,
		m.WorkspaceID, m.UserID, string(m.Role), m.CreatedAt)
	return err
}

func (r Repo) GetMember(ctx context.Context, tx *sql.Tx, workspaceID, userID string) (domain.Member, error) {
	var m domain.Member
	var role string
	err := r.q(tx).QueryRowContext(ctx, `SELECT workspace_id,user_id,role,created_at FROM members WHERE workspace_id=? AND user_id=?`,
		workspaceID, userID).Scan(&m.WorkspaceID, &m.UserID, &role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.Role = domain.MemberRole(role)
	return m, err
}

func (r Repo) UpdateMemberRole(ctx context.Context, tx *sql.Tx, workspaceID, userID string, role domain.MemberRole) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE members SET role=? WHERE workspace_id=? AND user_id=?`, string(role), workspaceID, userID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) DeleteMember(ctx context.Context, tx *sql.Tx, workspaceID, userID string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM members WHERE workspace_id=? AND user_id=?`, workspaceID, userID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// CountMembers counts a workspace's members, only those with role when it is set.
func (r Repo) CountMembers(ctx context.Context, tx *sql.Tx, workspaceID string, role domain.MemberRole) (int, error) {
	query := `SELECT COUNT(*) FROM members WHERE workspace_id=?`
	args := []any{workspaceID}
	if role != "" {
		query += ` AND role=?`
		args = append(args, string(role))
	}
	var n int
	err := r.q(tx).QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func (r Repo) ListMembers(ctx context.Context, workspaceID string) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT workspace_id,user_id,role,created_at FROM members WHERE workspace_id=? ORDER BY created_at ASC, user_id ASC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		var role string
		if err := rows.Scan(&m.WorkspaceID, &m.UserID, &role, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.MemberRole(role)
		res = append(res, m)
	}
	return res, rows.Err()
}

// Projects

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,workspace_id,name,created_at) VALUES (?,?,?,?)`,
		p.ID, p.WorkspaceID, p.Name, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT id,workspace_id,name,created_at FROM projects WHERE id=?`, id))
}

func (r Repo) ListProjects(ctx context.Context, workspaceID string) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,workspace_id,name,created_at FROM projects WHERE workspace_id=? ORDER BY created_at DESC, id DESC`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectIDs lists the ids of a workspace's projects.
func (r Repo) ProjectIDs(ctx context.Context, tx *sql.Tx, workspaceID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id FROM projects WHERE workspace_id=? ORDER BY id`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, id, name string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET name=? WHERE id=?`, name, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// Events

type EventFilters struct {
	ProjectID  string
	Type       string
	EntityKind string
	EntityID   string
	// Cursor returns events older than this id when positive.
	Cursor int64
	Limit  int
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
