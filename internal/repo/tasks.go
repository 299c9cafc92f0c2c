package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"taskboard/internal/board"
	"taskboard/internal/domain"
)

const taskColumns = `id,workspace_id,project_id,name,description,assignee_id,due_date,status,position,created_at,updated_at`

type TaskFilters struct {
	WorkspaceID string
	ProjectID   string
	Status      *domain.Status
	AssigneeID  string
	// Search matches task names case-insensitively.
	Search string
	Limit  int
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var assigneeID, dueDate sql.NullString
	var status string
	if err := row.Scan(&t.ID, &t.WorkspaceID, &t.ProjectID, &t.Name, &t.Description, &assigneeID, &dueDate, &status, &t.Position, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	s, err := domain.ParseStatus(status)
	if err != nil {
		return t, fmt.Errorf("task %s: %w", t.ID, err)
	}
	t.Status = s
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.WorkspaceID, t.ProjectID, t.Name, t.Description, nullableStringPtr(t.AssigneeID), nullableStringPtr(t.DueDate),
		t.Status.String(), t.Position, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET name=?,description=?,assignee_id=?,due_date=?,status=?,position=?,updated_at=? WHERE id=?`,
		t.Name, t.Description, nullableStringPtr(t.AssigneeID), nullableStringPtr(t.DueDate), t.Status.String(), t.Position, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

// ListTasks orders by position, breaking ties by creation so re-ingest is stable.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.WorkspaceID != "" {
		clauses = append(clauses, "workspace_id=?")
		args = append(args, f.WorkspaceID)
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != nil {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status.String())
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Search != "" {
		clauses = append(clauses, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY position ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// MaxPosition returns the highest position in a project column, or 0 when it is empty.
func (r Repo) MaxPosition(ctx context.Context, tx *sql.Tx, projectID string, status domain.Status) (int, error) {
	var pos sql.NullInt64
	err := r.q(tx).QueryRowContext(ctx, `SELECT MAX(position) FROM tasks WHERE project_id=? AND status=?`, projectID, status.String()).Scan(&pos)
	if err != nil {
		return 0, err
	}
	return int(pos.Int64), nil
}

// BulkUpdateTasks overwrites status and position for every change in order.
// A change naming a task outside the project fails the whole batch with ErrNotFound.
func (r Repo) BulkUpdateTasks(ctx context.Context, tx *sql.Tx, projectID, updatedAt string, cs board.ChangeSet) error {
	q := r.q(tx)
	for _, c := range cs {
		res, err := q.ExecContext(ctx, `UPDATE tasks SET status=?,position=?,updated_at=? WHERE id=? AND project_id=?`,
			c.Status.String(), c.Position, updatedAt, c.ID, projectID)
		if err != nil {
			return fmt.Errorf("update task %s: %w", c.ID, err)
		}
		if err := expectAffected(res); err != nil {
			return fmt.Errorf("task %s: %w", c.ID, err)
		}
	}
	return nil
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[domain.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := make(map[domain.Status]int, domain.StatusCount)
	for _, s := range domain.Statuses() {
		res[s] = 0
	}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		s, err := domain.ParseStatus(name)
		if err != nil {
			return nil, err
		}
		res[s] = n
	}
	return res, rows.Err()
}
