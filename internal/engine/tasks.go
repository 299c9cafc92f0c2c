package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/board"
	"taskboard/internal/domain"
	"taskboard/internal/events"
	"taskboard/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID   string
	Name        string
	Description string
	AssigneeID  string
	DueDate     string
	Status      domain.Status
	ActorID     string
}

// TaskUpdateOptions carries the fields to change; nil leaves a field as is.
type TaskUpdateOptions struct {
	ID          string
	Name        *string
	Description *string
	AssigneeID  *string
	DueDate     *string
	Status      *domain.Status
	ActorID     string
}

type TaskFilters = repo.TaskFilters

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func validateDueDate(v string) error {
	if v == "" {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, v); err != nil {
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return invalid("due date %q must be RFC3339 or YYYY-MM-DD", v)
		}
	}
	return nil
}

// CreateTask appends the task to the end of its column.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return domain.Task{}, invalid("task name is required")
	}
	if !opts.Status.Valid() {
		return domain.Task{}, fmt.Errorf("%w: %w: %d", ErrInvalid, domain.ErrUnknownStatus, int(opts.Status))
	}
	if err := validateDueDate(opts.DueDate); err != nil {
		return domain.Task{}, err
	}
	p, err := e.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.timestamp()
	t := domain.Task{
		ID:          uuid.NewString(),
		WorkspaceID: p.WorkspaceID,
		ProjectID:   p.ID,
		Name:        opts.Name,
		Description: opts.Description,
		AssigneeID:  optionalString(opts.AssigneeID),
		DueDate:     optionalString(opts.DueDate),
		Status:      opts.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	top, err := e.Repo.MaxPosition(ctx, tx, p.ID, t.Status)
	if err != nil {
		return domain.Task{}, err
	}
	t.Position = min(top+board.PositionStep, board.MaxPosition)
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, p.ID, "task", t.ID, opts.ActorID, events.Payload{
		"name": t.Name, "status": t.Status.String(), "position": t.Position,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.tasksChanged(ctx, p.ID)
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, nil, id)
	if err != nil {
		return t, fmt.Errorf("task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks serves project-only queries from the cache.
func (e Engine) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	if f.ProjectID != "" && f.WorkspaceID == "" && f.Status == nil && f.AssigneeID == "" && f.Search == "" && f.Limit == 0 {
		if _, err := e.GetProject(ctx, f.ProjectID); err != nil {
			return nil, err
		}
		return e.Cache.ListTasks(ctx, f.ProjectID)
	}
	return e.Repo.ListTasks(ctx, f)
}

// UpdateTask changes task fields. A status change moves the task to the end
// of its new column.
func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.Status != nil && !opts.Status.Valid() {
		return domain.Task{}, fmt.Errorf("%w: %w: %d", ErrInvalid, domain.ErrUnknownStatus, int(*opts.Status))
	}
	if opts.Name != nil && strings.TrimSpace(*opts.Name) == "" {
		return domain.Task{}, invalid("task name must not be empty")
	}
	if opts.DueDate != nil {
		if err := validateDueDate(*opts.DueDate); err != nil {
			return domain.Task{}, err
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTask(ctx, tx, opts.ID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", opts.ID, err)
	}
	changed := events.Payload{}
	if opts.Name != nil {
		t.Name = strings.TrimSpace(*opts.Name)
		changed["name"] = t.Name
	}
	if opts.Description != nil {
		t.Description = *opts.Description
		changed["description"] = t.Description
	}
	if opts.AssigneeID != nil {
		t.AssigneeID = optionalString(*opts.AssigneeID)
		changed["assignee_id"] = *opts.AssigneeID
	}
	if opts.DueDate != nil {
		t.DueDate = optionalString(*opts.DueDate)
		changed["due_date"] = *opts.DueDate
	}
	if opts.Status != nil && *opts.Status != t.Status {
		top, err := e.Repo.MaxPosition(ctx, tx, t.ProjectID, *opts.Status)
		if err != nil {
			return domain.Task{}, err
		}
		t.Status = *opts.Status
		t.Position = min(top+board.PositionStep, board.MaxPosition)
		changed["status"] = t.Status.String()
		changed["position"] = t.Position
	}
	if len(changed) == 0 {
		return t, nil
	}
	t.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskUpdated, t.ProjectID, "task", t.ID, opts.ActorID, changed); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.tasksChanged(ctx, t.ProjectID)
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTask(ctx, tx, id)
	if err != nil {
		return fmt.Errorf("task %s: %w", id, err)
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskDeleted, t.ProjectID, "task", t.ID, actorID, events.Payload{"name": t.Name}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.tasksChanged(ctx, t.ProjectID)
	return nil
}

// tasksChanged drops the cached list and re-ingests an open board.
func (e Engine) tasksChanged(ctx context.Context, projectID string) {
	e.Cache.Invalidate(ctx, projectID)
	if s := e.boards.get(projectID); s != nil {
		if err := s.Refresh(ctx); err != nil {
			e.Log.WithError(err).WithField("project_id", projectID).Warn("board refresh failed")
		}
	}
}

func (e Engine) listProjectTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
}
