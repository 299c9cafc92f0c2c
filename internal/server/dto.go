package server

import (
	"taskboard/internal/board"
	"taskboard/internal/domain"
)

// Request payloads

type CreateWorkspaceRequest struct {
	Name string `json:"name" minLength:"1"`
}

type JoinWorkspaceRequest struct {
	InviteCode string `json:"invite_code" minLength:"1"`
}

type UpdateWorkspaceRequest struct {
	Name string `json:"name" minLength:"1"`
}

type UpdateMemberRequest struct {
	Role string `json:"role" enum:"ADMIN,MEMBER"`
}

type CreateProjectRequest struct {
	Name string `json:"name" minLength:"1"`
}

type UpdateProjectRequest struct {
	Name string `json:"name" minLength:"1"`
}

type CreateTaskRequest struct {
	Name        string  `json:"name" minLength:"1"`
	Description *string `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	Status      string  `json:"status,omitempty" enum:"BACKLOG,TODO,IN_PROGRESS,IN_REVIEW,DONE"`
}

type UpdateTaskRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	Status      *string `json:"status,omitempty" enum:"BACKLOG,TODO,IN_PROGRESS,IN_REVIEW,DONE"`
}

type LocationRequest struct {
	Status string `json:"status" enum:"BACKLOG,TODO,IN_PROGRESS,IN_REVIEW,DONE"`
	Index  int    `json:"index"`
}

// MoveRequest mirrors a drag result. A missing destination is a cancelled drag.
type MoveRequest struct {
	Source      LocationRequest  `json:"source"`
	Destination *LocationRequest `json:"destination,omitempty"`
}

type TaskChangeRequest struct {
	ID       string `json:"id" minLength:"1"`
	Status   string `json:"status" enum:"BACKLOG,TODO,IN_PROGRESS,IN_REVIEW,DONE"`
	Position int    `json:"position"`
}

type BulkUpdateRequest struct {
	Tasks []TaskChangeRequest `json:"tasks"`
}

// Responses

type WorkspaceResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OwnerID    string `json:"owner_id"`
	InviteCode string `json:"invite_code"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type MemberResponse struct {
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id"`
	Role        string `json:"role" enum:"ADMIN,MEMBER"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ProjectResponse struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspace_id"`
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
	Status      string  `json:"status" enum:"BACKLOG,TODO,IN_PROGRESS,IN_REVIEW,DONE"`
	Position    int     `json:"position"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type ColumnResponse struct {
	Status    string         `json:"status" enum:"BACKLOG,TODO,IN_PROGRESS,IN_REVIEW,DONE"`
	TaskCount int            `json:"task_count"`
	Tasks     []TaskResponse `json:"tasks"`
}

type BoardResponse struct {
	ProjectID string           `json:"project_id"`
	Total     int              `json:"total"`
	Columns   []ColumnResponse `json:"columns"`
}

type TaskCountsResponse struct {
	ProjectID string         `json:"project_id"`
	Total     int            `json:"total"`
	Counts    map[string]int `json:"counts"`
}

type ChangeResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status" enum:"BACKLOG,TODO,IN_PROGRESS,IN_REVIEW,DONE"`
	Position int    `json:"position"`
}

type MoveResponse struct {
	Changes []ChangeResponse `json:"changes"`
	Board   BoardResponse    `json:"board"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func workspaceResponse(w domain.Workspace) WorkspaceResponse {
	return WorkspaceResponse(w)
}

func memberResponse(m domain.Member) MemberResponse {
	return MemberResponse{WorkspaceID: m.WorkspaceID, UserID: m.UserID, Role: string(m.Role), CreatedAt: m.CreatedAt}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		WorkspaceID: t.WorkspaceID,
		ProjectID:   t.ProjectID,
		Name:        t.Name,
		Description: t.Description,
		AssigneeID:  t.AssigneeID,
		DueDate:     t.DueDate,
		Status:      t.Status.String(),
		Position:    t.Position,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func taskResponses(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse(t))
	}
	return out
}

func boardResponse(projectID string, b board.Board) BoardResponse {
	counts := b.Counts()
	resp := BoardResponse{ProjectID: projectID, Total: b.Count(), Columns: make([]ColumnResponse, 0, domain.StatusCount)}
	for _, s := range domain.Statuses() {
		resp.Columns = append(resp.Columns, ColumnResponse{Status: s.String(), TaskCount: counts[s], Tasks: taskResponses(b.Column(s))})
	}
	return resp
}

func taskCountsResponse(projectID string, counts map[domain.Status]int) TaskCountsResponse {
	resp := TaskCountsResponse{ProjectID: projectID, Counts: make(map[string]int, len(counts))}
	for s, n := range counts {
		resp.Counts[s.String()] = n
		resp.Total += n
	}
	return resp
}

func changeResponses(cs board.ChangeSet) []ChangeResponse {
	out := make([]ChangeResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, ChangeResponse{ID: c.ID, Status: c.Status.String(), Position: c.Position})
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse(e)
}

func parseLocation(l LocationRequest) (board.Location, error) {
	s, err := domain.ParseStatus(l.Status)
	if err != nil {
		return board.Location{}, err
	}
	return board.Location{Status: s, Index: l.Index}, nil
}
