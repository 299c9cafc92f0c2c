package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStatus is returned when a status name is outside the board's columns.
var ErrUnknownStatus = errors.New("unknown task status")

// Status is a board column key. The zero value is Backlog.
type Status int

const (
	Backlog Status = iota
	Todo
	InProgress
	InReview
	Done

	// StatusCount is the number of board columns.
	StatusCount = int(Done) + 1
)

var statusNames = [StatusCount]string{
	Backlog:    "BACKLOG",
	Todo:       "TODO",
	InProgress: "IN_PROGRESS",
	InReview:   "IN_REVIEW",
	Done:       "DONE",
}

// Statuses returns the columns in board order.
func Statuses() []Status {
	return []Status{Backlog, Todo, InProgress, InReview, Done}
}

// StatusNames returns the wire names in board order.
func StatusNames() []string {
	return statusNames[:]
}

func (s Status) Valid() bool {
	return s >= Backlog && s <= Done
}

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// ParseStatus accepts the wire name, case-insensitively.
func ParseStatus(name string) (Status, error) {
	norm := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range statusNames {
		if n == norm {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, name)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, int(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type Workspace struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OwnerID    string `json:"owner_id"`
	InviteCode string `json:"invite_code"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type MemberRole string

const (
	RoleAdmin  MemberRole = "ADMIN"
	RoleMember MemberRole = "MEMBER"
)

// ParseMemberRole accepts ADMIN or MEMBER, case-insensitively.
func ParseMemberRole(name string) (MemberRole, error) {
	switch r := MemberRole(strings.ToUpper(strings.TrimSpace(name))); r {
	case RoleAdmin, RoleMember:
		return r, nil
	}
	return "", fmt.Errorf("unknown member role %q (want ADMIN or MEMBER)", name)
}

type Member struct {
	WorkspaceID string     `json:"workspace_id"`
	UserID      string     `json:"user_id"`
	Role        MemberRole `json:"role"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Task is owned by the store; the board only reorders ID, Status and Position.
type Task struct {
	ID          string  `json:"id"`
	WorkspaceID string  `json:"workspace_id"`
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	Status      Status  `json:"status"`
	Position    int     `json:"position"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
