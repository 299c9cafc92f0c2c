package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the events table.
const (
	WorkspaceCreated = "workspace.created"
	WorkspaceJoined  = "workspace.joined"
	InviteCodeReset  = "workspace.invite_code_reset"
	WorkspaceUpdated = "workspace.updated"
	WorkspaceDeleted = "workspace.deleted"
	MemberUpdated    = "member.updated"
	MemberRemoved    = "member.removed"
	ProjectCreated   = "project.created"
	ProjectUpdated   = "project.updated"
	ProjectDeleted   = "project.deleted"
	TaskCreated      = "task.created"
	TaskUpdated      = "task.updated"
	TaskDeleted      = "task.deleted"
	BoardMoved       = "board.moved"
	TasksBulkUpdated = "tasks.bulk_updated"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Append records an event inside tx so it commits or rolls back with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload Payload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
