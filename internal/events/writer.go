package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the log.
const (
	ProjectCreated     = "project.created"
	ProjectUpdated     = "project.updated"
	ProjectDeleted     = "project.deleted"
	MemberAdded        = "member.added"
	MemberRemoved      = "member.removed"
	TaskTypeCreated    = "task_type.created"
	TaskTypeUpdated    = "task_type.updated"
	TaskTypeDeleted    = "task_type.deleted"
	TaskTypeAllowed    = "task_type.allowed"
	TaskTypeDisallowed = "task_type.disallowed"
	TaskCreated        = "task.created"
	TaskUpdated        = "task.updated"
	TaskMoved          = "task.moved"
	TaskDeleted        = "task.deleted"
	WorkLogged         = "work.logged"
	WorkUpdated        = "work.updated"
	WorkDeleted        = "work.deleted"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside tx so it commits or rolls back with the
// mutation it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType string, projectID int64, entityKind, entityID string, actorID int64, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullableID(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
