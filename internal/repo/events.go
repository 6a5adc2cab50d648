package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tasktrack/internal/domain"
)

// EventFilter narrows event listings. Zero values match everything.
type EventFilter struct {
	ProjectID  int64
	Type       string
	EntityKind string
	EntityID   string
}

func (f EventFilter) clauses() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != 0 {
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
	return clauses, args
}

// LatestEventsFrom returns events older than cursor, newest first. A zero
// cursor starts from the most recent event.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	return r.queryEvents(ctx, query, append(args, limit)...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses, args := EventFilter{ProjectID: projectID}.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`,
		strings.Join(clauses, " AND "))
	return r.queryEvents(ctx, query, append(args, limit)...)
}

// LatestEventID returns the most recent event ID, for one project or for all
// of them when projectID is zero.
func (r Repo) LatestEventID(ctx context.Context, projectID int64) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if projectID != 0 {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var id int64
	if err := r.q().QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e                 domain.Event
			projectID         sql.NullInt64
			entityID, payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.ProjectID = projectID.Int64
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}
