package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tasktrack/internal/domain"
)

const workSelect = `SELECT w.id,COALESCE(w.description,''),w.start_at,w.finish_at,w.value,COALESCE(w.source,''),w.user_id,w.task_id,w.task_type_id,tt.title,t.project_id
FROM work_entries w
JOIN tasks t ON t.id=w.task_id
LEFT JOIN task_types tt ON tt.id=w.task_type_id`

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanWorkEntry(row rowScanner) (domain.WorkEntry, error) {
	var (
		w                 domain.WorkEntry
		start             string
		finish, typeTitle sql.NullString
		value, typeID     sql.NullInt64
		projectID         int64
	)
	if err := row.Scan(&w.ID, &w.Description, &start, &finish, &value, &w.Source, &w.UserID, &w.TaskID, &typeID, &typeTitle, &projectID); err != nil {
		return w, err
	}
	st, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return w, fmt.Errorf("work entry %d start_at: %w", w.ID, err)
	}
	w.StartAt = st
	if finish.Valid {
		ft, err := time.Parse(time.RFC3339Nano, finish.String)
		if err != nil {
			return w, fmt.Errorf("work entry %d finish_at: %w", w.ID, err)
		}
		w.FinishAt = &ft
	}
	w.Value = int64Ptr(value)
	if typeID.Valid {
		w.TaskTypeID = int64Ptr(typeID)
		w.TaskType = &domain.TaskType{ID: typeID.Int64, Title: typeTitle.String}
	}
	w.Task = &domain.Task{ID: w.TaskID, ProjectID: projectID}
	return w, nil
}

func (r Repo) InsertWorkEntry(ctx context.Context, w domain.WorkEntry) (domain.WorkEntry, error) {
	res, err := r.q().ExecContext(ctx, `INSERT INTO work_entries(description,start_at,finish_at,value,source,user_id,task_id,task_type_id) VALUES (?,?,?,?,?,?,?,?)`,
		nullable(w.Description), formatTime(w.StartAt), nullableTime(w.FinishAt), nullableInt64Ptr(w.Value), nullable(w.Source),
		w.UserID, w.TaskID, nullableInt64Ptr(w.TaskTypeID))
	if err != nil {
		return w, fmt.Errorf("insert work entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return w, err
	}
	return r.GetWorkEntry(ctx, id)
}

func (r Repo) GetWorkEntry(ctx context.Context, id int64) (domain.WorkEntry, error) {
	w, err := scanWorkEntry(r.q().QueryRowContext(ctx, workSelect+` WHERE w.id=?`, id))
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	return w, err
}

func (r Repo) ListWorkEntries(ctx context.Context, taskID int64) ([]domain.WorkEntry, error) {
	rows, err := r.q().QueryContext(ctx, workSelect+` WHERE w.task_id=? ORDER BY w.start_at, w.id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkEntry
	for rows.Next() {
		w, err := scanWorkEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// UpdateWorkEntry writes the mutable columns; user_id and task_id are fixed at insert.
func (r Repo) UpdateWorkEntry(ctx context.Context, w domain.WorkEntry) error {
	res, err := r.q().ExecContext(ctx, `UPDATE work_entries SET description=?, start_at=?, finish_at=?, value=?, source=?, task_type_id=? WHERE id=?`,
		nullable(w.Description), formatTime(w.StartAt), nullableTime(w.FinishAt), nullableInt64Ptr(w.Value), nullable(w.Source),
		nullableInt64Ptr(w.TaskTypeID), w.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteWorkEntry(ctx context.Context, id int64) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM work_entries WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
