package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tasktrack/internal/domain"
)

func (r Repo) InsertTaskType(ctx context.Context, title string) (domain.TaskType, error) {
	title = strings.TrimSpace(title)
	res, err := r.q().ExecContext(ctx, `INSERT INTO task_types(title) VALUES (?)`, title)
	if err != nil {
		return domain.TaskType{}, fmt.Errorf("insert task type: %w", err)
	}
	id, err := res.LastInsertId()
	return domain.TaskType{ID: id, Title: title}, err
}

// EnsureTaskType returns the type with title, creating it when missing.
func (r Repo) EnsureTaskType(ctx context.Context, title string) (domain.TaskType, error) {
	title = strings.TrimSpace(title)
	if _, err := r.q().ExecContext(ctx, `INSERT OR IGNORE INTO task_types(title) VALUES (?)`, title); err != nil {
		return domain.TaskType{}, err
	}
	var tt domain.TaskType
	err := r.q().QueryRowContext(ctx, `SELECT id,title FROM task_types WHERE title=?`, title).Scan(&tt.ID, &tt.Title)
	return tt, err
}

func (r Repo) GetTaskType(ctx context.Context, id int64) (domain.TaskType, error) {
	var tt domain.TaskType
	err := r.q().QueryRowContext(ctx, `SELECT id,title FROM task_types WHERE id=?`, id).Scan(&tt.ID, &tt.Title)
	if err == sql.ErrNoRows {
		return tt, ErrNotFound
	}
	return tt, err
}

func (r Repo) ListTaskTypes(ctx context.Context) ([]domain.TaskType, error) {
	return r.listTaskTypes(ctx, `SELECT id,title FROM task_types ORDER BY id`)
}

func (r Repo) UpdateTaskType(ctx context.Context, id int64, title string) (domain.TaskType, error) {
	res, err := r.q().ExecContext(ctx, `UPDATE task_types SET title=? WHERE id=?`, strings.TrimSpace(title), id)
	if err != nil {
		return domain.TaskType{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.TaskType{}, ErrNotFound
	}
	return r.GetTaskType(ctx, id)
}

func (r Repo) DeleteTaskType(ctx context.Context, id int64) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM task_types WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- project allow-list ---

func (r Repo) AllowTaskType(ctx context.Context, projectID, typeID int64) error {
	_, err := r.q().ExecContext(ctx, `INSERT OR IGNORE INTO project_task_types(project_id,task_type_id) VALUES (?,?)`, projectID, typeID)
	return err
}

func (r Repo) DisallowTaskType(ctx context.Context, projectID, typeID int64) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM project_task_types WHERE project_id=? AND task_type_id=?`, projectID, typeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindProjectTaskType returns the allow-association with its task type loaded.
func (r Repo) FindProjectTaskType(ctx context.Context, projectID, typeID int64) (domain.ProjectTaskType, error) {
	var ptt domain.ProjectTaskType
	err := r.q().QueryRowContext(ctx, `SELECT p.project_id,p.task_type_id,t.id,t.title
FROM project_task_types p JOIN task_types t ON t.id=p.task_type_id
WHERE p.project_id=? AND p.task_type_id=?`, projectID, typeID).
		Scan(&ptt.ProjectID, &ptt.TaskTypeID, &ptt.TaskType.ID, &ptt.TaskType.Title)
	if err == sql.ErrNoRows {
		return ptt, ErrNotFound
	}
	return ptt, err
}

func (r Repo) ListProjectTaskTypes(ctx context.Context, projectID int64) ([]domain.TaskType, error) {
	return r.listTaskTypes(ctx, `SELECT t.id,t.title FROM project_task_types p JOIN task_types t ON t.id=p.task_type_id
WHERE p.project_id=? ORDER BY t.id`, projectID)
}

func (r Repo) listTaskTypes(ctx context.Context, query string, args ...any) ([]domain.TaskType, error) {
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskType
	for rows.Next() {
		var tt domain.TaskType
		if err := rows.Scan(&tt.ID, &tt.Title); err != nil {
			return nil, err
		}
		res = append(res, tt)
	}
	return res, rows.Err()
}
