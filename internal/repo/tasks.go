package repo

import (
	"context"
	"database/sql"
	"fmt"

	"tasktrack/internal/domain"
)

// Every task read joins its type and performer; collaborators are loaded in
// a second query once the task rows are closed.
const taskSelect = `SELECT t.id,t.project_id,t.sequence_number,t.title,COALESCE(t.description,''),t.value,COALESCE(t.source,''),
t.status,t.position,t.type_id,tt.title,t.performer_id,pu.email,COALESCE(pu.name,''),pu.created_at,t.author_id,t.created_at,t.updated_at
FROM tasks t
LEFT JOIN task_types tt ON tt.id=t.type_id
LEFT JOIN users pu ON pu.id=t.performer_id`

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                              domain.Task
		value, typeID, performerID     sql.NullInt64
		typeTitle, perfEmail, perfTime sql.NullString
		perfName                       string
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.SequenceNumber, &t.Title, &t.Description, &value, &t.Source,
		&t.Status, &t.Position, &typeID, &typeTitle, &performerID, &perfEmail, &perfName, &perfTime,
		&t.AuthorID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Value = int64Ptr(value)
	if typeID.Valid {
		t.TypeID = int64Ptr(typeID)
		t.Type = &domain.TaskType{ID: typeID.Int64, Title: typeTitle.String}
	}
	if performerID.Valid {
		t.PerformerID = int64Ptr(performerID)
		t.Performer = &domain.User{ID: performerID.Int64, Email: perfEmail.String, Name: perfName, CreatedAt: perfTime.String}
	}
	t.Users = []domain.User{}
	return t, nil
}

func (r Repo) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadTaskUsers(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r Repo) loadTaskUsers(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	idx := make(map[int64]int, len(tasks))
	args := make([]any, 0, len(tasks))
	for i, t := range tasks {
		idx[t.ID] = i
		args = append(args, t.ID)
	}
	rows, err := r.q().QueryContext(ctx, `SELECT tu.task_id,u.id,u.email,COALESCE(u.name,''),u.created_at
FROM task_users tu JOIN users u ON u.id=tu.user_id
WHERE tu.task_id IN (`+placeholders(len(args))+`) ORDER BY u.id`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var taskID int64
		var u domain.User
		if err := rows.Scan(&taskID, &u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
			return err
		}
		i := idx[taskID]
		tasks[i].Users = append(tasks[i].Users, u)
	}
	return rows.Err()
}

func (r Repo) getOneTask(ctx context.Context, where string, args ...any) (domain.Task, error) {
	tasks, err := r.queryTasks(ctx, taskSelect+` WHERE `+where+` LIMIT 1`, args...)
	if err != nil {
		return domain.Task{}, err
	}
	if len(tasks) == 0 {
		return domain.Task{}, ErrNotFound
	}
	return tasks[0], nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return r.getOneTask(ctx, `t.id=?`, id)
}

// GetTaskByProject looks a task up by its project-scoped sequence number.
func (r Repo) GetTaskByProject(ctx context.Context, seq, projectID int64) (domain.Task, error) {
	return r.getOneTask(ctx, `t.project_id=? AND t.sequence_number=?`, projectID, seq)
}

// ListTasksByProject returns one page of a project's tasks and the total count.
func (r Repo) ListTasksByProject(ctx context.Context, projectID int64, page domain.Page) ([]domain.Task, int, error) {
	var total int
	if err := r.q().QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE project_id=?`, projectID).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := taskSelect + ` WHERE t.project_id=? ORDER BY t.position ASC, t.sequence_number ASC`
	args := []any{projectID}
	if page.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, page.Limit, page.Offset)
	}
	tasks, err := r.queryTasks(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// InsertTask stores a new task, allocating the next sequence number of its
// project from the project's counter. Numbers of deleted tasks are never
// handed out again. Call it inside a transaction.
func (r Repo) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	res, err := r.q().ExecContext(ctx, `UPDATE projects SET last_task_seq=last_task_seq+1 WHERE id=?`, t.ProjectID)
	if err != nil {
		return t, fmt.Errorf("next sequence number: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return t, fmt.Errorf("project %d: %w", t.ProjectID, ErrNotFound)
	}
	if err := r.q().QueryRowContext(ctx, `SELECT last_task_seq FROM projects WHERE id=?`, t.ProjectID).
		Scan(&t.SequenceNumber); err != nil {
		return t, fmt.Errorf("next sequence number: %w", err)
	}
	if t.Position == 0 {
		t.Position = t.SequenceNumber
	}
	res, err = r.q().ExecContext(ctx, `INSERT INTO tasks(project_id,sequence_number,title,description,value,source,status,position,type_id,performer_id,author_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ProjectID, t.SequenceNumber, t.Title, nullable(t.Description), nullableInt64Ptr(t.Value), nullable(t.Source),
		t.Status, t.Position, nullableInt64Ptr(t.TypeID), nullableInt64Ptr(t.PerformerID), t.AuthorID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return t, fmt.Errorf("insert task: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return t, err
}

// UpdateTask writes every mutable column. project_id and sequence_number are
// never rewritten.
func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	res, err := r.q().ExecContext(ctx, `UPDATE tasks SET title=?, description=?, value=?, source=?, status=?, position=?, type_id=?, performer_id=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), nullableInt64Ptr(t.Value), nullable(t.Source), t.Status, t.Position,
		nullableInt64Ptr(t.TypeID), nullableInt64Ptr(t.PerformerID), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTaskUsers replaces the collaborator set of a task.
func (r Repo) SetTaskUsers(ctx context.Context, taskID int64, userIDs []int64) error {
	if _, err := r.q().ExecContext(ctx, `DELETE FROM task_users WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, id := range userIDs {
		if _, err := r.q().ExecContext(ctx, `INSERT OR IGNORE INTO task_users(task_id,user_id) VALUES (?,?)`, taskID, id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTaskByProject removes a task by its composite key.
func (r Repo) DeleteTaskByProject(ctx context.Context, seq, projectID int64) error {
	res, err := r.q().ExecContext(ctx, `DELETE FROM tasks WHERE project_id=? AND sequence_number=?`, projectID, seq)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID int64) (map[string]int, error) {
	rows, err := r.q().QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
