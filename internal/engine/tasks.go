package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tasktrack/internal/domain"
	"tasktrack/internal/engine/resolve"
	"tasktrack/internal/events"
	"tasktrack/internal/repo"
)

var validStatuses = map[string]struct{}{
	domain.StatusNew:        {},
	domain.StatusInProgress: {},
	domain.StatusReview:     {},
	domain.StatusDone:       {},
	domain.StatusCanceled:   {},
}

func checkPatch(p domain.TaskPatch) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return resolve.ValidationError{Field: "title", Message: "title must not be empty"}
	}
	if p.Status != nil {
		if _, ok := validStatuses[*p.Status]; !ok {
			return resolve.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", *p.Status)}
		}
	}
	if p.Position != nil && *p.Position < 0 {
		return resolve.ValidationError{Field: "position", Message: "position must not be negative"}
	}
	return nil
}

// applyPatch copies every present field of p onto t.
func applyPatch(t *domain.Task, p domain.TaskPatch) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.ClearValue {
		t.Value = nil
	} else if p.Value != nil {
		v := *p.Value
		t.Value = &v
	}
	if p.Source != nil {
		t.Source = *p.Source
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Position != nil {
		t.Position = *p.Position
	}
	if p.TypeSet {
		t.Type, t.TypeID = nil, nil
		if p.Type != nil {
			tt := *p.Type
			t.Type, t.TypeID = &tt, &tt.ID
		}
	}
	if p.PerformerSet {
		t.Performer, t.PerformerID = nil, nil
		if p.Performer != nil {
			u := *p.Performer
			t.Performer, t.PerformerID = &u, &u.ID
		}
	}
	if p.UsersSet {
		t.Users = append([]domain.User{}, p.Users...)
	}
}

func userIDs(users []domain.User) []int64 {
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

// changedFields names the fields p writes, for event payloads.
func changedFields(p domain.TaskPatch) []string {
	var fields []string
	add := func(ok bool, name string) {
		if ok {
			fields = append(fields, name)
		}
	}
	add(p.Title != nil, "title")
	add(p.Description != nil, "description")
	add(p.Value != nil || p.ClearValue, "value")
	add(p.Source != nil, "source")
	add(p.Status != nil, "status")
	add(p.Position != nil, "position")
	add(p.TypeSet, "type")
	add(p.PerformerSet, "performer")
	add(p.UsersSet, "users")
	return fields
}

func isMove(p domain.TaskPatch) bool {
	moved := p.Status != nil || p.Position != nil
	p.Status, p.Position = nil, nil
	return moved && p.Empty()
}

// CreateByProject commits a new task in project authored by user.
func (e Engine) CreateByProject(ctx context.Context, p domain.TaskPatch, project domain.Project, user domain.User) (domain.Task, error) {
	if p.Title == nil || strings.TrimSpace(*p.Title) == "" {
		return domain.Task{}, resolve.ValidationError{Field: "title", Message: "title is required"}
	}
	if err := checkPatch(p); err != nil {
		return domain.Task{}, err
	}
	now := e.timestamp()
	t := domain.Task{
		ProjectID: project.ID,
		Status:    domain.StatusNew,
		AuthorID:  user.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyPatch(&t, p)
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if t, err = r.InsertTask(ctx, t); err != nil {
			return err
		}
		if len(t.Users) > 0 {
			if err := r.SetTaskUsers(ctx, t.ID, userIDs(t.Users)); err != nil {
				return fmt.Errorf("set collaborators: %w", err)
			}
		}
		return e.Events.Append(ctx, tx, events.TaskCreated, project.ID, "task", idStr(t.SequenceNumber), user.ID,
			events.EventPayload{"id": t.ID, "title": t.Title, "status": t.Status})
	})
	if err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// UpdateByUser applies p to task and returns the committed state with its
// associations loaded.
func (e Engine) UpdateByUser(ctx context.Context, task domain.Task, p domain.TaskPatch, user domain.User) (domain.Task, error) {
	if err := checkPatch(p); err != nil {
		return domain.Task{}, err
	}
	evtType := events.TaskUpdated
	if isMove(p) {
		evtType = events.TaskMoved
	}
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		cur, err := r.GetTask(ctx, task.ID)
		if err != nil {
			return err
		}
		applyPatch(&cur, p)
		cur.UpdatedAt = e.timestamp()
		if err := r.UpdateTask(ctx, cur); err != nil {
			return err
		}
		if p.UsersSet {
			if err := r.SetTaskUsers(ctx, cur.ID, userIDs(cur.Users)); err != nil {
				return fmt.Errorf("set collaborators: %w", err)
			}
		}
		payload := events.EventPayload{"id": cur.ID, "fields": changedFields(p)}
		if p.Status != nil {
			payload["status"] = cur.Status
		}
		return e.Events.Append(ctx, tx, evtType, cur.ProjectID, "task", idStr(cur.SequenceNumber), user.ID, payload)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, task.ID)
}

// FindOne loads a task by its project-scoped sequence number.
func (e Engine) FindOne(ctx context.Context, seq int64, project domain.Project, _ domain.User) (domain.Task, error) {
	t, err := e.Repo.GetTaskByProject(ctx, seq, project.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, fmt.Errorf("task %d in project %d: %w", seq, project.ID, err)
		}
		return domain.Task{}, err
	}
	return t, nil
}

// ListTasksByProject clamps the page to the configured limits.
func (e Engine) ListTasksByProject(ctx context.Context, projectID int64, page domain.Page) ([]domain.Task, int, error) {
	if page.Limit <= 0 {
		page.Limit = e.Config.Pagination.DefaultLimit
	}
	if limit := e.Config.Pagination.MaxLimit; limit > 0 && page.Limit > limit {
		page.Limit = limit
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return e.Repo.ListTasksByProject(ctx, projectID, page)
}

func (e Engine) GetTaskByProject(ctx context.Context, seq, projectID int64) (domain.Task, error) {
	return e.Repo.GetTaskByProject(ctx, seq, projectID)
}

// DeleteTaskByProject removes the task and records the acting user from ctx.
func (e Engine) DeleteTaskByProject(ctx context.Context, seq, projectID int64) error {
	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		t, err := r.GetTaskByProject(ctx, seq, projectID)
		if err != nil {
			return err
		}
		if err := r.DeleteTaskByProject(ctx, seq, projectID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskDeleted, projectID, "task", idStr(seq), actorFrom(ctx),
			events.EventPayload{"id": t.ID, "title": t.Title})
	})
}
