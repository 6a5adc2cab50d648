package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tasktrack/internal/domain"
	"tasktrack/internal/engine/resolve"
	"tasktrack/internal/events"
	"tasktrack/internal/repo"
)

// WorkUpdate is a partial change to a work entry. The user and task of an
// entry never change.
type WorkUpdate struct {
	Description *string
	StartAt     *time.Time
	FinishAt    *time.Time
	ClearFinish bool
	Value       *int64
	ClearValue  bool
	Source      *string
	TaskTypeID  domain.OptionalID
}

func (e Engine) checkWorkType(ctx context.Context, r repo.Repo, projectID int64, typeID *int64) error {
	if typeID == nil {
		return nil
	}
	if _, err := r.FindProjectTaskType(ctx, projectID, *typeID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return resolve.ValidationError{Field: "task_type_id", Message: resolve.MsgTypeNotFound}
		}
		return err
	}
	return nil
}

// LogWork records work by user against task seq of projectID.
func (e Engine) LogWork(ctx context.Context, projectID, seq int64, w domain.WorkEntry, user domain.User) (domain.WorkEntry, error) {
	if err := w.Validate(); err != nil {
		return domain.WorkEntry{}, resolve.ValidationError{Field: "start_at", Message: err.Error()}
	}
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		task, err := r.GetTaskByProject(ctx, seq, projectID)
		if err != nil {
			return err
		}
		if err := e.checkWorkType(ctx, r, projectID, w.TaskTypeID); err != nil {
			return err
		}
		w.TaskID, w.UserID = task.ID, user.ID
		if w, err = r.InsertWorkEntry(ctx, w); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.WorkLogged, projectID, "work_entry", idStr(w.ID), user.ID,
			events.EventPayload{"task": task.SequenceNumber})
	})
	if err != nil {
		return domain.WorkEntry{}, err
	}
	return w, nil
}

// GetWork returns entry workID if it belongs to projectID.
func (e Engine) GetWork(ctx context.Context, projectID, workID int64) (domain.WorkEntry, error) {
	return e.workInProject(ctx, e.Repo, projectID, workID)
}

func (e Engine) workInProject(ctx context.Context, r repo.Repo, projectID, workID int64) (domain.WorkEntry, error) {
	w, err := r.GetWorkEntry(ctx, workID)
	if err != nil {
		return w, err
	}
	if w.ProjectID() != projectID {
		return domain.WorkEntry{}, fmt.Errorf("work entry %d in project %d: %w", workID, projectID, repo.ErrNotFound)
	}
	return w, nil
}

func (e Engine) ListWork(ctx context.Context, projectID, seq int64) ([]domain.WorkEntry, error) {
	task, err := e.Repo.GetTaskByProject(ctx, seq, projectID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListWorkEntries(ctx, task.ID)
}

func (e Engine) UpdateWork(ctx context.Context, projectID, workID int64, u WorkUpdate, user domain.User) (domain.WorkEntry, error) {
	var w domain.WorkEntry
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if w, err = e.workInProject(ctx, r, projectID, workID); err != nil {
			return err
		}
		if w.UserID != user.ID {
			return ErrNotAuthor
		}
		if u.Description != nil {
			w.Description = *u.Description
		}
		if u.StartAt != nil {
			w.StartAt = *u.StartAt
		}
		if u.ClearFinish {
			w.FinishAt = nil
		} else if u.FinishAt != nil {
			w.FinishAt = u.FinishAt
		}
		if u.ClearValue {
			w.Value = nil
		} else if u.Value != nil {
			w.Value = u.Value
		}
		if u.Source != nil {
			w.Source = *u.Source
		}
		if u.TaskTypeID.Present() {
			w.TaskTypeID, w.TaskType = nil, nil
			if v, ok := u.TaskTypeID.Value(); ok {
				w.TaskTypeID = &v
			}
		}
		if err := w.Validate(); err != nil {
			return resolve.ValidationError{Field: "finish_at", Message: err.Error()}
		}
		if err := e.checkWorkType(ctx, r, projectID, w.TaskTypeID); err != nil {
			return err
		}
		if err := r.UpdateWorkEntry(ctx, w); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.WorkUpdated, projectID, "work_entry", idStr(w.ID), user.ID, nil)
	})
	if err != nil {
		return domain.WorkEntry{}, err
	}
	return e.Repo.GetWorkEntry(ctx, workID)
}

func (e Engine) DeleteWork(ctx context.Context, projectID, workID int64, user domain.User) error {
	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		w, err := e.workInProject(ctx, r, projectID, workID)
		if err != nil {
			return err
		}
		if w.UserID != user.ID {
			return ErrNotAuthor
		}
		if err := r.DeleteWorkEntry(ctx, workID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.WorkDeleted, projectID, "work_entry", idStr(workID), user.ID, nil)
	})
}
