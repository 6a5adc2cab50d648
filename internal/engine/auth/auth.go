// Package auth decides whether a user may mutate a task of a project.
package auth

import (
	"context"
	"fmt"

	"tasktrack/internal/domain"
)

// ForbiddenError is returned when the project's access level is below the
// required threshold and the user is not the task's performer. Task is the
// snapshot the decision was made on.
type ForbiddenError struct {
	Task     domain.Task
	Required domain.AccessLevel
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("task %d requires access level %s or its performer", e.Task.SequenceNumber, e.Required)
}

// TaskFinder loads a task of a project. Misses must wrap repo.ErrNotFound.
type TaskFinder interface {
	FindOne(ctx context.Context, seq int64, project domain.Project, user domain.User) (domain.Task, error)
}

// MovePolicy is consulted after the baseline gate on moves.
type MovePolicy interface {
	AllowMove(ctx context.Context, task domain.Task, move domain.TaskMove, user domain.User) error
}

// AllowAllMoves permits every move that passed the gate.
type AllowAllMoves struct{}

func (AllowAllMoves) AllowMove(context.Context, domain.Task, domain.TaskMove, domain.User) error {
	return nil
}

type Gate struct {
	Tasks TaskFinder
	Moves MovePolicy
}

// CheckAccess returns the task when user may act on it at the required level.
func (g Gate) CheckAccess(ctx context.Context, seq int64, project domain.Project, user domain.User, required domain.AccessLevel) (domain.Task, error) {
	task, err := g.Tasks.FindOne(ctx, seq, project, user)
	if err != nil {
		return domain.Task{}, err
	}
	if project.AccessLevel < required && !task.IsPerformer(user.ID) {
		return domain.Task{}, ForbiddenError{Task: task, Required: required}
	}
	return task, nil
}

// CheckMove runs the move policy; a nil policy permits.
func (g Gate) CheckMove(ctx context.Context, task domain.Task, move domain.TaskMove, user domain.User) error {
	if g.Moves == nil {
		return nil
	}
	return g.Moves.AllowMove(ctx, task, move, user)
}
