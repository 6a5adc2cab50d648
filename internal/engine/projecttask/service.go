// Package projecttask orchestrates task mutations inside a project:
// lookup, access gate, association resolution, commit and broadcast.
package projecttask

import (
	"context"
	"errors"

	"tasktrack/internal/domain"
	"tasktrack/internal/engine/auth"
	"tasktrack/internal/engine/resolve"
	"tasktrack/internal/repo"
)

// TaskEngine commits task writes. engine.Engine implements it.
type TaskEngine interface {
	CreateByProject(ctx context.Context, patch domain.TaskPatch, project domain.Project, user domain.User) (domain.Task, error)
	UpdateByUser(ctx context.Context, task domain.Task, patch domain.TaskPatch, user domain.User) (domain.Task, error)
	FindOne(ctx context.Context, seq int64, project domain.Project, user domain.User) (domain.Task, error)
}

type TaskStore interface {
	ListTasksByProject(ctx context.Context, projectID int64, page domain.Page) ([]domain.Task, int, error)
	GetTaskByProject(ctx context.Context, seq, projectID int64) (domain.Task, error)
	DeleteTaskByProject(ctx context.Context, seq, projectID int64) error
}

type Broadcaster interface {
	NotifyProjectOfTaskUpdate(task domain.Task)
}

type ListResult struct {
	List  []domain.Task `json:"list"`
	Total int           `json:"total"`
}

type Service struct {
	Engine      TaskEngine
	Store       TaskStore
	Gate        auth.Gate
	Resolver    resolve.Resolver
	Broadcaster Broadcaster

	// UpdateLevel and MoveLevel are the project levels at which any member
	// may update or move; below them only the performer may.
	UpdateLevel domain.AccessLevel
	MoveLevel   domain.AccessLevel
}

func New(eng TaskEngine, store TaskStore, dir resolve.Directory, b Broadcaster) Service {
	return Service{
		Engine:      eng,
		Store:       store,
		Gate:        auth.Gate{Tasks: eng, Moves: auth.AllowAllMoves{}},
		Resolver:    resolve.Resolver{Dir: dir},
		Broadcaster: b,
		UpdateLevel: domain.AccessYellow,
		MoveLevel:   domain.AccessRed,
	}
}

func (s Service) List(ctx context.Context, projectID int64, page domain.Page) (ListResult, error) {
	tasks, total, err := s.Store.ListTasksByProject(ctx, projectID, page)
	if err != nil {
		return ListResult{}, err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return ListResult{List: tasks, Total: total}, nil
}

func (s Service) GetOne(ctx context.Context, seq, projectID int64) (domain.Task, error) {
	return s.Store.GetTaskByProject(ctx, seq, projectID)
}

func (s Service) Create(ctx context.Context, m domain.TaskMutation, project domain.Project, user domain.User) (domain.Task, error) {
	patch, err := s.Resolver.Resolve(ctx, m, project.ID)
	if err != nil {
		return domain.Task{}, err
	}
	return s.Engine.CreateByProject(ctx, patch, project, user)
}

// Update gates, resolves, commits and then notifies observers exactly once.
// Nothing is written or broadcast when any step before the commit fails.
func (s Service) Update(ctx context.Context, seq int64, m domain.TaskMutation, project domain.Project, user domain.User) (domain.Task, error) {
	task, err := s.Gate.CheckAccess(ctx, seq, project, user, s.UpdateLevel)
	if err != nil {
		return domain.Task{}, err
	}
	patch, err := s.Resolver.Resolve(ctx, m, project.ID)
	if err != nil {
		return domain.Task{}, err
	}
	updated, err := s.Engine.UpdateByUser(ctx, task, patch, user)
	if err != nil {
		return domain.Task{}, err
	}
	if s.Broadcaster != nil {
		s.Broadcaster.NotifyProjectOfTaskUpdate(updated)
	}
	return updated, nil
}

// Move changes status or position under the move threshold. Moves are not broadcast.
func (s Service) Move(ctx context.Context, seq int64, project domain.Project, user domain.User, move domain.TaskMove) (domain.Task, error) {
	task, err := s.Gate.CheckAccess(ctx, seq, project, user, s.MoveLevel)
	if err != nil {
		return domain.Task{}, err
	}
	if err := s.Gate.CheckMove(ctx, task, move, user); err != nil {
		return domain.Task{}, err
	}
	return s.Engine.UpdateByUser(ctx, task, move.Patch(), user)
}

// Delete removes the task and returns its last state. A missing task reports
// false without an error.
func (s Service) Delete(ctx context.Context, seq, projectID int64) (domain.Task, bool, error) {
	task, err := s.Store.GetTaskByProject(ctx, seq, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, false, nil
	}
	if err != nil {
		return domain.Task{}, false, err
	}
	if err := s.Store.DeleteTaskByProject(ctx, seq, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, false, nil
		}
		return domain.Task{}, false, err
	}
	return task, true, nil
}
