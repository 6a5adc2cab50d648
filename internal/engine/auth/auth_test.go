package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tasktrack/internal/domain"
	"tasktrack/internal/repo"
)

type fakeTasks map[int64]domain.Task

func (f fakeTasks) FindOne(_ context.Context, seq int64, project domain.Project, _ domain.User) (domain.Task, error) {
	t, ok := f[seq]
	if !ok || t.ProjectID != project.ID {
		return domain.Task{}, fmt.Errorf("task %d: %w", seq, repo.ErrNotFound)
	}
	return t, nil
}

func performer(id int64) *int64 { return &id }

func newGate() Gate {
	return Gate{Tasks: fakeTasks{
		1: {ID: 100, SequenceNumber: 1, ProjectID: 7, PerformerID: performer(5)},
		2: {ID: 200, SequenceNumber: 2, ProjectID: 8},
	}}
}

func TestCheckAccessOpenProject(t *testing.T) {
	project := domain.Project{ID: 7, AccessLevel: domain.AccessGreen}
	task, err := newGate().CheckAccess(context.Background(), 1, project, domain.User{ID: 9}, domain.AccessYellow)
	if err != nil {
		t.Fatalf("expected access, got %v", err)
	}
	if task.ID != 100 {
		t.Fatalf("expected task 100, got %d", task.ID)
	}
}

func TestCheckAccessThresholdBoundary(t *testing.T) {
	project := domain.Project{ID: 7, AccessLevel: domain.AccessYellow}
	if _, err := newGate().CheckAccess(context.Background(), 1, project, domain.User{ID: 9}, domain.AccessYellow); err != nil {
		t.Fatalf("equal level must pass, got %v", err)
	}
}

func TestCheckAccessRestrictedProject(t *testing.T) {
	project := domain.Project{ID: 7, AccessLevel: domain.AccessRed}
	_, err := newGate().CheckAccess(context.Background(), 1, project, domain.User{ID: 9}, domain.AccessYellow)
	var forbidden ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected ForbiddenError, got %v", err)
	}
	if forbidden.Task.ID != 100 {
		t.Fatalf("expected forbidden error to carry the task, got %+v", forbidden.Task)
	}
	if _, err := newGate().CheckAccess(context.Background(), 1, project, domain.User{ID: 5}, domain.AccessYellow); err != nil {
		t.Fatalf("performer must pass, got %v", err)
	}
}

func TestCheckAccessMissingTask(t *testing.T) {
	project := domain.Project{ID: 7, AccessLevel: domain.AccessGreen}
	if _, err := newGate().CheckAccess(context.Background(), 42, project, domain.User{ID: 5}, domain.AccessRed); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	// task 2 exists but belongs to project 8
	if _, err := newGate().CheckAccess(context.Background(), 2, project, domain.User{ID: 5}, domain.AccessRed); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for foreign task, got %v", err)
	}
}

type denyMoves struct{}

func (denyMoves) AllowMove(context.Context, domain.Task, domain.TaskMove, domain.User) error {
	return errors.New("frozen")
}

func TestCheckMovePolicy(t *testing.T) {
	g := newGate()
	if err := g.CheckMove(context.Background(), domain.Task{}, domain.TaskMove{}, domain.User{}); err != nil {
		t.Fatalf("nil policy must permit, got %v", err)
	}
	g.Moves = AllowAllMoves{}
	if err := g.CheckMove(context.Background(), domain.Task{}, domain.TaskMove{}, domain.User{}); err != nil {
		t.Fatalf("default policy must permit, got %v", err)
	}
	g.Moves = denyMoves{}
	if err := g.CheckMove(context.Background(), domain.Task{}, domain.TaskMove{}, domain.User{}); err == nil {
		t.Fatalf("expected policy denial")
	}
}
