package projecttask

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tasktrack/internal/domain"
	"tasktrack/internal/engine/auth"
	"tasktrack/internal/engine/resolve"
	"tasktrack/internal/repo"
)

// memEngine is an in-memory TaskEngine and TaskStore for one or more projects.
type memEngine struct {
	tasks   map[int64]domain.Task
	commits int
	failing error
}

func (m *memEngine) key(seq, projectID int64) int64 { return projectID*1000 + seq }

func (m *memEngine) CreateByProject(_ context.Context, p domain.TaskPatch, project domain.Project, user domain.User) (domain.Task, error) {
	m.commits++
	seq := int64(len(m.tasks) + 1)
	t := domain.Task{ID: seq, SequenceNumber: seq, ProjectID: project.ID, AuthorID: user.ID, Status: domain.StatusNew}
	apply(&t, p)
	m.tasks[m.key(seq, project.ID)] = t
	return t, nil
}

func (m *memEngine) UpdateByUser(_ context.Context, task domain.Task, p domain.TaskPatch, _ domain.User) (domain.Task, error) {
	if m.failing != nil {
		return domain.Task{}, m.failing
	}
	m.commits++
	t := m.tasks[m.key(task.SequenceNumber, task.ProjectID)]
	apply(&t, p)
	m.tasks[m.key(task.SequenceNumber, task.ProjectID)] = t
	return t, nil
}

func (m *memEngine) FindOne(ctx context.Context, seq int64, project domain.Project, _ domain.User) (domain.Task, error) {
	return m.GetTaskByProject(ctx, seq, project.ID)
}

func (m *memEngine) ListTasksByProject(_ context.Context, projectID int64, _ domain.Page) ([]domain.Task, int, error) {
	var res []domain.Task
	for _, t := range m.tasks {
		if t.ProjectID == projectID {
			res = append(res, t)
		}
	}
	return res, len(res), nil
}

func (m *memEngine) GetTaskByProject(_ context.Context, seq, projectID int64) (domain.Task, error) {
	t, ok := m.tasks[m.key(seq, projectID)]
	if !ok {
		return domain.Task{}, fmt.Errorf("task %d: %w", seq, repo.ErrNotFound)
	}
	return t, nil
}

func (m *memEngine) DeleteTaskByProject(_ context.Context, seq, projectID int64) error {
	delete(m.tasks, m.key(seq, projectID))
	return nil
}

func apply(t *domain.Task, p domain.TaskPatch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Position != nil {
		t.Position = *p.Position
	}
	if p.TypeSet {
		t.Type = p.Type
	}
	if p.PerformerSet {
		t.Performer, t.PerformerID = p.Performer, nil
		if p.Performer != nil {
			id := p.Performer.ID
			t.PerformerID = &id
		}
	}
	if p.UsersSet {
		t.Users = p.Users
	}
}

// dir counts every lookup so tests can tell whether resolution ran.
type dir struct {
	calls int
}

func (d *dir) FindMembership(_ context.Context, projectID, userID int64) (domain.Membership, error) {
	if userID > 3 {
		return domain.Membership{}, repo.ErrNotFound
	}
	return domain.Membership{ProjectID: projectID, UserID: userID, Member: domain.User{ID: userID}}, nil
}

func (d *dir) FindProjectTaskType(_ context.Context, projectID, typeID int64) (domain.ProjectTaskType, error) {
	d.calls++
	if typeID != 1 {
		return domain.ProjectTaskType{}, repo.ErrNotFound
	}
	return domain.ProjectTaskType{ProjectID: projectID, TaskTypeID: 1, TaskType: domain.TaskType{ID: 1, Title: "bug"}}, nil
}

func (d *dir) FindUsersByIDs(_ context.Context, ids []int64) ([]domain.User, error) {
	d.calls++
	var res []domain.User
	for _, id := range ids {
		if id <= 3 {
			res = append(res, domain.User{ID: id})
		}
	}
	return res, nil
}

type recorder struct {
	sent []domain.Task
}

func (r *recorder) NotifyProjectOfTaskUpdate(t domain.Task) {
	r.sent = append(r.sent, t)
}

var (
	alice = domain.User{ID: 1}
	bob   = domain.User{ID: 2}
)

type fixture struct {
	svc  Service
	eng  *memEngine
	dir  *dir
	sent *recorder
}

// newFixture seeds task 1 in project 7 with alice as performer.
func newFixture(level domain.AccessLevel) (fixture, domain.Project) {
	project := domain.Project{ID: 7, AccessLevel: level}
	eng := &memEngine{tasks: map[int64]domain.Task{}}
	performer := alice.ID
	eng.tasks[eng.key(1, project.ID)] = domain.Task{ID: 1, SequenceNumber: 1, ProjectID: project.ID, Title: "first", PerformerID: &performer, Performer: &alice}
	rec := &recorder{}
	d := &dir{}
	return fixture{svc: New(eng, eng, d, rec), eng: eng, dir: d, sent: rec}, project
}

func str(s string) *string { return &s }

func TestUpdateRestrictedProjectOnlyPerformer(t *testing.T) {
	f, project := newFixture(domain.AccessRed)
	_, err := f.svc.Update(context.Background(), 1, domain.TaskMutation{Title: str("x")}, project, bob)
	var forbidden auth.ForbiddenError
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if forbidden.Task.SequenceNumber != 1 {
		t.Fatalf("expected forbidden error to carry task 1")
	}
	if f.eng.commits != 0 || len(f.sent.sent) != 0 {
		t.Fatalf("forbidden update must not commit or broadcast")
	}

	task, err := f.svc.Update(context.Background(), 1, domain.TaskMutation{Title: str("x")}, project, alice)
	if err != nil {
		t.Fatalf("performer update: %v", err)
	}
	if task.Title != "x" {
		t.Fatalf("expected title x, got %q", task.Title)
	}
	if len(f.sent.sent) != 1 || f.sent.sent[0].Title != "x" {
		t.Fatalf("expected exactly one broadcast of the committed state, got %+v", f.sent.sent)
	}
}

func TestUpdateGateRunsBeforeResolution(t *testing.T) {
	f, project := newFixture(domain.AccessRed)
	_, err := f.svc.Update(context.Background(), 1, domain.TaskMutation{TypeID: domain.SetID(5)}, project, bob)
	if !errors.As(err, &auth.ForbiddenError{}) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if errors.As(err, &resolve.ValidationError{}) {
		t.Fatalf("expected no validation error before the gate passes, got %v", err)
	}
	if f.dir.calls != 0 {
		t.Fatalf("expected no directory lookups, got %d", f.dir.calls)
	}
	if f.eng.commits != 0 || len(f.sent.sent) != 0 {
		t.Fatalf("forbidden update must not commit or broadcast")
	}
}

func TestUpdateOpenProjectAnyMember(t *testing.T) {
	for _, level := range []domain.AccessLevel{domain.AccessYellow, domain.AccessGreen} {
		f, project := newFixture(level)
		if _, err := f.svc.Update(context.Background(), 1, domain.TaskMutation{Title: str("y")}, project, bob); err != nil {
			t.Fatalf("%s: expected member update to pass, got %v", level, err)
		}
		if len(f.sent.sent) != 1 {
			t.Fatalf("%s: expected one broadcast, got %d", level, len(f.sent.sent))
		}
	}
}

func TestUpdateConfigurableThreshold(t *testing.T) {
	f, project := newFixture(domain.AccessYellow)
	f.svc.UpdateLevel = domain.AccessGreen
	if _, err := f.svc.Update(context.Background(), 1, domain.TaskMutation{Title: str("y")}, project, bob); !errors.As(err, &auth.ForbiddenError{}) {
		t.Fatalf("expected forbidden under raised threshold, got %v", err)
	}
}

func TestUpdateUnknownTypeFailsWithoutCommit(t *testing.T) {
	f, project := newFixture(domain.AccessGreen)
	_, err := f.svc.Update(context.Background(), 1, domain.TaskMutation{TypeID: domain.SetID(5)}, project, alice)
	var verr resolve.ValidationError
	if !errors.As(err, &verr) || verr.Message != "task type not found in this project" {
		t.Fatalf("expected type validation error, got %v", err)
	}
	if f.eng.commits != 0 || len(f.sent.sent) != 0 {
		t.Fatalf("failed resolution must not commit or broadcast")
	}
}

func TestUpdateCommitFailureDoesNotBroadcast(t *testing.T) {
	f, project := newFixture(domain.AccessGreen)
	f.eng.failing = errors.New("disk full")
	if _, err := f.svc.Update(context.Background(), 1, domain.TaskMutation{Title: str("z")}, project, alice); err == nil {
		t.Fatalf("expected commit error")
	}
	if len(f.sent.sent) != 0 {
		t.Fatalf("failed commit must not broadcast")
	}
}

func TestUpdateMissingTask(t *testing.T) {
	f, project := newFixture(domain.AccessGreen)
	if _, err := f.svc.Update(context.Background(), 99, domain.TaskMutation{Title: str("z")}, project, alice); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateClearsAssociations(t *testing.T) {
	f, project := newFixture(domain.AccessGreen)
	task, err := f.svc.Update(context.Background(), 1, domain.TaskMutation{
		PerformerID: domain.ClearID(),
		Users:       domain.SetIDs([]int64{}),
	}, project, bob)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.PerformerID != nil || task.Performer != nil {
		t.Fatalf("expected performer cleared, got %+v", task.Performer)
	}
	if len(task.Users) != 0 {
		t.Fatalf("expected no collaborators")
	}
}

func TestMoveUsesRelaxedThresholdAndDoesNotBroadcast(t *testing.T) {
	f, project := newFixture(domain.AccessRed)
	status := domain.StatusInProgress
	task, err := f.svc.Move(context.Background(), 1, project, bob, domain.TaskMove{Status: &status})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if task.Status != domain.StatusInProgress {
		t.Fatalf("expected moved status, got %s", task.Status)
	}
	if len(f.sent.sent) != 0 {
		t.Fatalf("moves are not broadcast")
	}
}

type freeze struct{}

func (freeze) AllowMove(context.Context, domain.Task, domain.TaskMove, domain.User) error {
	return errors.New("board frozen")
}

func TestMovePolicyDenies(t *testing.T) {
	f, project := newFixture(domain.AccessGreen)
	f.svc.Gate.Moves = freeze{}
	pos := int64(3)
	if _, err := f.svc.Move(context.Background(), 1, project, alice, domain.TaskMove{Position: &pos}); err == nil {
		t.Fatalf("expected policy denial")
	}
	if f.eng.commits != 0 {
		t.Fatalf("denied move must not commit")
	}
}

func TestCreateResolvesAgainstProject(t *testing.T) {
	f, project := newFixture(domain.AccessRed)
	task, err := f.svc.Create(context.Background(), domain.TaskMutation{
		Title:       str("new"),
		TypeID:      domain.SetID(1),
		PerformerID: domain.SetID(2),
		Users:       domain.SetIDs([]int64{1, 2, 3}),
	}, project, alice)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Type == nil || task.Type.Title != "bug" {
		t.Fatalf("expected resolved type")
	}
	if len(task.Users) != 3 {
		t.Fatalf("expected 3 collaborators, got %d", len(task.Users))
	}
	if _, err := f.svc.Create(context.Background(), domain.TaskMutation{Title: str("bad"), PerformerID: domain.SetID(9)}, project, alice); err == nil {
		t.Fatalf("expected performer validation error")
	}
}

func TestDeleteSoftFail(t *testing.T) {
	f, project := newFixture(domain.AccessGreen)
	_, ok, err := f.svc.Delete(context.Background(), 42, project.ID)
	if err != nil || ok {
		t.Fatalf("expected soft not-found, got ok=%v err=%v", ok, err)
	}
	task, ok, err := f.svc.Delete(context.Background(), 1, project.ID)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if task.Title != "first" {
		t.Fatalf("expected deleted snapshot, got %+v", task)
	}
	if _, err := f.svc.GetOne(context.Background(), 1, project.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected task gone, got %v", err)
	}
}

func TestListReturnsTotal(t *testing.T) {
	f, project := newFixture(domain.AccessGreen)
	res, err := f.svc.List(context.Background(), project.ID, domain.Page{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Total != 1 || len(res.List) != 1 {
		t.Fatalf("expected one task, got %+v", res)
	}
	empty, err := f.svc.List(context.Background(), 99, domain.Page{})
	if err != nil || empty.List == nil || empty.Total != 0 {
		t.Fatalf("expected empty non-nil list, got %+v err=%v", empty, err)
	}
}
