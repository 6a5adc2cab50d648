package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"tasktrack/internal/config"
	"tasktrack/internal/db"
	"tasktrack/internal/domain"
	"tasktrack/internal/engine"
	"tasktrack/internal/engine/auth"
	"tasktrack/internal/engine/projecttask"
	"tasktrack/internal/engine/resolve"
	"tasktrack/internal/events"
	"tasktrack/internal/migrate"
	"tasktrack/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Owner   domain.User
	Member  domain.User
	Project domain.Project
}

func newTestEnv(t *testing.T, level domain.AccessLevel) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	owner, err := eng.CreateUser(ctx, "owner@example.com", "Owner")
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	member, err := eng.CreateUser(ctx, "member@example.com", "Member")
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	project, err := eng.CreateProject(ctx, "Board", &level, owner)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := eng.AddMember(ctx, project.ID, member.ID, domain.RoleMember, owner); err != nil {
		t.Fatalf("add member: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Owner: owner, Member: member, Project: project}
}

func str(s string) *string { return &s }

func TestCreateAssignsSequenceNumbers(t *testing.T) {
	env := newTestEnv(t, domain.AccessGreen)
	first, err := env.Engine.CreateByProject(env.Ctx, domain.TaskPatch{Title: str("one")}, env.Project, env.Owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := env.Engine.CreateByProject(env.Ctx, domain.TaskPatch{Title: str("two")}, env.Project, env.Owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.SequenceNumber != 1 || second.SequenceNumber != 2 {
		t.Fatalf("expected sequence 1,2 got %d,%d", first.SequenceNumber, second.SequenceNumber)
	}
	if first.Status != domain.StatusNew || first.AuthorID != env.Owner.ID {
		t.Fatalf("unexpected defaults: %+v", first)
	}
	other, err := env.Engine.CreateProject(env.Ctx, "Other", nil, env.Owner)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if other.AccessLevel != domain.AccessRed {
		t.Fatalf("expected default red level, got %s", other.AccessLevel)
	}
	t3, err := env.Engine.CreateByProject(env.Ctx, domain.TaskPatch{Title: str("elsewhere")}, other, env.Owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if t3.SequenceNumber != 1 {
		t.Fatalf("sequence numbers are per project, got %d", t3.SequenceNumber)
	}
	if _, err := env.Engine.CreateByProject(env.Ctx, domain.TaskPatch{}, env.Project, env.Owner); !errors.As(err, &resolve.ValidationError{}) {
		t.Fatalf("expected title validation error, got %v", err)
	}
}

func TestUpdateWritesAssociationsAndEvent(t *testing.T) {
	env := newTestEnv(t, domain.AccessGreen)
	task, err := env.Engine.CreateByProject(env.Ctx, domain.TaskPatch{Title: str("task")}, env.Project, env.Owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	types, err := env.Engine.Repo.ListProjectTaskTypes(env.Ctx, env.Project.ID)
	if err != nil || len(types) == 0 {
		t.Fatalf("expected seeded task types, got %v err=%v", types, err)
	}
	value := int64(8)
	updated, err := env.Engine.UpdateByUser(env.Ctx, task, domain.TaskPatch{
		Value:        &value,
		TypeSet:      true,
		Type:         &types[0],
		PerformerSet: true,
		Performer:    &env.Member,
		UsersSet:     true,
		Users:        []domain.User{env.Owner, env.Member},
	}, env.Member)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Type == nil || updated.Type.ID != types[0].ID {
		t.Fatalf("expected type loaded, got %+v", updated.Type)
	}
	if !updated.IsPerformer(env.Member.ID) || updated.Performer.Email != env.Member.Email {
		t.Fatalf("expected member performer, got %+v", updated.Performer)
	}
	if len(updated.Users) != 2 || updated.Value == nil || *updated.Value != 8 {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	cleared, err := env.Engine.UpdateByUser(env.Ctx, updated, domain.TaskPatch{
		ClearValue: true, TypeSet: true, PerformerSet: true, UsersSet: true,
	}, env.Member)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.Type != nil || cleared.Performer != nil || len(cleared.Users) != 0 || cleared.Value != nil {
		t.Fatalf("expected associations cleared, got %+v", cleared)
	}

	evts, err := env.Engine.Repo.LatestEventsFrom(env.Ctx, 10, 0, repo.EventFilter{ProjectID: env.Project.ID, Type: events.TaskUpdated})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 2 || evts[0].ActorID != env.Member.ID {
		t.Fatalf("expected two task.updated events by member, got %+v", evts)
	}
}

func TestFindOneWrapsNotFound(t *testing.T) {
	env := newTestEnv(t, domain.AccessGreen)
	_, err := env.Engine.FindOne(env.Ctx, 5, env.Project, env.Owner)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteTaskRecordsActor(t *testing.T) {
	env := newTestEnv(t, domain.AccessGreen)
	task, err := env.Engine.CreateByProject(env.Ctx, domain.TaskPatch{Title: str("doomed")}, env.Project, env.Owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := engine.WithActor(env.Ctx, env.Member.ID)
	if err := env.Engine.DeleteTaskByProject(ctx, task.SequenceNumber, env.Project.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := env.Engine.DeleteTaskByProject(ctx, task.SequenceNumber, env.Project.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	evts, err := env.Engine.Repo.LatestEventsFrom(env.Ctx, 1, 0, repo.EventFilter{Type: events.TaskDeleted})
	if err != nil || len(evts) != 1 || evts[0].ActorID != env.Member.ID {
		t.Fatalf("expected task.deleted by member, got %+v err=%v", evts, err)
	}
}

func TestDeletedSequenceNumbersAreNotReused(t *testing.T) {
	env := newTestEnv(t, domain.AccessGreen)
	if _, err := env.Engine.CreateByProject(env.Ctx, domain.TaskPatch{Title: str("one")}, env.Project, env.Owner); err != nil {
		t.Fatalf("create: %v", err)
	}
	top, err := env.Engine.CreateByProject(env.Ctx, domain.TaskPatch{Title: str("two")}, env.Project, env.Owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.DeleteTaskByProject(env.Ctx, top.SequenceNumber, env.Project.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	next, err := env.Engine.CreateByProject(env.Ctx, domain.TaskPatch{Title: str("three")}, env.Project, env.Owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if next.SequenceNumber != 3 {
		t.Fatalf("expected sequence 3 after deleting 2, got %d", next.SequenceNumber)
	}
}

func TestMembershipOwnerRules(t *testing.T) {
	env := newTestEnv(t, domain.AccessGreen)
	if _, err := env.Engine.AddMember(env.Ctx, env.Project.ID, env.Member.ID, domain.RoleOwner, env.Member); !errors.Is(err, engine.ErrOwnerRequired) {
		t.Fatalf("expected owner required, got %v", err)
	}
	if err := env.Engine.RemoveMember(env.Ctx, env.Project.ID, env.Owner.ID, env.Owner); !errors.Is(err, engine.ErrLastOwner) {
		t.Fatalf("expected last owner error, got %v", err)
	}
	if _, err := env.Engine.AddMember(env.Ctx, env.Project.ID, env.Owner.ID, domain.RoleMember, env.Owner); !errors.Is(err, engine.ErrLastOwner) {
		t.Fatalf("expected demotion of last owner to fail, got %v", err)
	}
	if err := env.Engine.RemoveMember(env.Ctx, env.Project.ID, env.Member.ID, env.Member); err != nil {
		t.Fatalf("member leaving: %v", err)
	}
	if _, err := env.Engine.Repo.FindMembership(env.Ctx, env.Project.ID, env.Member.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected membership removed, got %v", err)
	}
}

func TestTaskTypeAllowList(t *testing.T) {
	env := newTestEnv(t, domain.AccessGreen)
	tt, err := env.Engine.CreateTaskType(env.Ctx, "research", env.Owner)
	if err != nil {
		t.Fatalf("create type: %v", err)
	}
	if _, err := env.Engine.Repo.FindProjectTaskType(env.Ctx, env.Project.ID, tt.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("new type must not be allowed yet")
	}
	if _, err := env.Engine.AllowTaskType(env.Ctx, env.Project.ID, tt.ID, env.Member); !errors.Is(err, engine.ErrOwnerRequired) {
		t.Fatalf("expected owner required, got %v", err)
	}
	ptt, err := env.Engine.AllowTaskType(env.Ctx, env.Project.ID, tt.ID, env.Owner)
	if err != nil || ptt.TaskType.Title != "research" {
		t.Fatalf("allow: %+v err=%v", ptt, err)
	}
	if err := env.Engine.DisallowTaskType(env.Ctx, env.Project.ID, tt.ID, env.Owner); err != nil {
		t.Fatalf("disallow: %v", err)
	}
	if _, err := env.Engine.UpdateTaskType(env.Ctx, tt.ID, "spike", env.Owner); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := env.Engine.DeleteTaskType(env.Ctx, tt.ID, env.Owner); err != nil {
		t.Fatalf("delete type: %v", err)
	}
}

func TestWorkEntries(t *testing.T) {
	env := newTestEnv(t, domain.AccessGreen)
	task, err := env.Engine.CreateByProject(env.Ctx, domain.TaskPatch{Title: str("work on me")}, env.Project, env.Owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	start := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	finish := start.Add(-time.Hour)
	if _, err := env.Engine.LogWork(env.Ctx, env.Project.ID, task.SequenceNumber, domain.WorkEntry{StartAt: start, FinishAt: &finish}, env.Member); err == nil {
		t.Fatalf("expected finish before start to fail")
	}
	finish = start.Add(2 * time.Hour)
	w, err := env.Engine.LogWork(env.Ctx, env.Project.ID, task.SequenceNumber, domain.WorkEntry{Description: "pairing", StartAt: start, FinishAt: &finish}, env.Member)
	if err != nil {
		t.Fatalf("log work: %v", err)
	}
	if w.ProjectID() != env.Project.ID || w.UserID != env.Member.ID || w.TaskID != task.ID {
		t.Fatalf("unexpected entry: %+v", w)
	}
	if _, err := env.Engine.UpdateWork(env.Ctx, env.Project.ID, w.ID, engine.WorkUpdate{Source: str("x")}, env.Owner); !errors.Is(err, engine.ErrNotAuthor) {
		t.Fatalf("expected author check, got %v", err)
	}
	updated, err := env.Engine.UpdateWork(env.Ctx, env.Project.ID, w.ID, engine.WorkUpdate{Source: str("PR-12"), ClearFinish: true}, env.Member)
	if err != nil {
		t.Fatalf("update work: %v", err)
	}
	if updated.Source != "PR-12" || updated.FinishAt != nil {
		t.Fatalf("unexpected update: %+v", updated)
	}
	other, err := env.Engine.CreateProject(env.Ctx, "Other", nil, env.Owner)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if _, err := env.Engine.GetWork(env.Ctx, other.ID, w.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("entry must not be visible from another project, got %v", err)
	}
	list, err := env.Engine.ListWork(env.Ctx, env.Project.ID, task.SequenceNumber)
	if err != nil || len(list) != 1 {
		t.Fatalf("list work: %v %v", list, err)
	}
	if err := env.Engine.DeleteWork(env.Ctx, env.Project.ID, w.ID, env.Member); err != nil {
		t.Fatalf("delete work: %v", err)
	}
}

// The orchestrator wired to the SQLite engine and repo.
func TestServiceAgainstStore(t *testing.T) {
	env := newTestEnv(t, domain.AccessRed)
	svc := projecttask.New(env.Engine, env.Engine, env.Engine.Repo, nil)
	task, err := svc.Create(env.Ctx, domain.TaskMutation{Title: str("guarded"), PerformerID: domain.SetID(env.Owner.ID)}, env.Project, env.Owner)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Update(env.Ctx, task.SequenceNumber, domain.TaskMutation{Title: str("nope")}, env.Project, env.Member); !errors.As(err, &auth.ForbiddenError{}) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	status := domain.StatusReview
	moved, err := svc.Move(env.Ctx, task.SequenceNumber, env.Project, env.Member, domain.TaskMove{Status: &status})
	if err != nil || moved.Status != domain.StatusReview {
		t.Fatalf("move: %+v err=%v", moved, err)
	}
	outsider, err := env.Engine.CreateUser(env.Ctx, "outsider@example.com", "")
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	_, err = svc.Update(env.Ctx, task.SequenceNumber, domain.TaskMutation{PerformerID: domain.SetID(outsider.ID)}, env.Project, env.Owner)
	var verr resolve.ValidationError
	if !errors.As(err, &verr) || verr.Message != resolve.MsgPerformerNotFound {
		t.Fatalf("expected performer validation, got %v", err)
	}
	_, ok, err := svc.Delete(env.Ctx, 404, env.Project.ID)
	if err != nil || ok {
		t.Fatalf("expected soft miss, got ok=%v err=%v", ok, err)
	}
}
