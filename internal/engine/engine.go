package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tasktrack/internal/config"
	"tasktrack/internal/domain"
	"tasktrack/internal/engine/resolve"
	"tasktrack/internal/events"
	"tasktrack/internal/repo"
)

var (
	ErrOwnerRequired = errors.New("project owner required")
	ErrLastOwner     = errors.New("cannot remove the last project owner")
	ErrNotAuthor     = errors.New("only the author may change a work entry")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

type actorKey struct{}

// WithActor records the acting user for operations whose signature does not carry one.
func WithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func actorFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(actorKey{}).(int64)
	return id
}

// inTx runs fn inside a transaction bound to a tx-scoped repo.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx, r repo.Repo) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx, e.Repo.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

func idStr(v int64) string {
	return strconv.FormatInt(v, 10)
}

// --- users ---

func (e Engine) CreateUser(ctx context.Context, email, name string) (domain.User, error) {
	if strings.TrimSpace(email) == "" {
		return domain.User{}, resolve.ValidationError{Field: "email", Message: "email is required"}
	}
	return e.Repo.InsertUser(ctx, domain.User{Email: email, Name: name, CreatedAt: e.timestamp()})
}

// --- projects & memberships ---

// CreateProject creates a project owned by owner and allows the configured
// seed task types in it.
func (e Engine) CreateProject(ctx context.Context, title string, level *domain.AccessLevel, owner domain.User) (domain.Project, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Project{}, resolve.ValidationError{Field: "title", Message: "title is required"}
	}
	p := domain.Project{Title: title, AccessLevel: e.Config.DefaultProjectLevel(), CreatedAt: e.timestamp()}
	if level != nil {
		if !level.Valid() {
			return domain.Project{}, resolve.ValidationError{Field: "access_level", Message: "invalid access level"}
		}
		p.AccessLevel = *level
	}
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if p, err = r.InsertProject(ctx, p); err != nil {
			return err
		}
		if err := r.AddMembership(ctx, p.ID, owner.ID, domain.RoleOwner); err != nil {
			return fmt.Errorf("add owner: %w", err)
		}
		for _, title := range e.Config.TaskTypes {
			tt, err := r.EnsureTaskType(ctx, title)
			if err != nil {
				return fmt.Errorf("seed task type %s: %w", title, err)
			}
			if err := r.AllowTaskType(ctx, p.ID, tt.ID); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", idStr(p.ID), owner.ID,
			events.EventPayload{"title": p.Title, "access_level": p.AccessLevel.String()})
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) ensureOwner(ctx context.Context, r repo.Repo, projectID, userID int64) error {
	m, err := r.FindMembership(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrOwnerRequired
		}
		return err
	}
	if !m.IsOwner {
		return ErrOwnerRequired
	}
	return nil
}

func (e Engine) UpdateProject(ctx context.Context, projectID int64, title *string, level *domain.AccessLevel, actor domain.User) (domain.Project, error) {
	if level != nil && !level.Valid() {
		return domain.Project{}, resolve.ValidationError{Field: "access_level", Message: "invalid access level"}
	}
	if title != nil && strings.TrimSpace(*title) == "" {
		return domain.Project{}, resolve.ValidationError{Field: "title", Message: "title must not be empty"}
	}
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if _, err := r.GetProject(ctx, projectID); err != nil {
			return err
		}
		if err := e.ensureOwner(ctx, r, projectID, actor.ID); err != nil {
			return err
		}
		if err := r.UpdateProject(ctx, projectID, title, level); err != nil {
			return err
		}
		payload := events.EventPayload{}
		if title != nil {
			payload["title"] = *title
		}
		if level != nil {
			payload["access_level"] = level.String()
		}
		return e.Events.Append(ctx, tx, events.ProjectUpdated, projectID, "project", idStr(projectID), actor.ID, payload)
	})
	if err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, projectID)
}

func (e Engine) DeleteProject(ctx context.Context, projectID int64, actor domain.User) error {
	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if _, err := r.GetProject(ctx, projectID); err != nil {
			return err
		}
		if err := e.ensureOwner(ctx, r, projectID, actor.ID); err != nil {
			return err
		}
		if err := r.DeleteProject(ctx, projectID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.ProjectDeleted, projectID, "project", idStr(projectID), actor.ID, nil)
	})
}

func (e Engine) AddMember(ctx context.Context, projectID, userID int64, role string, actor domain.User) (domain.Membership, error) {
	if role == "" {
		role = domain.RoleMember
	}
	if role != domain.RoleMember && role != domain.RoleOwner {
		return domain.Membership{}, resolve.ValidationError{Field: "role", Message: "role must be owner or member"}
	}
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := e.ensureOwner(ctx, r, projectID, actor.ID); err != nil {
			return err
		}
		if _, err := r.GetUser(ctx, userID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return resolve.ValidationError{Field: "user_id", Message: "user not found"}
			}
			return err
		}
		if role == domain.RoleMember {
			if err := e.keepOneOwner(ctx, r, projectID, userID); err != nil {
				return err
			}
		}
		if err := r.AddMembership(ctx, projectID, userID, role); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.MemberAdded, projectID, "membership", idStr(userID), actor.ID, events.EventPayload{"role": role})
	})
	if err != nil {
		return domain.Membership{}, err
	}
	return e.Repo.FindMembership(ctx, projectID, userID)
}

// RemoveMember removes userID from the project. Owners may remove anyone and
// members may remove themselves.
func (e Engine) RemoveMember(ctx context.Context, projectID, userID int64, actor domain.User) error {
	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if actor.ID != userID {
			if err := e.ensureOwner(ctx, r, projectID, actor.ID); err != nil {
				return err
			}
		}
		if err := e.keepOneOwner(ctx, r, projectID, userID); err != nil {
			return err
		}
		if err := r.RemoveMembership(ctx, projectID, userID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.MemberRemoved, projectID, "membership", idStr(userID), actor.ID, nil)
	})
}

// keepOneOwner fails when userID is the project's only owner.
func (e Engine) keepOneOwner(ctx context.Context, r repo.Repo, projectID, userID int64) error {
	m, err := r.FindMembership(ctx, projectID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !m.IsOwner {
		return nil
	}
	n, err := r.CountOwners(ctx, projectID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastOwner
	}
	return nil
}

// --- task types ---

func (e Engine) CreateTaskType(ctx context.Context, title string, actor domain.User) (domain.TaskType, error) {
	if strings.TrimSpace(title) == "" {
		return domain.TaskType{}, resolve.ValidationError{Field: "title", Message: "title is required"}
	}
	var tt domain.TaskType
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if tt, err = r.InsertTaskType(ctx, title); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskTypeCreated, 0, "task_type", idStr(tt.ID), actor.ID, events.EventPayload{"title": tt.Title})
	})
	return tt, err
}

func (e Engine) UpdateTaskType(ctx context.Context, typeID int64, title string, actor domain.User) (domain.TaskType, error) {
	if strings.TrimSpace(title) == "" {
		return domain.TaskType{}, resolve.ValidationError{Field: "title", Message: "title is required"}
	}
	var tt domain.TaskType
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		var err error
		if tt, err = r.UpdateTaskType(ctx, typeID, title); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskTypeUpdated, 0, "task_type", idStr(tt.ID), actor.ID, events.EventPayload{"title": tt.Title})
	})
	return tt, err
}

func (e Engine) DeleteTaskType(ctx context.Context, typeID int64, actor domain.User) error {
	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.DeleteTaskType(ctx, typeID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskTypeDeleted, 0, "task_type", idStr(typeID), actor.ID, nil)
	})
}

func (e Engine) AllowTaskType(ctx context.Context, projectID, typeID int64, actor domain.User) (domain.ProjectTaskType, error) {
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := e.ensureOwner(ctx, r, projectID, actor.ID); err != nil {
			return err
		}
		if _, err := r.GetTaskType(ctx, typeID); err != nil {
			return err
		}
		if err := r.AllowTaskType(ctx, projectID, typeID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskTypeAllowed, projectID, "task_type", idStr(typeID), actor.ID, nil)
	})
	if err != nil {
		return domain.ProjectTaskType{}, err
	}
	return e.Repo.FindProjectTaskType(ctx, projectID, typeID)
}

func (e Engine) DisallowTaskType(ctx context.Context, projectID, typeID int64, actor domain.User) error {
	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := e.ensureOwner(ctx, r, projectID, actor.ID); err != nil {
			return err
		}
		if err := r.DisallowTaskType(ctx, projectID, typeID); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.TaskTypeDisallowed, projectID, "task_type", idStr(typeID), actor.ID, nil)
	})
}
