// Package resolve turns the association ids of a partial task mutation into
// entity references validated against one project.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"tasktrack/internal/domain"
	"tasktrack/internal/repo"
)

// ValidationError reports an association that does not resolve in the target project.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

const (
	MsgTypeNotFound      = "task type not found in this project"
	MsgPerformerNotFound = "performer not found in this project"
	MsgUsersNotFound     = "not all users were found"
)

// Directory is the read side the resolver needs. repo.Repo satisfies it.
type Directory interface {
	FindMembership(ctx context.Context, projectID, userID int64) (domain.Membership, error)
	FindProjectTaskType(ctx context.Context, projectID, typeID int64) (domain.ProjectTaskType, error)
	FindUsersByIDs(ctx context.Context, ids []int64) ([]domain.User, error)
}

type Resolver struct {
	Dir Directory
}

// Resolve validates m against projectID and returns the patch to commit.
// Absent fields stay untouched, explicit clears are carried through.
func (r Resolver) Resolve(ctx context.Context, m domain.TaskMutation, projectID int64) (domain.TaskPatch, error) {
	p := domain.TaskPatch{
		Title:       m.Title,
		Description: m.Description,
		Value:       m.Value,
		ClearValue:  m.ClearValue,
		Source:      m.Source,
		Status:      m.Status,
	}
	if m.TypeID.Present() {
		p.TypeSet = true
		if id, ok := m.TypeID.Value(); ok {
			ptt, err := r.Dir.FindProjectTaskType(ctx, projectID, id)
			if err != nil {
				return domain.TaskPatch{}, notFoundAs(err, ValidationError{Field: "type_id", Message: MsgTypeNotFound})
			}
			tt := ptt.TaskType
			p.Type = &tt
		}
	}
	if m.PerformerID.Present() {
		p.PerformerSet = true
		if id, ok := m.PerformerID.Value(); ok {
			ms, err := r.Dir.FindMembership(ctx, projectID, id)
			if err != nil {
				return domain.TaskPatch{}, notFoundAs(err, ValidationError{Field: "performer_id", Message: MsgPerformerNotFound})
			}
			u := ms.Member
			p.Performer = &u
		}
	}
	if m.Users.Present() {
		p.UsersSet = true
		p.Users = []domain.User{}
		if ids := m.Users.Values(); len(ids) > 0 {
			users, err := r.Dir.FindUsersByIDs(ctx, ids)
			if err != nil {
				return domain.TaskPatch{}, err
			}
			// Repeated ids resolve once, so they fail the completeness check too.
			if len(users) != len(ids) {
				return domain.TaskPatch{}, ValidationError{Field: "users", Message: MsgUsersNotFound}
			}
			p.Users = users
		}
	}
	return p, nil
}

func notFoundAs(err error, verr ValidationError) error {
	if errors.Is(err, repo.ErrNotFound) {
		return verr
	}
	return err
}
