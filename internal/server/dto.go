package server

import (
	"encoding/json"
	"time"

	"tasktrack/internal/domain"
	"tasktrack/internal/engine"
)

// Request payloads

type CreateUserRequest struct {
	Email string `json:"email" format:"email"`
	Name  string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	UserID int64  `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

type CreateProjectRequest struct {
	Title       string `json:"title"`
	AccessLevel *int   `json:"access_level,omitempty" enum:"1,2,3"`
}

type UpdateProjectRequest struct {
	Title       *string `json:"title,omitempty"`
	AccessLevel *int    `json:"access_level,omitempty" enum:"1,2,3"`
}

type AddMemberRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role,omitempty" enum:"owner,member"`
}

type TaskTypeRequest struct {
	Title string `json:"title"`
}

// TaskRequest is shared by create and update. Absent keys leave a field
// untouched; an explicit null clears it.
type TaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Value       *int64  `json:"value,omitempty" nullable:"true"`
	Source      *string `json:"source,omitempty"`
	Status      *string `json:"status,omitempty" enum:"new,in_progress,review,done,canceled"`
	TypeID      *int64  `json:"type_id,omitempty" nullable:"true"`
	PerformerID *int64  `json:"performer_id,omitempty" nullable:"true"`
	Users       []int64 `json:"users,omitempty" nullable:"true"`
}

// mutation maps the decoded body onto a TaskMutation using raw to detect
// which keys were sent.
func (r TaskRequest) mutation(raw map[string]json.RawMessage) domain.TaskMutation {
	m := domain.TaskMutation{
		Title:       r.Title,
		Description: r.Description,
		Source:      r.Source,
		Status:      r.Status,
	}
	if v, ok := raw["value"]; ok {
		if isNullRaw(v) {
			m.ClearValue = true
		} else {
			m.Value = r.Value
		}
	}
	if _, ok := raw["type_id"]; ok {
		m.TypeID = domain.IDFromPtr(r.TypeID)
	}
	if _, ok := raw["performer_id"]; ok {
		m.PerformerID = domain.IDFromPtr(r.PerformerID)
	}
	if _, ok := raw["users"]; ok {
		m.Users = domain.SetIDs(r.Users)
	}
	return m
}

type MoveTaskRequest struct {
	Status   *string `json:"status,omitempty" enum:"new,in_progress,review,done,canceled"`
	Position *int64  `json:"position,omitempty" minimum:"0"`
}

type LogWorkRequest struct {
	Description string     `json:"description,omitempty"`
	StartAt     time.Time  `json:"start_at"`
	FinishAt    *time.Time `json:"finish_at,omitempty"`
	Value       *int64     `json:"value,omitempty"`
	Source      string     `json:"source,omitempty"`
	TaskTypeID  *int64     `json:"task_type_id,omitempty"`
}

func (r LogWorkRequest) entry() domain.WorkEntry {
	return domain.WorkEntry{
		Description: r.Description,
		StartAt:     r.StartAt,
		FinishAt:    r.FinishAt,
		Value:       r.Value,
		Source:      r.Source,
		TaskTypeID:  r.TaskTypeID,
	}
}

type UpdateWorkRequest struct {
	Description *string    `json:"description,omitempty"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	FinishAt    *time.Time `json:"finish_at,omitempty" nullable:"true"`
	Value       *int64     `json:"value,omitempty" nullable:"true"`
	Source      *string    `json:"source,omitempty"`
	TaskTypeID  *int64     `json:"task_type_id,omitempty" nullable:"true"`
}

func (r UpdateWorkRequest) update(raw map[string]json.RawMessage) engine.WorkUpdate {
	u := engine.WorkUpdate{
		Description: r.Description,
		StartAt:     r.StartAt,
		Source:      r.Source,
	}
	if v, ok := raw["finish_at"]; ok {
		if isNullRaw(v) {
			u.ClearFinish = true
		} else {
			u.FinishAt = r.FinishAt
		}
	}
	if v, ok := raw["value"]; ok {
		if isNullRaw(v) {
			u.ClearValue = true
		} else {
			u.Value = r.Value
		}
	}
	if _, ok := raw["task_type_id"]; ok {
		u.TaskTypeID = domain.IDFromPtr(r.TaskTypeID)
	}
	return u
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type MeResponse struct {
	User     domain.User      `json:"user"`
	Projects []domain.Project `json:"projects"`
}

type ProjectStatusResponse struct {
	Project    domain.Project    `json:"project"`
	TaskCounts map[string]int    `json:"task_counts"`
	TaskTypes  []domain.TaskType `json:"task_types"`
}

// DeleteTaskResponse reports whether the task existed.
type DeleteTaskResponse struct {
	Deleted bool         `json:"deleted"`
	Task    *domain.Task `json:"task,omitempty"`
}

type CreateAPIKeyResponse struct {
	Key    string        `json:"key"`
	APIKey domain.APIKey `json:"api_key"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor *int64         `json:"next_cursor,omitempty"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
