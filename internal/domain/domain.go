package domain

import (
	"fmt"
	"strings"
	"time"
)

// AccessLevel is the ordered permissiveness setting of a project.
// Higher values are more open.
type AccessLevel int

const (
	AccessRed    AccessLevel = 1
	AccessYellow AccessLevel = 2
	AccessGreen  AccessLevel = 3
)

func (l AccessLevel) String() string {
	switch l {
	case AccessRed:
		return "red"
	case AccessYellow:
		return "yellow"
	case AccessGreen:
		return "green"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

func (l AccessLevel) Valid() bool {
	return l >= AccessRed && l <= AccessGreen
}

// ParseAccessLevel accepts the level name or its numeric value.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "red", "1":
		return AccessRed, nil
	case "yellow", "2":
		return AccessYellow, nil
	case "green", "3":
		return AccessGreen, nil
	}
	return 0, fmt.Errorf("invalid access level %q", s)
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	AccessLevel AccessLevel `json:"access_level" enum:"1,2,3"`
	CreatedAt   string      `json:"created_at" format:"date-time"`
}

type Membership struct {
	ProjectID int64  `json:"project_id"`
	UserID    int64  `json:"user_id"`
	Role      string `json:"role" enum:"owner,member"`
	IsOwner   bool   `json:"is_owner"`
	JoinedAt  string `json:"joined_at" format:"date-time"`
	Member    User   `json:"member"`
}

type TaskType struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// ProjectTaskType records that a task type may be used inside a project.
type ProjectTaskType struct {
	ProjectID  int64    `json:"project_id"`
	TaskTypeID int64    `json:"task_type_id"`
	TaskType   TaskType `json:"task_type"`
}

type Task struct {
	ID             int64     `json:"id"`
	SequenceNumber int64     `json:"sequence_number"`
	ProjectID      int64     `json:"project_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Value          *int64    `json:"value,omitempty"`
	Source         string    `json:"source,omitempty"`
	Status         string    `json:"status"`
	Position       int64     `json:"position"`
	TypeID         *int64    `json:"type_id,omitempty"`
	Type           *TaskType `json:"type,omitempty"`
	PerformerID    *int64    `json:"performer_id,omitempty"`
	Performer      *User     `json:"performer,omitempty"`
	Users          []User    `json:"users"`
	AuthorID       int64     `json:"author_id"`
	CreatedAt      string    `json:"created_at" format:"date-time"`
	UpdatedAt      string    `json:"updated_at" format:"date-time"`
}

// IsPerformer reports whether userID is the task's current performer.
func (t Task) IsPerformer(userID int64) bool {
	return t.PerformerID != nil && *t.PerformerID == userID
}

const (
	StatusNew        = "new"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusDone       = "done"
	StatusCanceled   = "canceled"
)

// WorkEntry is time or value logged by a user against a task.
type WorkEntry struct {
	ID          int64      `json:"id"`
	Description string     `json:"description,omitempty"`
	StartAt     time.Time  `json:"start_at"`
	FinishAt    *time.Time `json:"finish_at,omitempty"`
	Value       *int64     `json:"value,omitempty"`
	Source      string     `json:"source,omitempty"`
	UserID      int64      `json:"user_id"`
	TaskID      int64      `json:"task_id"`
	TaskTypeID  *int64     `json:"task_type_id,omitempty"`
	TaskType    *TaskType  `json:"task_type,omitempty"`
	Task        *Task      `json:"-"`
}

// ProjectID is derived from the loaded task; it is never stored.
func (w WorkEntry) ProjectID() int64 {
	if w.Task == nil {
		return 0
	}
	return w.Task.ProjectID
}

// Validate checks the time span invariant.
func (w WorkEntry) Validate() error {
	if w.StartAt.IsZero() {
		return fmt.Errorf("start_at is required")
	}
	if w.FinishAt != nil && w.FinishAt.Before(w.StartAt) {
		return fmt.Errorf("finish_at must not be before start_at")
	}
	return nil
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  int64  `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    int64  `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Page is an offset window over a listing.
type Page struct {
	Offset int
	Limit  int
}
