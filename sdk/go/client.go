package tasktracksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal tasktrack HTTP API client bound to one project.
type Client struct {
	BaseURL     string
	BasePath    string
	ProjectID   int64
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string, projectID int64) *Client {
	return &Client{
		BaseURL:   baseURL,
		BasePath:  "/v1",
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type TaskType struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Task represents the API task model.
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
	Type           *TaskType `json:"type,omitempty"`
	Performer      *User     `json:"performer,omitempty"`
	Users          []User    `json:"users"`
}

type TaskList struct {
	List  []Task `json:"list"`
	Total int    `json:"total"`
}

// WorkEntry is work logged against a task.
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
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  int64  `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    int64  `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor *int64  `json:"next_cursor"`
}

// TaskChanges collects the fields of a create or update. Fields never set are
// not sent, so the server leaves them untouched.
type TaskChanges struct {
	fields map[string]any
}

func (c *TaskChanges) set(key string, v any) *TaskChanges {
	if c.fields == nil {
		c.fields = map[string]any{}
	}
	c.fields[key] = v
	return c
}

func (c *TaskChanges) Title(v string) *TaskChanges       { return c.set("title", v) }
func (c *TaskChanges) Description(v string) *TaskChanges { return c.set("description", v) }
func (c *TaskChanges) Source(v string) *TaskChanges      { return c.set("source", v) }
func (c *TaskChanges) Status(v string) *TaskChanges      { return c.set("status", v) }
func (c *TaskChanges) Value(v int64) *TaskChanges        { return c.set("value", v) }
func (c *TaskChanges) ClearValue() *TaskChanges          { return c.set("value", nil) }
func (c *TaskChanges) Type(id int64) *TaskChanges        { return c.set("type_id", id) }
func (c *TaskChanges) ClearType() *TaskChanges           { return c.set("type_id", nil) }
func (c *TaskChanges) Performer(id int64) *TaskChanges   { return c.set("performer_id", id) }
func (c *TaskChanges) ClearPerformer() *TaskChanges      { return c.set("performer_id", nil) }

// Users replaces the collaborators; no ids clears them.
func (c *TaskChanges) Users(ids ...int64) *TaskChanges {
	if ids == nil {
		ids = []int64{}
	}
	return c.set("users", ids)
}

func (c *TaskChanges) body() map[string]any {
	if c == nil || c.fields == nil {
		return map[string]any{}
	}
	return c.fields
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsForbidden reports whether err is an access-level refusal.
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// ListTasks returns one page of the project's tasks.
func (c *Client) ListTasks(ctx context.Context, offset, limit int) (TaskList, error) {
	q := url.Values{}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := c.projectPath("tasks")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp TaskList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, seq int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.projectPath(fmt.Sprintf("tasks/%d", seq)), nil, &resp)
	return resp, err
}

// CreateTask creates a task. changes must set a title.
func (c *Client) CreateTask(ctx context.Context, changes *TaskChanges) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), changes.body(), &resp)
	return resp, err
}

// UpdateTask sends only the fields set on changes.
func (c *Client) UpdateTask(ctx context.Context, seq int64, changes *TaskChanges) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, c.projectPath(fmt.Sprintf("tasks/%d", seq)), changes.body(), &resp)
	return resp, err
}

// MoveTask changes the status and/or position of a task. Nil arguments are left out.
func (c *Client) MoveTask(ctx context.Context, seq int64, status *string, position *int64) (Task, error) {
	body := map[string]any{}
	if status != nil {
		body["status"] = *status
	}
	if position != nil {
		body["position"] = *position
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("tasks/%d/move", seq)), body, &resp)
	return resp, err
}

// DeleteTask deletes a task and returns its last state. A missing task
// returns false and no error.
func (c *Client) DeleteTask(ctx context.Context, seq int64) (Task, bool, error) {
	var resp struct {
		Deleted bool  `json:"deleted"`
		Task    *Task `json:"task"`
	}
	err := c.do(ctx, http.MethodDelete, c.projectPath(fmt.Sprintf("tasks/%d", seq)), nil, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound && apiErr.Details["deleted"] == false {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	if resp.Task == nil {
		return Task{}, resp.Deleted, nil
	}
	return *resp.Task, resp.Deleted, nil
}

// LogWork records work against task seq.
func (c *Client) LogWork(ctx context.Context, seq int64, entry WorkEntry) (WorkEntry, error) {
	body := map[string]any{"start_at": entry.StartAt}
	if entry.Description != "" {
		body["description"] = entry.Description
	}
	if entry.FinishAt != nil {
		body["finish_at"] = entry.FinishAt
	}
	if entry.Value != nil {
		body["value"] = *entry.Value
	}
	if entry.Source != "" {
		body["source"] = entry.Source
	}
	if entry.TaskTypeID != nil {
		body["task_type_id"] = *entry.TaskTypeID
	}
	var resp WorkEntry
	err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("tasks/%d/work", seq)), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, 0)
	return page.Items, err
}

// EventsPage returns events older than cursor, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor int64) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprint(cursor))
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message, apiErr.Details = env.Error.Code, env.Error.Message, env.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	return fmt.Sprintf("%s/projects/%d/%s", strings.Trim(c.BasePath, "/"), c.ProjectID, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
