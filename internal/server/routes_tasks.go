package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tasktrack/internal/domain"
	"tasktrack/internal/engine"
	"tasktrack/internal/engine/projecttask"
)

type taskPath struct {
	ProjectID int64 `path:"project_id"`
	Seq       int64 `path:"seq"`
}

func registerTasks(api huma.API, e engine.Engine, tasks projecttask.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List project tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
		Offset    int   `query:"offset"`
		Limit     int   `query:"limit"`
	}) (*struct {
		Body projecttask.ListResult `json:"body"`
	}, error) {
		if _, _, err := requireMember(ctx, e, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		res, err := tasks.List(ctx, input.ProjectID, normalizePage(e, input.Offset, input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body projecttask.ListResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID int64       `path:"project_id"`
		Body      TaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		project, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := tasks.Create(ctx, input.Body.mutation(rawBodyMap(ctx)), project, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{seq}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if _, _, err := requireMember(ctx, e, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		t, err := tasks.GetOne(ctx, input.Seq, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/tasks/{seq}",
		Summary:     "Update task",
		Description: "Only the fields present in the body change. Explicit null clears value, type_id and performer_id; null or [] clears users.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID int64       `path:"project_id"`
		Seq       int64       `path:"seq"`
		Body      TaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		bodyMap := rawBodyMap(ctx)
		if len(bodyMap) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "no fields to update", nil)
		}
		project, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := tasks.Update(ctx, input.Seq, input.Body.mutation(bodyMap), project, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{seq}/move",
		Summary:     "Move task to another status or position",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID int64           `path:"project_id"`
		Seq       int64           `path:"seq"`
		Body      MoveTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if input.Body.Status == nil && input.Body.Position == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status or position is required", nil)
		}
		project, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		move := domain.TaskMove{Status: input.Body.Status, Position: input.Body.Position}
		t, err := tasks.Move(ctx, input.Seq, project, user, move)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/tasks/{seq}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body DeleteTaskResponse `json:"body"`
	}, error) {
		_, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		t, deleted, err := tasks.Delete(engine.WithActor(ctx, user.ID), input.Seq, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if !deleted {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("task %d not found", input.Seq),
				map[string]any{"deleted": false})
		}
		return &struct {
			Body DeleteTaskResponse `json:"body"`
		}{Body: DeleteTaskResponse{Deleted: true, Task: &t}}, nil
	})
}

func registerWork(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "log-work",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks/{seq}/work",
		Summary:       "Log work against a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ProjectID int64          `path:"project_id"`
		Seq       int64          `path:"seq"`
		Body      LogWorkRequest `json:"body"`
	}) (*struct {
		Body domain.WorkEntry `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		_, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		w, err := e.LogWork(ctx, input.ProjectID, input.Seq, input.Body.entry(), user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkEntry `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{seq}/work",
		Summary:     "List work logged against a task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []domain.WorkEntry `json:"body"`
	}, error) {
		if _, _, err := requireMember(ctx, e, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListWork(ctx, input.ProjectID, input.Seq)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkEntry `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	type workPath struct {
		ProjectID int64 `path:"project_id"`
		ID        int64 `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-work",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/work/{id}",
		Summary:     "Get a work entry",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *workPath) (*struct {
		Body domain.WorkEntry `json:"body"`
	}, error) {
		if _, _, err := requireMember(ctx, e, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		w, err := e.GetWork(ctx, input.ProjectID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkEntry `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/work/{id}",
		Summary:     "Update a work entry",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID int64             `path:"project_id"`
		ID        int64             `path:"id"`
		Body      UpdateWorkRequest `json:"body"`
	}) (*struct {
		Body domain.WorkEntry `json:"body"`
	}, error) {
		bodyMap := rawBodyMap(ctx)
		if len(bodyMap) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "no fields to update", nil)
		}
		_, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		w, err := e.UpdateWork(ctx, input.ProjectID, input.ID, input.Body.update(bodyMap), user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkEntry `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-work",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/work/{id}",
		Summary:       "Delete a work entry",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *workPath) (*struct{}, error) {
		_, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteWork(ctx, input.ProjectID, input.ID, user); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
