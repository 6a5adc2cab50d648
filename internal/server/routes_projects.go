package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"tasktrack/internal/domain"
	"tasktrack/internal/engine"
	"tasktrack/internal/repo"
)

type projectPath struct {
	ProjectID int64 `path:"project_id"`
}

func accessLevelPtr(v *int) *domain.AccessLevel {
	if v == nil {
		return nil
	}
	l := domain.AccessLevel(*v)
	return &l
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user and their projects",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		user, err := currentUser(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		projects, err := e.Repo.ListProjects(ctx, user.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{User: user, Projects: nonNilSlice(projects)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Create an API key for the current user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		user, err := currentUser(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		secret := "tt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		key := domain.APIKey{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Name:      strings.TrimSpace(input.Body.Name),
			KeyHash:   repo.HashAPIKey(secret),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{Key: secret, APIKey: key}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List the current user's API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		user, err := currentUser(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, user.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: nonNilSlice(keys)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-api-key",
		Method:        http.MethodDelete,
		Path:          "/me/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		user, err := currentUser(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, user.ID)
		if err != nil {
			return nil, handleError(err)
		}
		for _, k := range keys {
			if k.ID == input.ID {
				if err := e.Repo.DeleteAPIKey(ctx, k.ID); err != nil {
					return nil, handleError(err)
				}
				return nil, nil
			}
		}
		return nil, newAPIError(http.StatusNotFound, "not_found", "api key not found", nil)
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Email) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "email is required", nil)
		}
		u, err := e.CreateUser(ctx, input.Body.Email, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, err := e.Repo.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for an existing user",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		var (
			user domain.User
			err  error
		)
		switch {
		case input.Body.UserID != 0:
			user, err = e.Repo.GetUser(ctx, input.Body.UserID)
		case strings.TrimSpace(input.Body.Email) != "":
			user, err = e.Repo.GetUserByEmail(ctx, input.Body.Email)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id or email is required", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		token, err := SignToken(authCfg.JWTSecret, user.ID, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token, User: user}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		user, err := currentUser(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.CreateProject(ctx, input.Body.Title, accessLevelPtr(input.Body.AccessLevel), user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List the caller's projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		user, err := currentUser(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListProjects(ctx, user.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, _, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Rename a project or change its access level",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64                `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if input.Body.Title == nil && input.Body.AccessLevel == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title or access_level is required", nil)
		}
		_, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := e.UpdateProject(ctx, input.ProjectID, input.Body.Title, accessLevelPtr(input.Body.AccessLevel), user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		_, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteProject(ctx, input.ProjectID, user); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectStatusResponse `json:"body"`
	}, error) {
		p, _, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountTasksByStatus(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		types, err := e.Repo.ListProjectTaskTypes(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectStatusResponse `json:"body"`
		}{Body: ProjectStatusResponse{
			Project:    p,
			TaskCounts: counts,
			TaskTypes:  nonNilSlice(types),
		}}, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/members",
		Summary:     "List project members",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.Membership `json:"body"`
	}, error) {
		if _, _, err := requireMember(ctx, e, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMemberships(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Membership `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-member",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/members",
		Summary:     "Add a member or change their role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID int64            `path:"project_id"`
		Body      AddMemberRequest `json:"body"`
	}) (*struct {
		Body domain.Membership `json:"body"`
	}, error) {
		if input.Body.UserID == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		_, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		m, err := e.AddMember(ctx, input.ProjectID, input.Body.UserID, input.Body.Role, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Membership `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-member",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/members/{user_id}",
		Summary:       "Remove a member",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
		UserID    int64 `path:"user_id"`
	}) (*struct{}, error) {
		_, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.RemoveMember(ctx, input.ProjectID, input.UserID, user); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerTaskTypes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task-type",
		Method:        http.MethodPost,
		Path:          "/task-types",
		Summary:       "Create a task type",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body TaskTypeRequest `json:"body"`
	}) (*struct {
		Body domain.TaskType `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		user, err := currentUser(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		tt, err := e.CreateTaskType(ctx, input.Body.Title, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskType `json:"body"`
		}{Body: tt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-task-types",
		Method:      http.MethodGet,
		Path:        "/task-types",
		Summary:     "List task types",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.TaskType `json:"body"`
	}, error) {
		items, err := e.Repo.ListTaskTypes(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TaskType `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-type",
		Method:      http.MethodPatch,
		Path:        "/task-types/{id}",
		Summary:     "Rename a task type",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   int64           `path:"id"`
		Body TaskTypeRequest `json:"body"`
	}) (*struct {
		Body domain.TaskType `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		user, err := currentUser(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		tt, err := e.UpdateTaskType(ctx, input.ID, input.Body.Title, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskType `json:"body"`
		}{Body: tt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task-type",
		Method:        http.MethodDelete,
		Path:          "/task-types/{id}",
		Summary:       "Delete a task type",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		user, err := currentUser(ctx, e)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteTaskType(ctx, input.ID, user); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-task-types",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/task-types",
		Summary:     "Task types allowed in a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body []domain.TaskType `json:"body"`
	}, error) {
		if _, _, err := requireMember(ctx, e, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListProjectTaskTypes(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TaskType `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "allow-task-type",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/task-types/{type_id}",
		Summary:     "Allow a task type in a project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
		TypeID    int64 `path:"type_id"`
	}) (*struct {
		Body domain.ProjectTaskType `json:"body"`
	}, error) {
		_, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		ptt, err := e.AllowTaskType(ctx, input.ProjectID, input.TypeID, user)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectTaskType `json:"body"`
		}{Body: ptt}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "disallow-task-type",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/task-types/{type_id}",
		Summary:       "Remove a task type from a project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID int64 `path:"project_id"`
		TypeID    int64 `path:"type_id"`
	}) (*struct{}, error) {
		_, user, err := requireMember(ctx, e, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.DisallowTaskType(ctx, input.ProjectID, input.TypeID, user); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List project events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  int64  `path:"project_id"`
		Limit      int    `query:"limit"`
		Cursor     int64  `query:"cursor"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if input.Limit < 0 || input.Cursor < 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "limit and cursor must not be negative", nil)
		}
		if _, _, err := requireMember(ctx, e, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		page := normalizePage(e, 0, input.Limit)
		items, err := e.Repo.LatestEventsFrom(ctx, page.Limit, input.Cursor, repo.EventFilter{
			ProjectID:  input.ProjectID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		var next *int64
		if len(items) == page.Limit && len(items) > 0 {
			id := items[len(items)-1].ID
			next = &id
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: paginatedEvents{Items: nonNilSlice(items), NextCursor: next}}, nil
	})
}
