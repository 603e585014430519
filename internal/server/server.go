package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Store    store.Store
	Events   events.Writer
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"task 42 not found"`
}

type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	default:
		return "internal"
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error())
	}
	return newAPIError(http.StatusInternalServerError, "internal", err.Error())
}

// New returns an HTTP handler exposing the queue API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Taskline API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTasks(group, cfg.Store, cfg.Events)
	registerStats(group, cfg.Store)
	registerEvents(group, cfg.Events)

	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		}
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			}
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

type taskListResponse struct {
	Body struct {
		Items []domain.Task `json:"items"`
	}
}

type taskResponse struct {
	Body domain.Task `json:"body"`
}

func registerTasks(api huma.API, s store.Store, ev events.Writer) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks newest first",
	}, func(ctx context.Context, _ *struct{}) (*taskListResponse, error) {
		items, err := s.ListTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &taskListResponse{}
		resp.Body.Items = items
		return resp, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Task detail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*taskResponse, error) {
		t, err := s.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskResponse{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Enqueue a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*taskResponse, error) {
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required")
		}
		if input.Body.RepoPath == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "repo_path is required")
		}
		if input.Body.Request == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "request is required")
		}
		id, err := s.AddTask(ctx, store.NewTask{
			Title:             input.Body.Title,
			RepoPath:          input.Body.RepoPath,
			Request:           input.Body.Request,
			Constraints:       input.Body.Constraints,
			Acceptance:        input.Body.Acceptance,
			PreferredProvider: input.Body.PreferredProvider,
			DependsOnTaskID:   input.Body.DependsOnTaskID,
			Priority:          input.Body.Priority,
			RunAfter:          input.Body.RunAfter,
		})
		if err != nil {
			return nil, handleError(err)
		}
		_ = ev.Append(ctx, "task.added", id, events.EventPayload{"title": input.Body.Title})
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskResponse{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/cancel",
		Summary:     "Cancel a queued task",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*taskResponse, error) {
		changed, err := s.CancelTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !changed {
			return nil, newAPIError(http.StatusConflict, "conflict", "task is not queued")
		}
		_ = ev.Append(ctx, "task.canceled", input.ID, nil)
		t, err := s.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskResponse{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "peek-next-task",
		Method:      http.MethodGet,
		Path:        "/tasks/next",
		Summary:     "Preview the next claimable task",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Task *domain.Task `json:"task,omitempty"`
		}
	}, error) {
		t, err := s.PeekNextTask(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Task *domain.Task `json:"task,omitempty"`
			}
		}{}
		resp.Body.Task = t
		return resp, nil
	})
}

func registerStats(api huma.API, s store.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "queue-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Task counts by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Counts map[string]int `json:"counts"`
		}
	}, error) {
		counts, err := s.CountByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Counts map[string]int `json:"counts"`
			}
		}{}
		resp.Body.Counts = counts
		return resp, nil
	})
}

func registerEvents(api huma.API, w events.Writer) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest queue events",
	}, func(ctx context.Context, input *struct {
		N    int    `query:"n" default:"20"`
		Type string `query:"type"`
	}) (*struct {
		Body struct {
			Items []domain.Event `json:"items"`
		}
	}, error) {
		items, err := w.Latest(ctx, input.N, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := &struct {
			Body struct {
				Items []domain.Event `json:"items"`
			}
		}{}
		resp.Body.Items = items
		return resp, nil
	})
}
