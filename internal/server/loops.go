package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"loopz/internal/domain"
	"loopz/internal/engine"
)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerGenerate(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-tasks",
		Method:      http.MethodPost,
		Path:        "/generatetasks",
		Summary:     "Generate a loop of tasks from free text",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body GenerateTasksRequest `json:"body"`
	}) (*struct {
		Body GenerateTasksResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		gen, err := e.GenerateLoop(ctx, principal.UserID, input.Body.Input)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GenerateTasksResponse `json:"body"`
		}{Body: GenerateTasksResponse{LoopID: gen.Loop.ID, Steps: nonNilTasks(gen.Tasks), Progress: gen.Progress}}, nil
	})
}

func registerLoops(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-loops",
		Method:      http.MethodGet,
		Path:        "/loops",
		Summary:     "List the caller's loops",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body LoopListResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		loops, err := e.ListLoops(ctx, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]LoopSummaryResponse, 0, len(loops))
		for _, l := range loops {
			items = append(items, LoopSummaryResponse{Loop: l.Loop, Progress: l.Progress})
		}
		return &struct {
			Body LoopListResponse `json:"body"`
		}{Body: LoopListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-loop",
		Method:      http.MethodGet,
		Path:        "/loops/{loop_id}",
		Summary:     "Get a loop with its task tree",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		LoopID string `path:"loop_id"`
	}) (*struct {
		Body LoopResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.GetLoop(ctx, principal.UserID, input.LoopID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LoopResponse `json:"body"`
		}{Body: loopResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-loop",
		Method:      http.MethodPatch,
		Path:        "/loops/{loop_id}",
		Summary:     "Update loop fields",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		LoopID string            `path:"loop_id"`
		Body   UpdateLoopRequest `json:"body"`
	}) (*struct {
		Body domain.Loop `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.UpdateLoop(ctx, principal.UserID, input.LoopID, domain.LoopPatch{
			Title:          input.Body.Title,
			Summary:        input.Body.Summary,
			SentimentScore: input.Body.SentimentScore,
			Status:         input.Body.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Loop `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-loop",
		Method:        http.MethodDelete,
		Path:          "/loops/{loop_id}",
		Summary:       "Delete a loop with its tasks and messages",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		LoopID string `path:"loop_id"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteLoop(ctx, principal.UserID, input.LoopID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/loops/{loop_id}/tasks",
		Summary:       "Add a task to a loop",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		LoopID string            `path:"loop_id"`
		Body   CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AddTask(ctx, principal.UserID, input.LoopID, input.Body.ParentID, input.Body.Title)
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
		Path:        "/tasks/{task_id}",
		Summary:     "Rename or expand/collapse a task",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, principal.UserID, input.TaskID, domain.TaskPatch{Title: input.Body.Title, IsExpanded: input.Body.IsExpanded})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/toggle",
		Summary:     "Flip a task's completion",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body ToggleTaskResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, pct, err := e.ToggleTask(ctx, principal.UserID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ToggleTaskResponse `json:"body"`
		}{Body: ToggleTaskResponse{Task: t, Progress: pct}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "breakdown-task",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/breakdown",
		Summary:       "Generate substeps for a task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kids, err := e.BreakdownTask(ctx, principal.UserID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Items: nonNilTasks(kids)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete a task and its subtasks",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, principal.UserID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-messages",
		Method:      http.MethodGet,
		Path:        "/loops/{loop_id}/messages",
		Summary:     "List a loop's conversation",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		LoopID string `path:"loop_id"`
	}) (*struct {
		Body MessageListResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		msgs, err := e.ListMessages(ctx, principal.UserID, input.LoopID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MessageListResponse `json:"body"`
		}{Body: MessageListResponse{Items: msgs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-message",
		Method:        http.MethodPost,
		Path:          "/loops/{loop_id}/messages",
		Summary:       "Append a conversation turn",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		LoopID string               `path:"loop_id"`
		Body   CreateMessageRequest `json:"body"`
	}) (*struct {
		Body domain.ChatMessage `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.PostMessage(ctx, principal.UserID, input.LoopID, input.Body.TaskID, input.Body.Role, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChatMessage `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-messages",
		Method:      http.MethodDelete,
		Path:        "/loops/{loop_id}/messages",
		Summary:     "Delete a loop's conversation",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		LoopID string `path:"loop_id"`
	}) (*struct {
		Body ClearMessagesResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.ClearMessages(ctx, principal.UserID, input.LoopID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClearMessagesResponse `json:"body"`
		}{Body: ClearMessagesResponse{Deleted: n}}, nil
	})
}

func loopResponse(v engine.LoopView) LoopResponse {
	return LoopResponse{Loop: v.Loop, Tasks: nonNilTasks(v.Tasks), Progress: v.Progress}
}
