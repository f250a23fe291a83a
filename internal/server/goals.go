package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"bullseye/internal/domain"
	"bullseye/internal/engine"
	"bullseye/internal/repo"
)

func registerCounters(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "initialize-counter",
		Method:      http.MethodPost,
		Path:        "/counters",
		Summary:     "Initialize the caller's goal counter",
		Errors:      []int{http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.GoalCounter `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.InitializeCounter(ctx, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GoalCounter `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-counter",
		Method:      http.MethodGet,
		Path:        "/counters/{owner}",
		Summary:     "Get an owner's goal counter",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
	}) (*struct {
		Body domain.GoalCounter `json:"body"`
	}, error) {
		c, err := e.GetCounter(ctx, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GoalCounter `json:"body"`
		}{Body: c}, nil
	})
}

func registerGoals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-goal",
		Method:      http.MethodPost,
		Path:        "/goals",
		Summary:     "Create a goal and lock its stake",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateGoalRequest `json:"body"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		panel, err := panelFromRequest(input.Body.Verifiers)
		if err != nil {
			return nil, handleError(err)
		}
		g, err := e.InitializeGoal(ctx, engine.GoalCreateOptions{
			Owner:       caller,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Amount:      input.Body.Amount,
			Deadline:    input.Body.Deadline,
			FailAction:  domain.FailAction(input.Body.FailAction),
			Verifiers:   panel,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-goals",
		Method:      http.MethodGet,
		Path:        "/goals",
		Summary:     "List goals, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Owner  string `query:"owner"`
		Status string `query:"status" enum:"active,submitted,claimed,failed"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedGoals `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		if input.Cursor != "" {
			if _, _, err := repo.DecodeGoalCursor(input.Cursor); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
		}
		items, err := e.ListGoals(ctx, repo.GoalFilters{
			Owner:  input.Owner,
			Status: input.Status,
			Limit:  limit + 1,
			Cursor: input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedGoals{Items: []domain.Goal{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = repo.GoalCursor(items[limit-1])
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedGoals `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-goal",
		Method:      http.MethodGet,
		Path:        "/goals/{id}",
		Summary:     "Get a goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Goal `json:"body"`
	}, error) {
		g, err := e.GetGoal(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Goal `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-goal",
		Method:      http.MethodPost,
		Path:        "/goals/{id}/submit",
		Summary:     "Submit a goal for verification",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SubmitResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.SubmitForVerification(ctx, input.ID, caller)
		if err != nil {
			return nil, handleError(err)
		}
		g, err := e.GetGoal(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmitResponse `json:"body"`
		}{Body: SubmitResponse{Goal: g, Verification: v}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-goal-verification",
		Method:      http.MethodGet,
		Path:        "/goals/{id}/verification",
		Summary:     "Get the verification of a submitted goal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Verification `json:"body"`
	}, error) {
		v, err := e.VerificationForGoal(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Verification `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "settle-goal",
		Method:      http.MethodPost,
		Path:        "/goals/{id}/settle",
		Summary:     "Claim or distribute a finalized goal's stake",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.Settlement `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.ClaimOrDistribute(ctx, input.ID, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Settlement `json:"body"`
		}{Body: s}, nil
	})
}
