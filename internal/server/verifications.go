package server

import (
	"context"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"

	"bullseye/internal/domain"
	"bullseye/internal/engine"
)

func registerVerifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-verification",
		Method:      http.MethodGet,
		Path:        "/verifications/{id}",
		Summary:     "Get a verification",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Verification `json:"body"`
	}, error) {
		v, err := e.GetVerification(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Verification `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cast-vote",
		Method:      http.MethodPost,
		Path:        "/verifications/{id}/votes",
		Summary:     "Cast the caller's vote",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body VoteRequest `json:"body"`
	}) (*struct {
		Body domain.Verification `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.CastVote(ctx, input.ID, caller, input.Body.Vote)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Verification `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "finalize-verification",
		Method:      http.MethodPost,
		Path:        "/verifications/{id}/finalize",
		Summary:     "Finalize a verification once all votes are in or the window closed",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Verification `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.FinalizeVerification(ctx, input.ID, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Verification `json:"body"`
		}{Body: v}, nil
	})
}

// registerVoteActions serves shareable vote links keyed by the goal owner.
// The owner's active goal is resolved through the counter on every call.
func registerVoteActions(api huma.API, e engine.Engine, basePath string) {
	huma.Register(api, huma.Operation{
		OperationID: "get-vote-action",
		Method:      http.MethodGet,
		Path:        "/actions/vote/{owner}",
		Summary:     "Describe the vote on an owner's active goal",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
	}) (*struct {
		Body VoteActionResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, v, err := activeVerification(ctx, e, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		_, isVerifier := v.Verifiers.Index(caller)
		href := path.Join(basePath, "actions/vote", input.Owner)
		resp := VoteActionResponse{
			Owner:        input.Owner,
			Title:        "Verify: " + g.Title,
			Description:  g.Description,
			Goal:         g,
			Verification: v,
			CanVote:      isVerifier && !v.Finalized,
			Actions: []VoteActionLink{
				{Label: "Achieved", Href: href + "?vote=yes"},
				{Label: "Not achieved", Href: href + "?vote=no"},
			},
		}
		return &struct {
			Body VoteActionResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "post-vote-action",
		Method:      http.MethodPost,
		Path:        "/actions/vote/{owner}",
		Summary:     "Vote on an owner's active goal",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Owner string `path:"owner"`
		Vote  string `query:"vote" enum:"yes,no" required:"true"`
	}) (*struct {
		Body domain.Verification `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		_, v, err := activeVerification(ctx, e, input.Owner)
		if err != nil {
			return nil, handleError(err)
		}
		v, err = e.CastVote(ctx, v.ID, caller, input.Vote == "yes")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Verification `json:"body"`
		}{Body: v}, nil
	})
}

func activeVerification(ctx context.Context, e engine.Engine, owner string) (domain.Goal, domain.Verification, error) {
	g, err := e.ActiveGoal(ctx, owner)
	if err != nil {
		return domain.Goal{}, domain.Verification{}, err
	}
	if g.VerificationID == "" {
		return g, domain.Verification{}, domain.ErrInvalidGoalStatus
	}
	v, err := e.GetVerification(ctx, g.VerificationID)
	if err != nil {
		return g, domain.Verification{}, err
	}
	return g, v, nil
}
