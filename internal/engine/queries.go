package engine

import (
	"context"

	"bullseye/internal/domain"
	"bullseye/internal/ledger"
	"bullseye/internal/repo"
)

func (e Engine) GetCounter(ctx context.Context, owner string) (domain.GoalCounter, error) {
	c, err := e.Repo.GetCounter(ctx, owner)
	if err != nil {
		return domain.GoalCounter{}, notFound("counter", owner, err)
	}
	return c, nil
}

func (e Engine) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	g, err := e.Repo.GetGoal(ctx, id)
	if err != nil {
		return domain.Goal{}, notFound("goal", id, err)
	}
	return g, nil
}

func (e Engine) GetGoalByNumber(ctx context.Context, owner string, n uint64) (domain.Goal, error) {
	return e.GetGoal(ctx, domain.GoalAddress(owner, n))
}

// ActiveGoal returns the owner's open goal, found through the counter.
func (e Engine) ActiveGoal(ctx context.Context, owner string) (domain.Goal, error) {
	c, err := e.GetCounter(ctx, owner)
	if err != nil {
		return domain.Goal{}, err
	}
	if c.ActiveGoal == nil {
		return domain.Goal{}, &NotFoundError{Kind: "active goal for", ID: owner}
	}
	return e.GetGoalByNumber(ctx, owner, *c.ActiveGoal)
}

func (e Engine) ListGoals(ctx context.Context, f repo.GoalFilters) ([]domain.Goal, error) {
	return e.Repo.ListGoals(ctx, f)
}

func (e Engine) GetVerification(ctx context.Context, id string) (domain.Verification, error) {
	v, err := e.Repo.GetVerification(ctx, id)
	if err != nil {
		return domain.Verification{}, notFound("verification", id, err)
	}
	return v, nil
}

func (e Engine) VerificationForGoal(ctx context.Context, goalID string) (domain.Verification, error) {
	v, err := e.Repo.GetVerificationByGoal(ctx, goalID)
	if err != nil {
		return domain.Verification{}, notFound("verification for goal", goalID, err)
	}
	return v, nil
}

func (e Engine) Balance(ctx context.Context, account string) (uint64, error) {
	return ledger.Balance(ctx, e.DB, account)
}

func (e Engine) LatestEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}
