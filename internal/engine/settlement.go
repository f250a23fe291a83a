package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bullseye/internal/domain"
	"bullseye/internal/engine/auth"
	"bullseye/internal/events"
	"bullseye/internal/ledger"
)

// Settlement describes where a goal's escrow went.
type Settlement struct {
	Goal      domain.Goal               `json:"goal"`
	Result    domain.VerificationResult `json:"result" enum:"success,failure"`
	Recipient string                    `json:"recipient"`
	Amount    uint64                    `json:"amount"`
	Event     string                    `json:"event"`
}

// payout picks the destination of a finalized goal's escrow. The result and
// the fail action fixed at creation decide it; the caller never does.
func payout(g domain.Goal, result domain.VerificationResult, p programDestinations) (recipient string, status domain.GoalStatus, event string) {
	if result == domain.ResultSuccess {
		return g.Owner, domain.GoalClaimed, domain.EventFundsClaimed
	}
	if g.FailAction == domain.FailCompanyWallet {
		return p.company, domain.GoalFailed, domain.EventFundsSentToCompany
	}
	return p.burn, domain.GoalFailed, domain.EventFundsBurned
}

type programDestinations struct {
	burn    string
	company string
}

// ClaimOrDistribute releases a finalized goal's escrow to the owner on
// success, or to the burn or company destination on failure. Any signer may
// trigger it, and it settles each goal once.
func (e Engine) ClaimOrDistribute(ctx context.Context, goalID, caller string) (Settlement, error) {
	s, err := e.claimOrDistribute(ctx, goalID, caller)
	if err != nil {
		return Settlement{}, e.rejected("claim_or_distribute", err, zap.String("goal_id", goalID))
	}
	e.log().Info("goal settled",
		zap.String("goal_id", goalID),
		zap.String("result", string(s.Result)),
		zap.String("recipient", s.Recipient),
		zap.Uint64("amount", s.Amount),
	)
	return s, nil
}

func (e Engine) claimOrDistribute(ctx context.Context, goalID, caller string) (Settlement, error) {
	if err := auth.RequireSigner(caller); err != nil {
		return Settlement{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Settlement{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGoalTx(ctx, tx, goalID)
	if err != nil {
		return Settlement{}, notFound("goal", goalID, err)
	}
	if g.Status != domain.GoalSubmitted {
		return Settlement{}, domain.ErrInvalidGoalStatus
	}
	v, err := e.Repo.GetVerificationTx(ctx, tx, g.VerificationID)
	if err != nil {
		return Settlement{}, notFound("verification", g.VerificationID, err)
	}
	if !v.Finalized {
		return Settlement{}, domain.ErrVerificationNotFinalized
	}
	if v.Result == nil {
		return Settlement{}, domain.ErrNoVerificationResult
	}
	prog := e.program()
	recipient, status, event := payout(g, *v.Result, programDestinations{burn: prog.BurnAddress, company: prog.CompanyWallet})
	if err := ensureGoalTransition(g.Status, status); err != nil {
		return Settlement{}, err
	}
	ok, err := e.Repo.SettleGoal(ctx, tx, g.ID, status)
	if err != nil {
		return Settlement{}, fmt.Errorf("update goal: %w", err)
	}
	if !ok {
		return Settlement{}, domain.ErrInvalidGoalStatus
	}
	if err := ledger.Transfer(ctx, tx, domain.EscrowAccount(g.ID), recipient, g.Amount); err != nil {
		return Settlement{}, err
	}
	if err := e.Repo.ReleaseGoalSlot(ctx, tx, g.Owner, g.GoalNumber); err != nil {
		return Settlement{}, fmt.Errorf("update counter: %w", err)
	}
	payload := events.EventPayload{"goal": g.ID, "amount": g.Amount}
	switch event {
	case domain.EventFundsClaimed:
		payload["user"] = g.Owner
	case domain.EventFundsSentToCompany:
		payload["recipient"] = recipient
	}
	if err := e.emit(ctx, tx, events.Entry{
		Type: event, GoalID: g.ID, EntityKind: "goal", EntityID: g.ID, ActorID: caller, Payload: payload,
	}); err != nil {
		return Settlement{}, err
	}
	if err := tx.Commit(); err != nil {
		return Settlement{}, err
	}
	g.Status = status
	return Settlement{Goal: g, Result: *v.Result, Recipient: recipient, Amount: g.Amount, Event: event}, nil
}
