package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bullseye/internal/domain"
	"bullseye/internal/engine/auth"
	"bullseye/internal/events"
)

// CastVote records one verifier's yes or no. Reaching three votes does not
// finalize; FinalizeVerification must still be called.
func (e Engine) CastVote(ctx context.Context, verificationID, verifier string, yes bool) (domain.Verification, error) {
	v, err := e.castVote(ctx, verificationID, verifier, yes)
	if err != nil {
		return domain.Verification{}, e.rejected("cast_vote", err, zap.String("verification_id", verificationID), zap.String("verifier", verifier))
	}
	e.log().Info("vote cast",
		zap.String("goal_id", v.GoalID),
		zap.String("verifier", verifier),
		zap.Bool("vote", yes),
		zap.Uint8("yes_votes", v.YesVotes),
		zap.Uint8("no_votes", v.NoVotes),
	)
	return v, nil
}

func (e Engine) castVote(ctx context.Context, verificationID, verifier string, yes bool) (domain.Verification, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Verification{}, err
	}
	defer tx.Rollback()

	v, err := e.Repo.GetVerificationTx(ctx, tx, verificationID)
	if err != nil {
		return domain.Verification{}, notFound("verification", verificationID, err)
	}
	slot, err := v.RecordVote(verifier, yes)
	if err != nil {
		return domain.Verification{}, err
	}
	ok, err := e.Repo.RecordVote(ctx, tx, v.ID, slot, yes)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("record vote: %w", err)
	}
	if !ok {
		return domain.Verification{}, domain.ErrAlreadyVoted
	}
	if err := e.emit(ctx, tx, events.Entry{
		Type: domain.EventVoteCast, GoalID: v.GoalID, EntityKind: "verification", EntityID: v.ID, ActorID: verifier,
		Payload: events.EventPayload{
			"goal":      v.GoalID,
			"verifier":  verifier,
			"vote":      yes,
			"yes_votes": v.YesVotes,
			"no_votes":  v.NoVotes,
		},
	}); err != nil {
		return domain.Verification{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Verification{}, err
	}
	return v, nil
}

// FinalizeVerification fixes the outcome once all verifiers have voted or
// the voting window has closed. Any signer may call it.
func (e Engine) FinalizeVerification(ctx context.Context, verificationID, caller string) (domain.Verification, error) {
	v, err := e.finalizeVerification(ctx, verificationID, caller)
	if err != nil {
		return domain.Verification{}, e.rejected("finalize_verification", err, zap.String("verification_id", verificationID))
	}
	e.log().Info("verification finalized",
		zap.String("goal_id", v.GoalID),
		zap.String("result", string(*v.Result)),
		zap.Uint8("yes_votes", v.YesVotes),
		zap.Uint8("no_votes", v.NoVotes),
	)
	return v, nil
}

func (e Engine) finalizeVerification(ctx context.Context, verificationID, caller string) (domain.Verification, error) {
	if err := auth.RequireSigner(caller); err != nil {
		return domain.Verification{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Verification{}, err
	}
	defer tx.Rollback()

	v, err := e.Repo.GetVerificationTx(ctx, tx, verificationID)
	if err != nil {
		return domain.Verification{}, notFound("verification", verificationID, err)
	}
	result, err := v.Finalize(e.now())
	if err != nil {
		return domain.Verification{}, err
	}
	ok, err := e.Repo.FinalizeVerification(ctx, tx, v.ID, result)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("finalize verification: %w", err)
	}
	if !ok {
		return domain.Verification{}, domain.ErrAlreadyFinalized
	}
	if err := e.emit(ctx, tx, events.Entry{
		Type: domain.EventVerificationFinalized, GoalID: v.GoalID, EntityKind: "verification", EntityID: v.ID, ActorID: caller,
		Payload: events.EventPayload{"goal": v.GoalID, "result": result},
	}); err != nil {
		return domain.Verification{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Verification{}, err
	}
	return v, nil
}
