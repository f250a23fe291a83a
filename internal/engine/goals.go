package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"bullseye/internal/domain"
	"bullseye/internal/engine/auth"
	"bullseye/internal/events"
	"bullseye/internal/ledger"
	"bullseye/internal/repo"
)

// InitializeCounter creates the owner's goal counter. It must run once before
// the owner's first goal.
func (e Engine) InitializeCounter(ctx context.Context, owner string) (domain.GoalCounter, error) {
	c, err := e.initializeCounter(ctx, owner)
	if err != nil {
		return domain.GoalCounter{}, e.rejected("initialize_counter", err, zap.String("owner", owner))
	}
	e.log().Info("counter initialized", zap.String("owner", owner))
	return c, nil
}

func (e Engine) initializeCounter(ctx context.Context, owner string) (domain.GoalCounter, error) {
	if err := auth.RequireSigner(owner); err != nil {
		return domain.GoalCounter{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.GoalCounter{}, err
	}
	defer tx.Rollback()

	c := domain.GoalCounter{Owner: owner, CreatedAt: e.now()}
	inserted, err := e.Repo.InsertCounter(ctx, tx, c)
	if err != nil {
		return domain.GoalCounter{}, fmt.Errorf("insert counter: %w", err)
	}
	if !inserted {
		return domain.GoalCounter{}, domain.ErrAlreadyInitialized
	}
	if err := e.emit(ctx, tx, events.Entry{
		Type: domain.EventCounterInitialized, EntityKind: "counter", EntityID: owner, ActorID: owner,
		Payload: events.EventPayload{"user": owner},
	}); err != nil {
		return domain.GoalCounter{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.GoalCounter{}, err
	}
	return c, nil
}

// GoalCreateOptions are parameters for creating a goal.
type GoalCreateOptions struct {
	Owner       string
	Title       string
	Description string
	Amount      uint64
	Deadline    time.Time
	FailAction  domain.FailAction
	// Verifiers left empty selects the configured default panel.
	Verifiers domain.Panel
}

// ValidateGoal checks the creation inputs in the order the errors are
// reported.
func ValidateGoal(opts GoalCreateOptions, now time.Time) error {
	if utf8.RuneCountInString(opts.Title) > domain.MaxTitleLen {
		return domain.ErrTitleTooLong
	}
	if utf8.RuneCountInString(opts.Description) > domain.MaxDescriptionLen {
		return domain.ErrDescriptionTooLong
	}
	if opts.Amount < domain.MinStake {
		return domain.ErrAmountTooLow
	}
	if opts.Amount > domain.MaxStake {
		return domain.ErrAmountTooHigh
	}
	if !opts.Deadline.After(now) {
		return domain.ErrDeadlineInPast
	}
	if err := opts.Verifiers.Validate(); err != nil {
		return err
	}
	if !opts.FailAction.Valid() {
		return domain.ErrInvalidFailAction
	}
	return nil
}

// InitializeGoal locks opts.Amount from the owner's wallet into the goal's
// escrow account and opens the goal.
func (e Engine) InitializeGoal(ctx context.Context, opts GoalCreateOptions) (domain.Goal, error) {
	g, err := e.initializeGoal(ctx, opts)
	if err != nil {
		return domain.Goal{}, e.rejected("initialize_goal", err, zap.String("owner", opts.Owner))
	}
	e.log().Info("goal created",
		zap.String("goal_id", g.ID),
		zap.String("owner", g.Owner),
		zap.Uint64("goal_number", g.GoalNumber),
		zap.Uint64("amount", g.Amount),
	)
	return g, nil
}

func (e Engine) initializeGoal(ctx context.Context, opts GoalCreateOptions) (domain.Goal, error) {
	if err := auth.RequireSigner(opts.Owner); err != nil {
		return domain.Goal{}, err
	}
	if opts.Verifiers == (domain.Panel{}) {
		if panel, ok := e.program().Panel(); ok {
			opts.Verifiers = panel
		}
	}
	// Records hold whole seconds; validate the deadline that will be stored.
	opts.Deadline = opts.Deadline.UTC().Truncate(time.Second)
	now := e.now()
	if err := ValidateGoal(opts, now); err != nil {
		return domain.Goal{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Goal{}, err
	}
	defer tx.Rollback()

	counter, err := e.Repo.GetCounterTx(ctx, tx, opts.Owner)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Goal{}, domain.ErrCounterNotInitialized
	}
	if err != nil {
		return domain.Goal{}, err
	}
	if counter.ActiveGoal != nil {
		return domain.Goal{}, domain.ErrActiveGoalExists
	}
	balance, err := ledger.Balance(ctx, tx, opts.Owner)
	if err != nil {
		return domain.Goal{}, err
	}
	if balance < opts.Amount {
		return domain.Goal{}, domain.ErrInsufficientFunds
	}

	g := domain.Goal{
		ID:          domain.GoalAddress(opts.Owner, counter.Count),
		Owner:       opts.Owner,
		Title:       opts.Title,
		Description: opts.Description,
		Amount:      opts.Amount,
		Deadline:    opts.Deadline,
		FailAction:  opts.FailAction,
		Status:      domain.GoalActive,
		Verifiers:   opts.Verifiers,
		CreatedAt:   now,
		GoalNumber:  counter.Count,
	}
	claimed, err := e.Repo.ClaimGoalSlot(ctx, tx, g.Owner, g.GoalNumber)
	if err != nil {
		return domain.Goal{}, fmt.Errorf("update counter: %w", err)
	}
	if !claimed {
		return domain.Goal{}, domain.ErrActiveGoalExists
	}
	if err := e.Repo.InsertGoal(ctx, tx, g); err != nil {
		return domain.Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	if err := ledger.Transfer(ctx, tx, g.Owner, domain.EscrowAccount(g.ID), g.Amount); err != nil {
		return domain.Goal{}, err
	}
	if err := e.emit(ctx, tx, events.Entry{
		Type: domain.EventGoalCreated, GoalID: g.ID, EntityKind: "goal", EntityID: g.ID, ActorID: g.Owner,
		Payload: events.EventPayload{
			"goal":        g.ID,
			"user":        g.Owner,
			"amount":      g.Amount,
			"deadline":    g.Deadline.Unix(),
			"goal_number": g.GoalNumber,
		},
	}); err != nil {
		return domain.Goal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Goal{}, err
	}
	return g, nil
}

func ensureGoalTransition(from, to domain.GoalStatus) error {
	switch from {
	case domain.GoalActive:
		if to == domain.GoalSubmitted {
			return nil
		}
	case domain.GoalSubmitted:
		if to == domain.GoalClaimed || to == domain.GoalFailed {
			return nil
		}
	}
	return domain.ErrInvalidGoalStatus
}

// SubmitForVerification opens the voting window on an active goal. Only the
// owner may submit.
func (e Engine) SubmitForVerification(ctx context.Context, goalID, caller string) (domain.Verification, error) {
	v, err := e.submitForVerification(ctx, goalID, caller)
	if err != nil {
		return domain.Verification{}, e.rejected("submit_for_verification", err, zap.String("goal_id", goalID), zap.String("caller", caller))
	}
	e.log().Info("goal submitted",
		zap.String("goal_id", goalID),
		zap.String("verification_id", v.ID),
		zap.Time("verification_deadline", v.Deadline),
	)
	return v, nil
}

func (e Engine) submitForVerification(ctx context.Context, goalID, caller string) (domain.Verification, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Verification{}, err
	}
	defer tx.Rollback()

	g, err := e.Repo.GetGoalTx(ctx, tx, goalID)
	if err != nil {
		return domain.Verification{}, notFound("goal", goalID, err)
	}
	if err := auth.RequireOwner(g, caller); err != nil {
		return domain.Verification{}, err
	}
	if err := ensureGoalTransition(g.Status, domain.GoalSubmitted); err != nil {
		return domain.Verification{}, err
	}
	now := e.now()
	v := domain.Verification{
		ID:        domain.VerificationAddress(g.ID),
		GoalID:    g.ID,
		Verifiers: g.Verifiers,
		Deadline:  now.Add(e.program().VerificationWindow),
		CreatedAt: now,
	}
	if err := e.Repo.InsertVerification(ctx, tx, v); err != nil {
		return domain.Verification{}, fmt.Errorf("insert verification: %w", err)
	}
	ok, err := e.Repo.MarkGoalSubmitted(ctx, tx, g.ID, v.ID)
	if err != nil {
		return domain.Verification{}, fmt.Errorf("update goal: %w", err)
	}
	if !ok {
		return domain.Verification{}, domain.ErrInvalidGoalStatus
	}
	if err := e.emit(ctx, tx, events.Entry{
		Type: domain.EventGoalSubmitted, GoalID: g.ID, EntityKind: "verification", EntityID: v.ID, ActorID: caller,
		Payload: events.EventPayload{
			"goal":                  g.ID,
			"verification_deadline": v.Deadline.Unix(),
		},
	}); err != nil {
		return domain.Verification{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Verification{}, err
	}
	return v, nil
}

// Deposit credits a wallet from outside the program. It backs the local
// faucet and test setup.
func (e Engine) Deposit(ctx context.Context, account string, amount uint64, actor string) (uint64, error) {
	if account == "" {
		return 0, errors.New("account required")
	}
	if amount == 0 {
		return 0, errors.New("deposit amount must be positive")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := ledger.Credit(ctx, tx, account, amount); err != nil {
		return 0, err
	}
	balance, err := ledger.Balance(ctx, tx, account)
	if err != nil {
		return 0, err
	}
	if actor == "" {
		actor = account
	}
	if err := e.emit(ctx, tx, events.Entry{
		Type: domain.EventFundsDeposited, EntityKind: "account", EntityID: account, ActorID: actor,
		Payload: events.EventPayload{"account": account, "amount": amount},
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.log().Info("funds deposited", zap.String("account", account), zap.Uint64("amount", amount))
	return balance, nil
}
