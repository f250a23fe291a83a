package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bullseye/internal/config"
	"bullseye/internal/db"
	"bullseye/internal/domain"
	"bullseye/internal/engine"
	"bullseye/internal/ledger"
	"bullseye/internal/migrate"
	"bullseye/internal/repo"
)

const (
	owner = "owner-wallet"
	v1    = "verifier-1"
	v2    = "verifier-2"
	v3    = "verifier-3"
)

var panel = domain.Panel{v1, v2, v3}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	return testEnv{Engine: eng, Ctx: context.Background(), clock: &clock}
}

func (env testEnv) advance(d time.Duration) {
	*env.clock = env.clock.Add(d)
}

func (env testEnv) fund(t *testing.T, addr string, lamports uint64) {
	t.Helper()
	if _, err := env.Engine.InitializeCounter(env.Ctx, addr); err != nil {
		t.Fatalf("init counter: %v", err)
	}
	if _, err := env.Engine.Deposit(env.Ctx, addr, lamports, "faucet"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (env testEnv) goalOpts(action domain.FailAction) engine.GoalCreateOptions {
	return engine.GoalCreateOptions{
		Owner:       owner,
		Title:       "Run a marathon",
		Description: "Finish under five hours",
		Amount:      domain.LamportsPerUnit,
		Deadline:    env.clock.Add(7 * 24 * time.Hour),
		FailAction:  action,
		Verifiers:   panel,
	}
}

func (env testEnv) submitted(t *testing.T, action domain.FailAction) (domain.Goal, domain.Verification) {
	t.Helper()
	g, err := env.Engine.InitializeGoal(env.Ctx, env.goalOpts(action))
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	v, err := env.Engine.SubmitForVerification(env.Ctx, g.ID, owner)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return g, v
}

func (env testEnv) balance(t *testing.T, addr string) uint64 {
	t.Helper()
	b, err := env.Engine.Balance(env.Ctx, addr)
	if err != nil {
		t.Fatalf("balance %s: %v", addr, err)
	}
	return b
}

func (env testEnv) lastEventID(t *testing.T) int64 {
	t.Helper()
	id, err := env.Engine.Repo.LatestEventID(env.Ctx)
	if err != nil {
		t.Fatalf("latest event: %v", err)
	}
	return id
}

func vote(t *testing.T, env testEnv, verificationID, verifier string, yes bool) domain.Verification {
	t.Helper()
	v, err := env.Engine.CastVote(env.Ctx, verificationID, verifier, yes)
	if err != nil {
		t.Fatalf("vote %s: %v", verifier, err)
	}
	return v
}

func TestClaimAfterMajorityYes(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, owner, 5*domain.LamportsPerUnit)

	g, v := env.submitted(t, domain.FailBurn)
	if g.ID != domain.GoalAddress(owner, 0) || g.GoalNumber != 0 {
		t.Fatalf("unexpected goal address %s number %d", g.ID, g.GoalNumber)
	}
	if got := env.balance(t, owner); got != 4*domain.LamportsPerUnit {
		t.Fatalf("owner balance after lock = %d", got)
	}
	if got := env.balance(t, domain.EscrowAccount(g.ID)); got != domain.LamportsPerUnit {
		t.Fatalf("escrow balance = %d", got)
	}
	if !v.Deadline.Equal(env.clock.Add(24 * time.Hour)) {
		t.Fatalf("verification deadline = %s", v.Deadline)
	}

	vote(t, env, v.ID, v1, true)
	vote(t, env, v.ID, v2, true)
	v = vote(t, env, v.ID, v3, false)
	if v.YesVotes != 2 || v.NoVotes != 1 || v.Finalized {
		t.Fatalf("tally yes=%d no=%d finalized=%v", v.YesVotes, v.NoVotes, v.Finalized)
	}

	v, err := env.Engine.FinalizeVerification(env.Ctx, v.ID, "anyone")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if v.Result == nil || *v.Result != domain.ResultSuccess {
		t.Fatalf("expected success, got %v", v.Result)
	}

	s, err := env.Engine.ClaimOrDistribute(env.Ctx, g.ID, owner)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if s.Recipient != owner || s.Event != domain.EventFundsClaimed || s.Goal.Status != domain.GoalClaimed {
		t.Fatalf("unexpected settlement %+v", s)
	}
	if got := env.balance(t, owner); got != 5*domain.LamportsPerUnit {
		t.Fatalf("owner balance after claim = %d", got)
	}
	if got := env.balance(t, domain.EscrowAccount(g.ID)); got != 0 {
		t.Fatalf("escrow not drained: %d", got)
	}
	stored, err := env.Engine.GetGoal(env.Ctx, g.ID)
	if err != nil || stored.Status != domain.GoalClaimed || stored.VerificationID != v.ID {
		t.Fatalf("stored goal %+v err=%v", stored, err)
	}
	c, err := env.Engine.GetCounter(env.Ctx, owner)
	if err != nil || c.ActiveGoal != nil || c.Count != 1 {
		t.Fatalf("counter %+v err=%v", c, err)
	}

	evts, err := env.Engine.LatestEvents(env.Ctx, repo.EventFilters{GoalID: g.ID, Limit: 20})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var types []string
	for i := len(evts) - 1; i >= 0; i-- {
		types = append(types, evts[i].Type)
	}
	want := "GoalCreated GoalSubmitted VoteCast VoteCast VoteCast VerificationFinalized FundsClaimed"
	if got := strings.Join(types, " "); got != want {
		t.Fatalf("event sequence %q, want %q", got, want)
	}
}

func TestFailureDestinations(t *testing.T) {
	cases := []struct {
		action    domain.FailAction
		recipient string
		event     string
	}{
		{domain.FailBurn, domain.BurnAddress, domain.EventFundsBurned},
		{domain.FailCompanyWallet, domain.DefaultCompanyWallet, domain.EventFundsSentToCompany},
	}
	for _, tc := range cases {
		t.Run(string(tc.action), func(t *testing.T) {
			env := newTestEnv(t)
			env.fund(t, owner, 2*domain.LamportsPerUnit)
			g, v := env.submitted(t, tc.action)
			vote(t, env, v.ID, v1, false)
			vote(t, env, v.ID, v2, false)
			vote(t, env, v.ID, v3, true)
			if _, err := env.Engine.FinalizeVerification(env.Ctx, v.ID, v1); err != nil {
				t.Fatalf("finalize: %v", err)
			}
			s, err := env.Engine.ClaimOrDistribute(env.Ctx, g.ID, "cranker")
			if err != nil {
				t.Fatalf("settle: %v", err)
			}
			if s.Recipient != tc.recipient || s.Event != tc.event || s.Result != domain.ResultFailure {
				t.Fatalf("unexpected settlement %+v", s)
			}
			if got := env.balance(t, tc.recipient); got != domain.LamportsPerUnit {
				t.Fatalf("recipient balance = %d", got)
			}
			if got := env.balance(t, owner); got != domain.LamportsPerUnit {
				t.Fatalf("owner balance = %d", got)
			}
			stored, _ := env.Engine.GetGoal(env.Ctx, g.ID)
			if stored.Status != domain.GoalFailed {
				t.Fatalf("status = %s", stored.Status)
			}
		})
	}
}

func TestCreateGoalValidation(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, owner, 20*domain.LamportsPerUnit)

	cases := []struct {
		name string
		edit func(*engine.GoalCreateOptions)
		want error
	}{
		{"title", func(o *engine.GoalCreateOptions) { o.Title = strings.Repeat("x", 101) }, domain.ErrTitleTooLong},
		{"description", func(o *engine.GoalCreateOptions) { o.Description = strings.Repeat("é", 501) }, domain.ErrDescriptionTooLong},
		{"amount low", func(o *engine.GoalCreateOptions) { o.Amount = domain.MinStake - 1 }, domain.ErrAmountTooLow},
		{"amount high", func(o *engine.GoalCreateOptions) { o.Amount = domain.MaxStake + 1 }, domain.ErrAmountTooHigh},
		{"deadline now", func(o *engine.GoalCreateOptions) { o.Deadline = *env.clock }, domain.ErrDeadlineInPast},
		{"deadline within the second", func(o *engine.GoalCreateOptions) { o.Deadline = env.clock.Add(500 * time.Millisecond) }, domain.ErrDeadlineInPast},
		{"duplicate verifier", func(o *engine.GoalCreateOptions) { o.Verifiers = domain.Panel{v1, v1, v3} }, domain.ErrInvalidVerifierPanel},
		{"fail action", func(o *engine.GoalCreateOptions) { o.FailAction = "donate" }, domain.ErrInvalidFailAction},
		{"title before amount", func(o *engine.GoalCreateOptions) {
			o.Title = strings.Repeat("x", 101)
			o.Amount = 1
		}, domain.ErrTitleTooLong},
		{"unsigned", func(o *engine.GoalCreateOptions) { o.Owner = "" }, domain.ErrUnauthorized},
	}
	before := env.lastEventID(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := env.goalOpts(domain.FailBurn)
			tc.edit(&opts)
			if _, err := env.Engine.InitializeGoal(env.Ctx, opts); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if env.lastEventID(t) != before {
		t.Fatalf("rejected creations wrote events")
	}

	boundary := env.goalOpts(domain.FailBurn)
	boundary.Title = strings.Repeat("ü", 100)
	boundary.Amount = domain.MaxStake
	if _, err := env.Engine.InitializeGoal(env.Ctx, boundary); err != nil {
		t.Fatalf("boundary goal rejected: %v", err)
	}
}

func TestCounterRequired(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Deposit(env.Ctx, owner, domain.LamportsPerUnit, "faucet"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.InitializeGoal(env.Ctx, env.goalOpts(domain.FailBurn)); !errors.Is(err, domain.ErrCounterNotInitialized) {
		t.Fatalf("expected CounterNotInitialized, got %v", err)
	}
	if _, err := env.Engine.InitializeCounter(env.Ctx, owner); err != nil {
		t.Fatalf("init counter: %v", err)
	}
	if _, err := env.Engine.InitializeCounter(env.Ctx, owner); !errors.Is(err, domain.ErrAlreadyInitialized) {
		t.Fatalf("expected AlreadyInitialized, got %v", err)
	}
}

func TestDefaultPanelFromConfig(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, owner, domain.LamportsPerUnit)
	opts := env.goalOpts(domain.FailBurn)
	opts.Verifiers = domain.Panel{}
	g, err := env.Engine.InitializeGoal(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	want, _ := config.Default().Program.Panel()
	if g.Verifiers != want {
		t.Fatalf("verifiers = %v, want %v", g.Verifiers, want)
	}
}

func TestOneOpenGoalPerOwner(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, owner, 5*domain.LamportsPerUnit)
	g, v := env.submitted(t, domain.FailBurn)

	if _, err := env.Engine.InitializeGoal(env.Ctx, env.goalOpts(domain.FailBurn)); !errors.Is(err, domain.ErrActiveGoalExists) {
		t.Fatalf("expected ActiveGoalExists while submitted, got %v", err)
	}
	active, err := env.Engine.ActiveGoal(env.Ctx, owner)
	if err != nil || active.ID != g.ID {
		t.Fatalf("active goal %s err=%v", active.ID, err)
	}

	vote(t, env, v.ID, v1, true)
	vote(t, env, v.ID, v2, true)
	vote(t, env, v.ID, v3, true)
	if _, err := env.Engine.FinalizeVerification(env.Ctx, v.ID, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ClaimOrDistribute(env.Ctx, g.ID, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ActiveGoal(env.Ctx, owner); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected no active goal, got %v", err)
	}

	next, err := env.Engine.InitializeGoal(env.Ctx, env.goalOpts(domain.FailBurn))
	if err != nil {
		t.Fatalf("second goal: %v", err)
	}
	if next.GoalNumber != 1 || next.ID == g.ID {
		t.Fatalf("second goal number %d id %s", next.GoalNumber, next.ID)
	}
	byNumber, err := env.Engine.GetGoalByNumber(env.Ctx, owner, 1)
	if err != nil || byNumber.ID != next.ID {
		t.Fatalf("goal by number %s err=%v", byNumber.ID, err)
	}
}

func TestInsufficientFundsLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, owner, domain.LamportsPerUnit/2)
	before := env.lastEventID(t)
	if _, err := env.Engine.InitializeGoal(env.Ctx, env.goalOpts(domain.FailBurn)); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	if env.lastEventID(t) != before {
		t.Fatalf("failed creation wrote an event")
	}
	c, err := env.Engine.GetCounter(env.Ctx, owner)
	if err != nil || c.Count != 0 || c.ActiveGoal != nil {
		t.Fatalf("counter changed: %+v err=%v", c, err)
	}
	if got := env.balance(t, owner); got != domain.LamportsPerUnit/2 {
		t.Fatalf("owner balance changed: %d", got)
	}
}

func TestSubmitGuards(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, owner, domain.LamportsPerUnit)
	g, err := env.Engine.InitializeGoal(env.Ctx, env.goalOpts(domain.FailBurn))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitForVerification(env.Ctx, g.ID, v1); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if _, err := env.Engine.ClaimOrDistribute(env.Ctx, g.ID, owner); !errors.Is(err, domain.ErrInvalidGoalStatus) {
		t.Fatalf("settle before submit: expected InvalidGoalStatus, got %v", err)
	}
	if _, err := env.Engine.SubmitForVerification(env.Ctx, g.ID, owner); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.SubmitForVerification(env.Ctx, g.ID, owner); !errors.Is(err, domain.ErrInvalidGoalStatus) {
		t.Fatalf("expected InvalidGoalStatus on resubmit, got %v", err)
	}
	if _, err := env.Engine.SubmitForVerification(env.Ctx, "missing", owner); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVoteGuards(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, owner, domain.LamportsPerUnit)
	_, v := env.submitted(t, domain.FailBurn)

	if _, err := env.Engine.CastVote(env.Ctx, v.ID, owner, true); !errors.Is(err, domain.ErrNotAVerifier) {
		t.Fatalf("expected NotAVerifier, got %v", err)
	}
	vote(t, env, v.ID, v1, true)
	if _, err := env.Engine.CastVote(env.Ctx, v.ID, v1, false); !errors.Is(err, domain.ErrAlreadyVoted) {
		t.Fatalf("expected AlreadyVoted, got %v", err)
	}
	stored, err := env.Engine.GetVerification(env.Ctx, v.ID)
	if err != nil || stored.YesVotes != 1 || stored.NoVotes != 0 || stored.VotesCast != [3]bool{true, false, false} {
		t.Fatalf("tally changed by rejected vote: %+v err=%v", stored, err)
	}

	if _, err := env.Engine.FinalizeVerification(env.Ctx, v.ID, owner); !errors.Is(err, domain.ErrVerificationNotComplete) {
		t.Fatalf("expected VerificationNotComplete, got %v", err)
	}
	vote(t, env, v.ID, v2, false)
	vote(t, env, v.ID, v3, false)
	v, err = env.Engine.FinalizeVerification(env.Ctx, v.ID, owner)
	if err != nil || *v.Result != domain.ResultFailure {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := env.Engine.FinalizeVerification(env.Ctx, v.ID, owner); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("expected AlreadyFinalized, got %v", err)
	}
	if _, err := env.Engine.CastVote(env.Ctx, v.ID, v1, true); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("expected AlreadyFinalized on late vote, got %v", err)
	}
}

func TestFinalizeAfterWindow(t *testing.T) {
	cases := []struct {
		name  string
		votes map[string]bool
		want  domain.VerificationResult
	}{
		{"no votes", nil, domain.ResultFailure},
		{"tie", map[string]bool{v1: true, v2: false}, domain.ResultFailure},
		{"single yes", map[string]bool{v3: true}, domain.ResultSuccess},
		{"single no", map[string]bool{v2: false}, domain.ResultFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.fund(t, owner, domain.LamportsPerUnit)
			g, v := env.submitted(t, domain.FailBurn)
			for verifier, yes := range tc.votes {
				vote(t, env, v.ID, verifier, yes)
			}
			env.advance(24*time.Hour - time.Second)
			if _, err := env.Engine.FinalizeVerification(env.Ctx, v.ID, owner); !errors.Is(err, domain.ErrVerificationNotComplete) {
				t.Fatalf("expected VerificationNotComplete before deadline, got %v", err)
			}
			if _, err := env.Engine.ClaimOrDistribute(env.Ctx, g.ID, owner); !errors.Is(err, domain.ErrVerificationNotFinalized) {
				t.Fatalf("expected VerificationNotFinalized, got %v", err)
			}
			env.advance(time.Second)
			v, err := env.Engine.FinalizeVerification(env.Ctx, v.ID, "cranker")
			if err != nil {
				t.Fatalf("finalize at deadline: %v", err)
			}
			if *v.Result != tc.want {
				t.Fatalf("result %s, want %s", *v.Result, tc.want)
			}
		})
	}
}

func TestVoteAfterDeadlineBeforeFinalize(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, owner, domain.LamportsPerUnit)
	_, v := env.submitted(t, domain.FailBurn)
	env.advance(48 * time.Hour)
	vote(t, env, v.ID, v1, true)
	v, err := env.Engine.FinalizeVerification(env.Ctx, v.ID, owner)
	if err != nil || *v.Result != domain.ResultSuccess {
		t.Fatalf("finalize: %v", err)
	}
}

func TestSettleExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, owner, domain.LamportsPerUnit)
	g, v := env.submitted(t, domain.FailBurn)
	vote(t, env, v.ID, v1, true)
	vote(t, env, v.ID, v2, true)
	if _, err := env.Engine.FinalizeVerification(env.Ctx, v.ID, owner); !errors.Is(err, domain.ErrVerificationNotComplete) {
		t.Fatalf("two votes before deadline must not finalize, got %v", err)
	}
	vote(t, env, v.ID, v3, true)
	if _, err := env.Engine.FinalizeVerification(env.Ctx, v.ID, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ClaimOrDistribute(env.Ctx, g.ID, ""); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized without signer, got %v", err)
	}
	if _, err := env.Engine.ClaimOrDistribute(env.Ctx, g.ID, owner); err != nil {
		t.Fatal(err)
	}
	before := env.lastEventID(t)
	if _, err := env.Engine.ClaimOrDistribute(env.Ctx, g.ID, owner); !errors.Is(err, domain.ErrInvalidGoalStatus) {
		t.Fatalf("expected InvalidGoalStatus on second settle, got %v", err)
	}
	if env.lastEventID(t) != before {
		t.Fatalf("second settle wrote an event")
	}
	if got := env.balance(t, owner); got != domain.LamportsPerUnit {
		t.Fatalf("owner balance = %d", got)
	}

	if _, err := env.Engine.SubmitForVerification(env.Ctx, g.ID, owner); !errors.Is(err, domain.ErrInvalidGoalStatus) {
		t.Fatalf("expected InvalidGoalStatus on submit after settle, got %v", err)
	}
	if _, err := env.Engine.CastVote(env.Ctx, v.ID, v1, false); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("expected AlreadyFinalized on vote after settle, got %v", err)
	}
	if _, err := env.Engine.FinalizeVerification(env.Ctx, v.ID, owner); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("expected AlreadyFinalized on finalize after settle, got %v", err)
	}
	if env.lastEventID(t) != before {
		t.Fatalf("calls after settlement wrote events")
	}
}

func TestDeadlineStoredAfterCreation(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, owner, domain.LamportsPerUnit)
	env.advance(300 * time.Millisecond)

	opts := env.goalOpts(domain.FailBurn)
	opts.Deadline = env.clock.Add(500 * time.Millisecond)
	if _, err := env.Engine.InitializeGoal(env.Ctx, opts); !errors.Is(err, domain.ErrDeadlineInPast) {
		t.Fatalf("expected DeadlineInPast for a deadline inside the current second, got %v", err)
	}

	opts.Deadline = env.clock.Add(1500 * time.Millisecond)
	g, err := env.Engine.InitializeGoal(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	if !g.Deadline.After(g.CreatedAt) {
		t.Fatalf("deadline %v not after created_at %v", g.Deadline, g.CreatedAt)
	}
	stored, err := env.Engine.GetGoal(env.Ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Deadline.Equal(g.Deadline) || !stored.Deadline.After(stored.CreatedAt) {
		t.Fatalf("stored deadline %v created_at %v", stored.Deadline, stored.CreatedAt)
	}
}

func TestListGoals(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, owner, 5*domain.LamportsPerUnit)
	env.fund(t, "other", 5*domain.LamportsPerUnit)
	if _, err := env.Engine.InitializeGoal(env.Ctx, env.goalOpts(domain.FailBurn)); err != nil {
		t.Fatal(err)
	}
	env.advance(time.Minute)
	opts := env.goalOpts(domain.FailCompanyWallet)
	opts.Owner = "other"
	if _, err := env.Engine.InitializeGoal(env.Ctx, opts); err != nil {
		t.Fatal(err)
	}

	all, err := env.Engine.ListGoals(env.Ctx, repo.GoalFilters{})
	if err != nil || len(all) != 2 || all[0].Owner != "other" {
		t.Fatalf("list all: %d err=%v", len(all), err)
	}
	page, err := env.Engine.ListGoals(env.Ctx, repo.GoalFilters{Limit: 1, Cursor: repo.GoalCursor(all[0])})
	if err != nil || len(page) != 1 || page[0].Owner != owner {
		t.Fatalf("second page: %+v err=%v", page, err)
	}
	mine, err := env.Engine.ListGoals(env.Ctx, repo.GoalFilters{Owner: owner, Status: string(domain.GoalActive)})
	if err != nil || len(mine) != 1 {
		t.Fatalf("filtered: %d err=%v", len(mine), err)
	}
	if _, err := env.Engine.ListGoals(env.Ctx, repo.GoalFilters{Cursor: "garbage"}); err == nil {
		t.Fatalf("expected cursor error")
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	key, raw, err := env.Engine.CreateAPIKey(ctx, "alice", "laptop")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(raw, "bsk_") || key.KeyHash == raw {
		t.Fatalf("raw key must be prefixed and stored hashed, got %q / %q", raw, key.KeyHash)
	}
	stored, err := env.Engine.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil || stored.Address != "alice" {
		t.Fatalf("lookup by hash: %+v %v", stored, err)
	}

	if err := env.Engine.RevokeAPIKey(ctx, key.ID, "bob"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for another address, got %v", err)
	}
	if err := env.Engine.RevokeAPIKey(ctx, key.ID, "alice"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	keys, err := env.Engine.ListAPIKeys(ctx, "alice")
	if err != nil || len(keys) != 0 {
		t.Fatalf("expected no keys, got %v %v", keys, err)
	}
}

func TestDepositOverflowLeavesBalance(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Deposit(env.Ctx, owner, ledger.MaxBalance, "faucet"); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	before := env.lastEventID(t)
	if _, err := env.Engine.Deposit(env.Ctx, owner, 1, "faucet"); !errors.Is(err, domain.ErrBalanceOverflow) {
		t.Fatalf("expected BalanceOverflow, got %v", err)
	}
	if got := env.balance(t, owner); got != ledger.MaxBalance {
		t.Fatalf("balance = %d", got)
	}
	if env.lastEventID(t) != before {
		t.Fatalf("refused deposit wrote an event")
	}
}
