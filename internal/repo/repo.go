package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bullseye/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func unix(t time.Time) int64 { return t.UTC().Unix() }

func fromUnix(s int64) time.Time { return time.Unix(s, 0).UTC() }

// Counters

func scanCounter(row scanner) (domain.GoalCounter, error) {
	var c domain.GoalCounter
	var active sql.NullInt64
	var created int64
	err := row.Scan(&c.Owner, &c.Count, &active, &created)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if active.Valid {
		n := uint64(active.Int64)
		c.ActiveGoal = &n
	}
	c.CreatedAt = fromUnix(created)
	return c, nil
}

const counterCols = `owner,count,active_goal,created_at`

// InsertCounter creates a counter row. It reports false when the owner
// already has one.
func (r Repo) InsertCounter(ctx context.Context, tx *sql.Tx, c domain.GoalCounter) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO goal_counters(owner,count,active_goal,created_at) VALUES (?,0,NULL,?) ON CONFLICT(owner) DO NOTHING`,
		c.Owner, unix(c.CreatedAt))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r Repo) GetCounter(ctx context.Context, owner string) (domain.GoalCounter, error) {
	return r.getCounter(ctx, r.DB, owner)
}

func (r Repo) GetCounterTx(ctx context.Context, tx *sql.Tx, owner string) (domain.GoalCounter, error) {
	return r.getCounter(ctx, tx, owner)
}

func (r Repo) getCounter(ctx context.Context, q Querier, owner string) (domain.GoalCounter, error) {
	return scanCounter(q.QueryRowContext(ctx, `SELECT `+counterCols+` FROM goal_counters WHERE owner=?`, owner))
}

// ClaimGoalSlot advances the counter and marks goalNumber active. The update
// only applies while the owner has no open goal and the count is still
// goalNumber, so it reports false for the loser of a race.
func (r Repo) ClaimGoalSlot(ctx context.Context, tx *sql.Tx, owner string, goalNumber uint64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE goal_counters SET count=count+1, active_goal=? WHERE owner=? AND active_goal IS NULL AND count=?`,
		goalNumber, owner, goalNumber)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ReleaseGoalSlot clears the active goal if it still points at goalNumber.
func (r Repo) ReleaseGoalSlot(ctx context.Context, tx *sql.Tx, owner string, goalNumber uint64) error {
	_, err := tx.ExecContext(ctx, `UPDATE goal_counters SET active_goal=NULL WHERE owner=? AND active_goal=?`, owner, goalNumber)
	return err
}

// Goals

const goalCols = `id,owner,goal_number,title,COALESCE(description,''),amount,deadline,fail_action,status,verifier_0,verifier_1,verifier_2,COALESCE(verification_id,''),created_at`

func scanGoal(row scanner) (domain.Goal, error) {
	var g domain.Goal
	var deadline, created int64
	err := row.Scan(&g.ID, &g.Owner, &g.GoalNumber, &g.Title, &g.Description, &g.Amount, &deadline,
		&g.FailAction, &g.Status, &g.Verifiers[0], &g.Verifiers[1], &g.Verifiers[2], &g.VerificationID, &created)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.Deadline = fromUnix(deadline)
	g.CreatedAt = fromUnix(created)
	return g, nil
}

func (r Repo) InsertGoal(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO goals(id,owner,goal_number,title,description,amount,deadline,fail_action,status,verifier_0,verifier_1,verifier_2,verification_id,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, g.Owner, g.GoalNumber, g.Title, nullable(g.Description), g.Amount, unix(g.Deadline), g.FailAction, g.Status,
		g.Verifiers[0], g.Verifiers[1], g.Verifiers[2], nullable(g.VerificationID), unix(g.CreatedAt))
	return err
}

func (r Repo) GetGoal(ctx context.Context, id string) (domain.Goal, error) {
	return scanGoal(r.DB.QueryRowContext(ctx, `SELECT `+goalCols+` FROM goals WHERE id=?`, id))
}

func (r Repo) GetGoalTx(ctx context.Context, tx *sql.Tx, id string) (domain.Goal, error) {
	return scanGoal(tx.QueryRowContext(ctx, `SELECT `+goalCols+` FROM goals WHERE id=?`, id))
}

func (r Repo) GetGoalByNumber(ctx context.Context, owner string, n uint64) (domain.Goal, error) {
	return scanGoal(r.DB.QueryRowContext(ctx, `SELECT `+goalCols+` FROM goals WHERE owner=? AND goal_number=?`, owner, n))
}

// MarkGoalSubmitted moves an active goal to submitted and links its
// verification. It reports false if the goal was no longer active.
func (r Repo) MarkGoalSubmitted(ctx context.Context, tx *sql.Tx, goalID, verificationID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE goals SET status=?, verification_id=? WHERE id=? AND status=?`,
		domain.GoalSubmitted, verificationID, goalID, domain.GoalActive)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SettleGoal moves a submitted goal to a terminal status. It reports false if
// the goal was already settled.
func (r Repo) SettleGoal(ctx context.Context, tx *sql.Tx, goalID string, status domain.GoalStatus) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("settle goal %s: %s is not terminal", goalID, status)
	}
	res, err := tx.ExecContext(ctx, `UPDATE goals SET status=? WHERE id=? AND status=?`, status, goalID, domain.GoalSubmitted)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

type GoalFilters struct {
	Owner  string
	Status string
	Limit  int
	// Cursor is GoalCursor of the last row of the previous page.
	Cursor string
}

// ListGoals returns goals newest first.
func (r Repo) ListGoals(ctx context.Context, f GoalFilters) ([]domain.Goal, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Owner != "" {
		clauses = append(clauses, "owner=?")
		args = append(args, f.Owner)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Cursor != "" {
		createdAt, id, err := DecodeGoalCursor(f.Cursor)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, createdAt, createdAt, id)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM goals WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`, goalCols, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// GoalCursor encodes the pagination position after g.
func GoalCursor(g domain.Goal) string {
	return fmt.Sprintf("%d|%s", unix(g.CreatedAt), g.ID)
}

func DecodeGoalCursor(cursor string) (int64, string, error) {
	ts, id, ok := strings.Cut(cursor, "|")
	if !ok || id == "" {
		return 0, "", fmt.Errorf("invalid cursor %q", cursor)
	}
	var createdAt int64
	if _, err := fmt.Sscanf(ts, "%d", &createdAt); err != nil {
		return 0, "", fmt.Errorf("invalid cursor %q", cursor)
	}
	return createdAt, id, nil
}

// Verifications

const verificationCols = `id,goal_id,verifier_0,verifier_1,verifier_2,yes_votes,no_votes,cast_0,cast_1,cast_2,finalized,result,deadline,created_at`

func scanVerification(row scanner) (domain.Verification, error) {
	var v domain.Verification
	var result sql.NullString
	var deadline, created int64
	err := row.Scan(&v.ID, &v.GoalID, &v.Verifiers[0], &v.Verifiers[1], &v.Verifiers[2], &v.YesVotes, &v.NoVotes,
		&v.VotesCast[0], &v.VotesCast[1], &v.VotesCast[2], &v.Finalized, &result, &deadline, &created)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if result.Valid {
		res := domain.VerificationResult(result.String)
		v.Result = &res
	}
	v.Deadline = fromUnix(deadline)
	v.CreatedAt = fromUnix(created)
	return v, nil
}

func (r Repo) InsertVerification(ctx context.Context, tx *sql.Tx, v domain.Verification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO verifications(id,goal_id,verifier_0,verifier_1,verifier_2,deadline,created_at) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.GoalID, v.Verifiers[0], v.Verifiers[1], v.Verifiers[2], unix(v.Deadline), unix(v.CreatedAt))
	return err
}

func (r Repo) GetVerification(ctx context.Context, id string) (domain.Verification, error) {
	return scanVerification(r.DB.QueryRowContext(ctx, `SELECT `+verificationCols+` FROM verifications WHERE id=?`, id))
}

func (r Repo) GetVerificationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Verification, error) {
	return scanVerification(tx.QueryRowContext(ctx, `SELECT `+verificationCols+` FROM verifications WHERE id=?`, id))
}

func (r Repo) GetVerificationByGoal(ctx context.Context, goalID string) (domain.Verification, error) {
	return scanVerification(r.DB.QueryRowContext(ctx, `SELECT `+verificationCols+` FROM verifications WHERE goal_id=?`, goalID))
}

var castColumns = [domain.PanelSize]string{"cast_0", "cast_1", "cast_2"}

// RecordVote marks slot as cast and bumps the tally. It reports false if the
// slot had already voted or the verification was finalized meanwhile.
func (r Repo) RecordVote(ctx context.Context, tx *sql.Tx, id string, slot int, yes bool) (bool, error) {
	if slot < 0 || slot >= domain.PanelSize {
		return false, fmt.Errorf("invalid verifier slot %d", slot)
	}
	col := castColumns[slot]
	tally := "no_votes"
	if yes {
		tally = "yes_votes"
	}
	query := fmt.Sprintf(`UPDATE verifications SET %[1]s=1, %[2]s=%[2]s+1 WHERE id=? AND %[1]s=0 AND finalized=0`, col, tally)
	res, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// FinalizeVerification stores the result once. It reports false if another
// writer finalized first.
func (r Repo) FinalizeVerification(ctx context.Context, tx *sql.Tx, id string, result domain.VerificationResult) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE verifications SET finalized=1, result=? WHERE id=? AND finalized=0`, result, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Events

type EventFilters struct {
	GoalID     string
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	// Before returns events with IDs lower than this cursor.
	Before int64
}

const eventCols = `id,ts,type,COALESCE(goal_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.GoalID != "" {
		clauses = append(clauses, "goal_id=?")
		args = append(args, f.GoalID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventCols, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT `+eventCols+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.GoalID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
