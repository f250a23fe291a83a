// Package ledger moves lamports between custody accounts. Every call runs
// inside the caller's transaction; a failed transfer leaves no partial debit
// once that transaction rolls back.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"bullseye/internal/domain"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Balance returns the lamports held by account. Unknown accounts hold zero.
func Balance(ctx context.Context, q Querier, account string) (uint64, error) {
	var lamports uint64
	err := q.QueryRowContext(ctx, `SELECT lamports FROM balances WHERE account=?`, account).Scan(&lamports)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance %s: %w", account, err)
	}
	return lamports, nil
}

// MaxBalance is the largest balance SQLite stores as an integer.
const MaxBalance = math.MaxInt64

// Credit adds lamports to account, creating it if needed. A credit that would
// take the balance past MaxBalance is refused.
func Credit(ctx context.Context, tx *sql.Tx, account string, amount uint64) error {
	if account == "" {
		return errors.New("account required")
	}
	current, err := Balance(ctx, tx, account)
	if err != nil {
		return err
	}
	if amount > MaxBalance-current {
		return domain.ErrBalanceOverflow
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO balances(account,lamports) VALUES (?,?)
ON CONFLICT(account) DO UPDATE SET lamports=lamports+excluded.lamports`, account, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", account, err)
	}
	return nil
}

// Transfer debits from and credits to. The debit is guarded so a concurrent
// spend cannot take the balance below zero.
func Transfer(ctx context.Context, tx *sql.Tx, from, to string, amount uint64) error {
	if from == "" || to == "" {
		return errors.New("transfer requires source and destination")
	}
	if amount == 0 || from == to {
		return nil
	}
	res, err := tx.ExecContext(ctx, `UPDATE balances SET lamports=lamports-? WHERE account=? AND lamports>=?`, amount, from, amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInsufficientFunds
	}
	return Credit(ctx, tx, to, amount)
}

// FormatUnits renders lamports as whole units with up to nine decimals.
func FormatUnits(lamports uint64) string {
	whole := lamports / domain.LamportsPerUnit
	frac := lamports % domain.LamportsPerUnit
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	s := fmt.Sprintf("%d.%09d", whole, frac)
	for s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	return s
}

// ParseUnits converts a decimal unit amount such as "0.5" to lamports.
func ParseUnits(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if len(frac) > 9 {
		return 0, fmt.Errorf("invalid amount %q: more than 9 decimals", s)
	}
	var w, f uint64
	var err error
	if whole != "" {
		if w, err = strconv.ParseUint(whole, 10, 64); err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
	}
	if frac != "" {
		if f, err = strconv.ParseUint(frac+strings.Repeat("0", 9-len(frac)), 10, 64); err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
	}
	if w > (^uint64(0)-f)/domain.LamportsPerUnit {
		return 0, fmt.Errorf("invalid amount %q: overflow", s)
	}
	return w*domain.LamportsPerUnit + f, nil
}
