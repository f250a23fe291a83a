package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"bullseye/internal/config"
	"bullseye/internal/domain"
	"bullseye/internal/events"
	"bullseye/internal/logging"
	"bullseye/internal/repo"
)

// Engine runs the goal, vote and settlement operations. Each mutating call
// runs in one transaction: preconditions are read and checked inside it, and
// any failure rolls back every write including the event rows.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Logger *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Logger: zap.NewNop(),
		Now:    time.Now,
	}
}

// now returns the block time for an operation. Records store whole seconds.
func (e Engine) now() time.Time {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().UTC().Truncate(time.Second)
}

// emit appends to the event log stamped with the engine clock unless the
// writer carries its own.
func (e Engine) emit(ctx context.Context, tx *sql.Tx, entry events.Entry) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w.Append(ctx, tx, entry)
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Logger)
}

func (e Engine) program() config.ProgramConfig {
	p := config.Default().Program
	if e.Config != nil {
		p = e.Config.Program
	}
	if p.VerificationWindow <= 0 {
		p.VerificationWindow = domain.DefaultVerificationWindow
	}
	if p.BurnAddress == "" {
		p.BurnAddress = domain.BurnAddress
	}
	if p.CompanyWallet == "" {
		p.CompanyWallet = domain.DefaultCompanyWallet
	}
	return p
}

// rejected logs precondition failures at debug level and returns err as is.
func (e Engine) rejected(op string, err error, fields ...zap.Field) error {
	var derr *domain.Error
	if errors.As(err, &derr) {
		fields = append(fields, zap.String("op", op), zap.String("code", derr.Code))
		e.log().Debug("operation rejected", fields...)
	}
	return err
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return err
}

// NotFoundError reports a missing record. It matches repo.ErrNotFound.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " " + e.ID + " not found"
}

func (e *NotFoundError) Unwrap() error { return repo.ErrNotFound }
