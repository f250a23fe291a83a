package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"bullseye/internal/config"
	"bullseye/internal/db"
	"bullseye/internal/engine"
	"bullseye/internal/logging"
	"bullseye/internal/migrate"
)

// Options selects the workspace a command runs against.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/bullseye.yml.
	ConfigPath string
	// Logger replaces the logger built from the log section of the config.
	Logger *zap.Logger
}

// Workspace is an opened, migrated ledger with its config and engine.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Logger *zap.Logger
	Engine engine.Engine
}

// Open loads config, opens the database and applies pending migrations.
// A missing config file falls back to defaults.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		if logger, err = logging.New(cfg.Log.Level, cfg.Log.JSON); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	eng := engine.New(conn, cfg)
	eng.Logger = logger
	return &Workspace{
		Dir:    opts.Workspace,
		DB:     conn,
		Config: cfg,
		Logger: logger,
		Engine: eng,
	}, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOptional(opts.Workspace)
}

// Close flushes the logger and closes the database.
func (w *Workspace) Close() error {
	if w == nil {
		return nil
	}
	_ = w.Logger.Sync()
	return w.DB.Close()
}
