package upkeepcli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

// Command is an interface to an Upkeep CLI subcommand. Commands generally only
// implement a Run function, and get the rest of the implementation by
// embedding CommandBase.
type Command[TOpts CommandOpts] interface {
	Run(ctx context.Context, opts TOpts) (bool, error)
	GetCommandBase() *CommandBase
	SetCommandBase(b *CommandBase)
}

// CommandBase provides common facilities for an Upkeep CLI command. It's
// generally embedded on the struct of a command.
type CommandBase struct {
	DriverProcurer DriverProcurer
	Logger         *slog.Logger
	Out            io.Writer
}

func (b *CommandBase) GetCommandBase() *CommandBase     { return b }
func (b *CommandBase) SetCommandBase(base *CommandBase) { *b = *base }

// CommandOpts are options for a command. It makes sure that options provide a
// way of validating themselves.
type CommandOpts interface {
	Validate() error
}

// envConfig is configuration read from the process environment, used as
// fallback when the corresponding flags aren't given.
type envConfig struct {
	DatabaseURL string `env:"DATABASE_URL"`
}

// RunCommandBundle is a bundle of utilities for RunCommand.
type RunCommandBundle struct {
	DatabaseURL    *string
	DriverProcurer DriverProcurer
	Logger         *slog.Logger
	OutStd         io.Writer
}

// RunCommand bootstraps and runs an Upkeep CLI subcommand: it resolves a
// database URL from flag or environment, opens a pool appropriate to the
// URL's scheme, and dispatches to the command with a driver procurer for the
// detected dialect.
func RunCommand[TOpts CommandOpts](ctx context.Context, bundle *RunCommandBundle, command Command[TOpts], opts TOpts) {
	procureAndRun := func() (bool, error) {
		if err := opts.Validate(); err != nil {
			return false, err
		}

		var envVars envConfig
		if err := env.Parse(&envVars); err != nil {
			return false, fmt.Errorf("error parsing environment configuration: %w", err)
		}

		databaseURL := envVars.DatabaseURL
		if bundle.DatabaseURL != nil && *bundle.DatabaseURL != "" {
			databaseURL = *bundle.DatabaseURL
		}

		driverProcurer := bundle.DriverProcurer
		if driverProcurer == nil {
			if databaseURL == "" {
				return false, fmt.Errorf("database URL required; use --database-url or set DATABASE_URL")
			}

			scheme, urlWithoutScheme, ok := strings.Cut(databaseURL, "://")
			if !ok {
				return false, fmt.Errorf("expected database URL (`%s`) to be formatted like `postgres://...` or `sqlite://...`", databaseURL)
			}

			switch scheme {
			case "postgres", "postgresql":
				dbPool, err := openPgxV5DBPool(ctx, databaseURL)
				if err != nil {
					return false, err
				}
				defer dbPool.Close()

				driverProcurer = &pgxV5DriverProcurer{dbPool: dbPool}

			case "sqlite":
				dbPool, err := openSQLitePool(urlWithoutScheme)
				if err != nil {
					return false, err
				}
				defer dbPool.Close()

				driverProcurer = &sqliteDriverProcurer{dbPool: dbPool}

			default:
				return false, fmt.Errorf("unsupported database URL (`%s`); try one with a `postgres://`, `postgresql://`, or `sqlite://` scheme/prefix", databaseURL)
			}
		}

		command.SetCommandBase(&CommandBase{
			DriverProcurer: driverProcurer,
			Logger:         bundle.Logger,
			Out:            bundle.OutStd,
		})

		return command.Run(ctx, opts)
	}

	ok, err := procureAndRun()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed: %s\n", err)
	}
	if err != nil || !ok {
		os.Exit(1)
	}
}

func openPgxV5DBPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	const (
		defaultIdleInTransactionSessionTimeout = 11 * time.Second // should be greater than statement timeout because statements count towards idle-in-transaction
		defaultStatementTimeout                = 10 * time.Second
	)

	pgxConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing database URL: %w", err)
	}

	// Sets a parameter in a parameter map (aimed at a Postgres connection
	// configuration map), but only if that parameter wasn't already set.
	setParamIfUnset := func(runtimeParams map[string]string, name, val string) {
		if currentVal := runtimeParams[name]; currentVal != "" {
			return
		}

		runtimeParams[name] = val
	}

	setParamIfUnset(pgxConfig.ConnConfig.RuntimeParams, "application_name", "upkeep CLI")
	setParamIfUnset(pgxConfig.ConnConfig.RuntimeParams, "idle_in_transaction_session_timeout", strconv.Itoa(int(defaultIdleInTransactionSessionTimeout.Milliseconds())))
	setParamIfUnset(pgxConfig.ConnConfig.RuntimeParams, "statement_timeout", strconv.Itoa(int(defaultStatementTimeout.Milliseconds())))

	dbPool, err := pgxpool.NewWithConfig(ctx, pgxConfig)
	if err != nil {
		return nil, fmt.Errorf("error connecting to Postgres database: %w", err)
	}

	return dbPool, nil
}

func openSQLitePool(urlWithoutScheme string) (*sql.DB, error) {
	dbPool, err := sql.Open("sqlite", urlWithoutScheme)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite database: %w", err)
	}

	// SQLite allows only one writer at a time; a single connection avoids
	// SQLITE_BUSY errors. Migrations are strictly sequential anyway.
	dbPool.SetMaxOpenConns(1)

	return dbPool, nil
}
