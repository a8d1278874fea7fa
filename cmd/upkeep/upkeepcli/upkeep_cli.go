// Package upkeepcli provides an implementation for the Upkeep CLI.
//
// This package is largely for internal use and doesn't provide the same API
// guarantees as the main Upkeep modules. Breaking API changes will be made
// without warning.
package upkeepcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/upkeephq/upkeep/upkeepmigrate"
)

// CLI provides a common base of commands for the Upkeep CLI.
type CLI struct {
	driverProcurer DriverProcurer
	out            io.Writer
}

// NewCLI initializes a CLI. The driver procurer is normally left nil so that
// one is chosen based on the scheme of the database URL, but tests inject one
// to target a preopened database.
func NewCLI(driverProcurer DriverProcurer) *CLI {
	return &CLI{
		driverProcurer: driverProcurer,
		out:            os.Stdout,
	}
}

// SetOut sets standard output for the CLI. Should be called before
// BaseCommandSet.
func (c *CLI) SetOut(out io.Writer) { c.out = out }

// BaseCommandSet provides a base Upkeep CLI command set which may be further
// augmented with additional commands.
func (c *CLI) BaseCommandSet() *cobra.Command {
	var rootOpts struct {
		Debug   bool
		Verbose bool
	}
	rootCmd := &cobra.Command{
		Use:   "upkeep",
		Short: "Provides command line facilities for the Upkeep database schema",
		Long: strings.TrimSpace(`
Provides command line facilities for the Upkeep database schema, including
applying migrations, rolling them back, and inspecting migration state.
		`),
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Usage()
		},
	}
	rootCmd.PersistentFlags().BoolVar(&rootOpts.Debug, "debug", false, "output maximum logging verbosity (debug level)")
	rootCmd.PersistentFlags().BoolVarP(&rootOpts.Verbose, "verbose", "v", false, "output additional logging verbosity (info level)")
	rootCmd.MarkFlagsMutuallyExclusive("debug", "verbose")

	ctx := context.Background()

	makeLogger := func() *slog.Logger {
		switch {
		case rootOpts.Debug:
			return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
		case rootOpts.Verbose:
			return slog.New(tint.NewHandler(os.Stdout, nil))
		default:
			return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelWarn}))
		}
	}

	// Make a bundle for RunCommand. Takes a database URL pointer because not
	// every command is required to take a database URL.
	makeCommandBundle := func(databaseURL *string) *RunCommandBundle {
		return &RunCommandBundle{
			DatabaseURL:    databaseURL,
			DriverProcurer: c.driverProcurer,
			Logger:         makeLogger(),
			OutStd:         c.out,
		}
	}

	addDatabaseURLFlag := func(cmd *cobra.Command, databaseURL *string) {
		cmd.Flags().StringVar(databaseURL, "database-url", "", "URL of the database (should look like `postgres://...` or `sqlite://...`); defaults to DATABASE_URL")
	}

	// migrate
	{
		var opts migrateOpts

		cmd := &cobra.Command{
			Use:   "migrate",
			Short: "Apply pending schema migrations",
			Long: strings.TrimSpace(`
Apply all pending schema migrations in version order. Each migration runs in
its own transaction and its outcome is recorded in the migration ledger. The
run halts at the first failure, leaving earlier migrations applied; a
subsequent invocation retries the failed migration and continues from there.
	`),
			Run: func(cmd *cobra.Command, args []string) {
				RunCommand(ctx, makeCommandBundle(&opts.DatabaseURL), &migrate{}, &opts)
			},
		}
		addDatabaseURLFlag(cmd, &opts.DatabaseURL)
		rootCmd.AddCommand(cmd)
	}

	// rollback
	{
		var opts rollbackOpts

		cmd := &cobra.Command{
			Use:   "rollback",
			Short: "Roll back the most recent schema migration",
			Long: strings.TrimSpace(`
Roll back the most recently applied schema migration and remove its ledger
entry. Only a single migration is reversed per invocation; run repeatedly to
walk further back.
	`),
			Run: func(cmd *cobra.Command, args []string) {
				RunCommand(ctx, makeCommandBundle(&opts.DatabaseURL), &rollback{}, &opts)
			},
		}
		addDatabaseURLFlag(cmd, &opts.DatabaseURL)
		rootCmd.AddCommand(cmd)
	}

	// status
	{
		var opts statusOpts

		cmd := &cobra.Command{
			Use:   "status",
			Short: "Show applied and pending schema migrations",
			Long: strings.TrimSpace(`
Show the status of every registered schema migration: applied migrations with
the time they were applied, and pending ones, including the error message of
the last failed attempt, if any. Makes no changes to the database.
	`),
			Run: func(cmd *cobra.Command, args []string) {
				RunCommand(ctx, makeCommandBundle(&opts.DatabaseURL), &status{}, &opts)
			},
		}
		addDatabaseURLFlag(cmd, &opts.DatabaseURL)
		rootCmd.AddCommand(cmd)
	}

	// validate
	{
		var opts validateOpts

		cmd := &cobra.Command{
			Use:   "validate",
			Short: "Check that all registered migrations have been applied",
			Long: strings.TrimSpace(`
Check that the database schema is up to date with all registered migrations.
Exits zero if so, and non-zero with a list of pending versions otherwise.
Useful as a deploy gate.
	`),
			Run: func(cmd *cobra.Command, args []string) {
				RunCommand(ctx, makeCommandBundle(&opts.DatabaseURL), &validate{}, &opts)
			},
		}
		addDatabaseURLFlag(cmd, &opts.DatabaseURL)
		rootCmd.AddCommand(cmd)
	}

	// version
	{
		cmd := &cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(c.out, "upkeep version %s\n", Version)
			},
		}
		rootCmd.AddCommand(cmd)
	}

	return rootCmd
}

// Version is the CLI's version, stamped at build time via ldflags.
var Version = "devel"

type migrateOpts struct {
	DatabaseURL string
}

func (o *migrateOpts) Validate() error { return nil }

type migrate struct {
	CommandBase
}

func (c *migrate) Run(ctx context.Context, opts *migrateOpts) (bool, error) {
	migrator, err := c.DriverProcurer.ProcureMigrator(c.Logger)
	if err != nil {
		return false, err
	}

	res, migrateErr := migrator.Migrate(ctx)
	if res != nil {
		migratePrintResult(c.Out, res)
	}
	if migrateErr != nil {
		return false, migrateErr
	}

	return true, nil
}

// Rounds a duration so that it doesn't show so much cluttered and not useful
// precision in printf output.
func roundDuration(duration time.Duration) time.Duration {
	switch {
	case duration > 1*time.Second:
		return duration.Truncate(10 * time.Millisecond)
	case duration < 1*time.Millisecond:
		return duration.Truncate(10 * time.Nanosecond)
	default:
		return duration.Truncate(10 * time.Microsecond)
	}
}

func migratePrintResult(out io.Writer, res *upkeepmigrate.MigrateResult) {
	if len(res.Applied) < 1 && res.FailedVersion == 0 {
		fmt.Fprintf(out, "no migrations to apply\n")
		return
	}

	if len(res.Applied) > 0 {
		appliedWithLongestName := slices.MaxFunc(res.Applied,
			func(a1, a2 upkeepmigrate.AppliedMigration) int { return len(a1.Name) - len(a2.Name) })

		for _, applied := range res.Applied {
			fmt.Fprintf(out, "applied migration %03d %-*s [%s]\n", applied.Version, len(appliedWithLongestName.Name), applied.Name, roundDuration(applied.Duration))
		}
	}

	if res.FailedVersion != 0 {
		fmt.Fprintf(out, "migration %03d failed; %d migration(s) still pending\n", res.FailedVersion, res.Remaining)
	}
}

type rollbackOpts struct {
	DatabaseURL string
}

func (o *rollbackOpts) Validate() error { return nil }

type rollback struct {
	CommandBase
}

func (c *rollback) Run(ctx context.Context, opts *rollbackOpts) (bool, error) {
	migrator, err := c.DriverProcurer.ProcureMigrator(c.Logger)
	if err != nil {
		return false, err
	}

	res, err := migrator.Rollback(ctx)
	if err != nil {
		if errors.Is(err, upkeepmigrate.ErrNothingToRollback) {
			fmt.Fprintf(c.Out, "no applied migrations to roll back\n")
			return true, nil
		}
		return false, err
	}

	fmt.Fprintf(c.Out, "rolled back migration %03d %s [%s]\n", res.Version, res.Name, roundDuration(res.Duration))
	if res.Degraded {
		fmt.Fprintf(c.Out, "warning: reversal was partial: %s\n", res.DegradedReason)
	}

	return true, nil
}

type statusOpts struct {
	DatabaseURL string
}

func (o *statusOpts) Validate() error { return nil }

type status struct {
	CommandBase
}

func (c *status) Run(ctx context.Context, opts *statusOpts) (bool, error) {
	migrator, err := c.DriverProcurer.ProcureMigrator(c.Logger)
	if err != nil {
		return false, err
	}

	res, err := migrator.Status(ctx)
	if err != nil {
		return false, err
	}

	for _, applied := range res.Applied {
		fmt.Fprintf(c.Out, "applied %03d %s at %s\n", applied.Version, applied.Name, applied.AppliedAt.Format(time.RFC3339))
	}
	for _, pending := range res.Pending {
		if pending.LastAttemptError != "" {
			fmt.Fprintf(c.Out, "pending %03d %s (last attempt failed: %s)\n", pending.Version, pending.Name, pending.LastAttemptError)
		} else {
			fmt.Fprintf(c.Out, "pending %03d %s\n", pending.Version, pending.Name)
		}
	}

	return true, nil
}

type validateOpts struct {
	DatabaseURL string
}

func (o *validateOpts) Validate() error { return nil }

type validate struct {
	CommandBase
}

func (c *validate) Run(ctx context.Context, opts *validateOpts) (bool, error) {
	migrator, err := c.DriverProcurer.ProcureMigrator(c.Logger)
	if err != nil {
		return false, err
	}

	res, err := migrator.Validate(ctx)
	if err != nil {
		return false, err
	}

	if !res.OK {
		fmt.Fprintf(c.Out, "schema out of date; pending versions: %v\n", res.PendingVersions)
		return false, nil
	}

	fmt.Fprintf(c.Out, "schema up to date\n")
	return true, nil
}
