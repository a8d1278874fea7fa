// Package upkeeptest contains shared testing utilities for the Upkeep
// codebase.
package upkeeptest

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/upkeephq/upkeep/internal/slogtest"
)

var ignoredKnownGoroutineLeaks = []goleak.Option{ //nolint:gochecknoglobals
	// This goroutine contains a 500 ms uninterruptible sleep that may still be
	// running by the time the test suite finishes and cause a failure. See:
	//
	// https://github.com/jackc/pgx/issues/1641
	goleak.IgnoreTopFunction("github.com/jackc/pgx/v5/pgxpool.(*Pool).backgroundHealthCheck"),

	// Similar to the above, may be sitting in a sleep when the program
	// finishes and there's not much we can do about it.
	goleak.IgnoreAnyFunction("github.com/jackc/pgx/v5/pgxpool.(*Pool).triggerHealthCheck.func1"),

	goleak.IgnoreAnyFunction("database/sql.(*DB).connectionOpener"),
}

// WrapTestMain performs common setup and teardown shared amongst all packages,
// currently a check for goroutine leaks on teardown.
func WrapTestMain(m *testing.M) {
	status := m.Run()

	if status == 0 {
		if err := goleak.Find(ignoredKnownGoroutineLeaks...); err != nil {
			fmt.Fprintf(os.Stderr, "goleak: Errors on successful test run: %v\n", err)
			status = 1
		}
	}

	os.Exit(status)
}

// Logger returns a logger suitable for use in tests. Debug level output can be
// enabled by setting UPKEEP_DEBUG=1.
func Logger(tb testing.TB) *slog.Logger {
	tb.Helper()

	if os.Getenv("UPKEEP_DEBUG") == "1" || os.Getenv("UPKEEP_DEBUG") == "true" {
		return slogtest.NewLogger(tb, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	return slogtest.NewLogger(tb, nil)
}

// TimeStub implements baseservice.TimeGenerator with a stubbable current
// time, letting tests verify timestamps written to the ledger.
type TimeStub struct {
	mu  sync.RWMutex
	now time.Time
}

func (t *TimeStub) NowUTC() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.now.IsZero() {
		return time.Now().UTC()
	}
	return t.now
}

// StubNowUTC stubs the current time. Returns the same time passed as parameter
// for convenience.
func (t *TimeStub) StubNowUTC(now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.now = now
	return now
}
