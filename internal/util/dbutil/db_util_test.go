package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/upkeephq/upkeep/upkeepdriver"
	"github.com/upkeephq/upkeep/upkeepdriver/upkeepsqlite"
)

func setupExecutor(t *testing.T) upkeepdriver.Executor {
	t.Helper()

	dbPool, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	dbPool.SetMaxOpenConns(1)
	t.Cleanup(func() { require.NoError(t, dbPool.Close()) })

	return upkeepsqlite.New(dbPool).GetExecutor()
}

func TestWithTx(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec := setupExecutor(t)

	err := WithTx(ctx, exec, func(ctx context.Context, execTx upkeepdriver.ExecutorTx) error {
		return execTx.Exec(ctx, `CREATE TABLE with_tx_table (id integer PRIMARY KEY)`)
	})
	require.NoError(t, err)

	exists, err := exec.TableExists(ctx, "with_tx_table")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec := setupExecutor(t)

	expectedErr := errors.New("inner failure")
	err := WithTx(ctx, exec, func(ctx context.Context, execTx upkeepdriver.ExecutorTx) error {
		if err := execTx.Exec(ctx, `CREATE TABLE with_tx_table (id integer PRIMARY KEY)`); err != nil {
			return err
		}
		return expectedErr
	})
	require.ErrorIs(t, err, expectedErr)

	exists, err := exec.TableExists(ctx, "with_tx_table")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestWithTxV(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec := setupExecutor(t)

	count, err := WithTxV(ctx, exec, func(ctx context.Context, execTx upkeepdriver.ExecutorTx) (int, error) {
		var count int
		if err := execTx.QueryRow(ctx, `SELECT 7`).Scan(&count); err != nil {
			return 0, err
		}
		return count, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, count)
}
