package migrations

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/upkeephq/upkeep/internal/util/randutil"
	"github.com/upkeephq/upkeep/upkeepdriver"
)

// serviceAccountEmail identifies the platform's internal account, used by the
// report generator and cron checks to attribute automated maintenance
// records. It belongs to no organization.
const serviceAccountEmail = "system@upkeep.internal"

// Seeds the service account with a random, bcrypt-hashed credential. The
// credential is intentionally unrecoverable: the account authenticates
// through rotation by an operator, never with this initial value. Guarded by
// an existence check so re-runs don't duplicate it.
func up007SeedServiceAccount(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	query := `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`
	insert := `INSERT INTO users (organization_id, email, name, role, password_hash) VALUES (NULL, $1, 'System', 'system', $2)`
	if dialect == upkeepdriver.DialectSQLite {
		query = `SELECT EXISTS (SELECT 1 FROM users WHERE email = ?)`
		insert = `INSERT INTO users (organization_id, email, name, role, password_hash) VALUES (NULL, ?, 'System', 'system', ?)`
	}

	var exists bool
	if err := exec.QueryRow(ctx, query, serviceAccountEmail).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(randutil.Hex(32)), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return exec.Exec(ctx, insert, serviceAccountEmail, string(hash))
}

func down007SeedServiceAccount(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	statement := `DELETE FROM users WHERE email = $1 AND role = 'system'`
	if dialect == upkeepdriver.DialectSQLite {
		statement = `DELETE FROM users WHERE email = ? AND role = 'system'`
	}
	return exec.Exec(ctx, statement, serviceAccountEmail)
}
