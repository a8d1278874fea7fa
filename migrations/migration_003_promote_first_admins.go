package migrations

import (
	"context"

	"github.com/upkeephq/upkeep/upkeepdriver"
)

// Data backfill: organizations created before roles existed have no admin, so
// promote each one's earliest user. Guarded so that organizations which
// already have an admin are untouched, making the backfill re-run safe.
func up003PromoteFirstAdmins(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	const statement = `
UPDATE users
SET role = 'admin'
WHERE id IN (
    SELECT min(u.id)
    FROM users u
    WHERE u.organization_id IS NOT NULL
    GROUP BY u.organization_id
)
AND NOT EXISTS (
    SELECT 1
    FROM users other
    WHERE other.organization_id = users.organization_id
        AND other.role = 'admin'
)`
	return exec.Exec(ctx, statement)
}

// Closest approximation of a reversal: demote admins matching the promotion
// pattern back to members. Admins created through the application afterward
// can't be distinguished from promoted ones and may be demoted too.
func down003PromoteFirstAdmins(ctx context.Context, exec upkeepdriver.ExecutorTx, dialect upkeepdriver.Dialect) error {
	const statement = `
UPDATE users
SET role = 'member'
WHERE role = 'admin'
AND id IN (
    SELECT min(u.id)
    FROM users u
    WHERE u.organization_id IS NOT NULL
    GROUP BY u.organization_id
)`
	return exec.Exec(ctx, statement)
}
