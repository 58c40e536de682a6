package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const pgUserColumns = `id, balance, verified, referrer_id, first_package_activated, deposit_address, created_at, updated_at`

// EnsureUser creates the ledger record on first contact. An existing record is
// left untouched except that a missing referrer may be filled in; a referrer,
// once set, is never overwritten.
func (r *PostgresRepository) EnsureUser(ctx context.Context, id int64, referrerID *int64) (*User, error) {
	q := `
INSERT INTO users (id, referrer_id)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET
    referrer_id = COALESCE(users.referrer_id, EXCLUDED.referrer_id),
    updated_at = NOW()
RETURNING ` + pgUserColumns + `;
`
	row := r.pool.QueryRow(ctx, q, id, referrerID)
	u, err := scanPgUser(row)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return u, nil
}

// GetUser returns the user record or ErrNotFound.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	q := `SELECT ` + pgUserColumns + ` FROM users WHERE id = $1 LIMIT 1;`
	u, err := scanPgUser(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SetVerified marks the user as channel-verified.
func (r *PostgresRepository) SetVerified(ctx context.Context, id int64) error {
	const q = `UPDATE users SET verified = TRUE, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountQualifiedReferrals counts referred users who activated their first
// package.
func (r *PostgresRepository) CountQualifiedReferrals(ctx context.Context, referrerID int64) (int, error) {
	const q = `
SELECT COUNT(*)
FROM users
WHERE referrer_id = $1 AND first_package_activated;
`
	var n int
	if err := r.pool.QueryRow(ctx, q, referrerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count qualified referrals: %w", err)
	}
	return n, nil
}

func scanPgUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(
		&u.ID,
		&u.Balance,
		&u.Verified,
		&u.ReferrerID,
		&u.FirstPackageActivated,
		&u.DepositAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}
