package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"earn-bot/internal/money"
)

// CreditBalance atomically adds amount to the user's balance.
func (r *PostgresRepository) CreditBalance(ctx context.Context, id int64, amount money.Amount) error {
	const q = `UPDATE users SET balance = balance + $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, amount)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitBalance checks sufficiency and decrements as a single statement so no
// interleaved debit can observe a stale balance. It reports whether the debit
// was applied.
func (r *PostgresRepository) DebitBalance(ctx context.Context, id int64, amount money.Amount) (bool, error) {
	const q = `
UPDATE users
SET balance = balance - $2, updated_at = NOW()
WHERE id = $1 AND balance >= $2;
`
	ct, err := r.pool.Exec(ctx, q, id, amount)
	if err != nil {
		return false, fmt.Errorf("debit balance: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// ActivatePackage debits the price, appends the package and flips the user's
// first-activation flag in one transaction. ErrInsufficientBalance rolls the
// whole transaction back.
func (r *PostgresRepository) ActivatePackage(ctx context.Context, userID int64, pkg Package) (bool, error) {
	first := false
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const debitQ = `
UPDATE users
SET balance = balance - $2, updated_at = NOW()
WHERE id = $1 AND balance >= $2;
`
		ct, err := tx.Exec(ctx, debitQ, userID, pkg.Price)
		if err != nil {
			return fmt.Errorf("debit package price: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ErrInsufficientBalance
		}

		const insertQ = `
INSERT INTO packages (id, user_id, name, price, daily, start_ts, end_ts)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
		if _, err := tx.Exec(ctx, insertQ, pkg.ID, userID, pkg.Name, pkg.Price, pkg.Daily, pkg.StartTS, pkg.EndTS); err != nil {
			return fmt.Errorf("insert package: %w", err)
		}

		const flagQ = `
UPDATE users
SET first_package_activated = TRUE, updated_at = NOW()
WHERE id = $1 AND NOT first_package_activated;
`
		ct, err = tx.Exec(ctx, flagQ, userID)
		if err != nil {
			return fmt.Errorf("flag first activation: %w", err)
		}
		first = ct.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return first, nil
}

// ListPackages returns the user's packages in insertion order.
func (r *PostgresRepository) ListPackages(ctx context.Context, userID int64) ([]Package, error) {
	const q = `
SELECT id, user_id, name, price, daily, start_ts, end_ts, last_claim_date, created_at
FROM packages
WHERE user_id = $1
ORDER BY seq ASC;
`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var packages []Package
	for rows.Next() {
		var p Package
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Price, &p.Daily, &p.StartTS, &p.EndTS, &p.LastClaimDate, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		packages = append(packages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate packages: %w", err)
	}
	return packages, nil
}

// ClaimDaily marks every active, unclaimed-today package as claimed and
// credits the summed payout in one transaction.
func (r *PostgresRepository) ClaimDaily(ctx context.Context, userID int64, now time.Time) (money.Amount, error) {
	today := now.UTC().Format(ClaimDateLayout)
	var total money.Amount
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const eligibleQ = `
SELECT id, daily
FROM packages
WHERE user_id = $1
  AND end_ts > $2
  AND (last_claim_date IS NULL OR last_claim_date <> $3)
ORDER BY seq ASC
FOR UPDATE;
`
		rows, err := tx.Query(ctx, eligibleQ, userID, now, today)
		if err != nil {
			return fmt.Errorf("select eligible packages: %w", err)
		}
		var ids []string
		var sum money.Amount
		for rows.Next() {
			var id string
			var daily money.Amount
			if err := rows.Scan(&id, &daily); err != nil {
				rows.Close()
				return fmt.Errorf("scan eligible package: %w", err)
			}
			ids = append(ids, id)
			sum += daily
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate eligible packages: %w", err)
		}

		if len(ids) == 0 {
			return nil
		}

		const claimQ = `UPDATE packages SET last_claim_date = $2 WHERE id = ANY($1);`
		if _, err := tx.Exec(ctx, claimQ, ids, today); err != nil {
			return fmt.Errorf("mark packages claimed: %w", err)
		}

		const creditQ = `UPDATE users SET balance = balance + $2, updated_at = NOW() WHERE id = $1;`
		ct, err := tx.Exec(ctx, creditQ, userID, sum)
		if err != nil {
			return fmt.Errorf("credit claim: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ErrNotFound
		}
		total = sum
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
