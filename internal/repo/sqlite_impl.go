package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"earn-bot/internal/money"
)

// -- Users --

const sqliteUserColumns = `id, balance, verified, referrer_id, first_package_activated, deposit_address, created_at, updated_at`

func (r *SQLiteRepository) EnsureUser(ctx context.Context, id int64, referrerID *int64) (*User, error) {
	q := `
INSERT INTO users (id, referrer_id)
VALUES (?, ?)
ON CONFLICT (id) DO UPDATE SET
    referrer_id = COALESCE(users.referrer_id, excluded.referrer_id),
    updated_at = CURRENT_TIMESTAMP
RETURNING ` + sqliteUserColumns + `;
`
	u, err := scanSQLiteUser(r.db.QueryRowContext(ctx, q, id, referrerID))
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id int64) (*User, error) {
	q := `SELECT ` + sqliteUserColumns + ` FROM users WHERE id = ? LIMIT 1;`
	u, err := scanSQLiteUser(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) SetVerified(ctx context.Context, id int64) error {
	const q = `UPDATE users SET verified = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	ct, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) CountQualifiedReferrals(ctx context.Context, referrerID int64) (int, error) {
	const q = `
SELECT COUNT(*)
FROM users
WHERE referrer_id = ? AND first_package_activated = 1;
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, referrerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count qualified referrals: %w", err)
	}
	return n, nil
}

func scanSQLiteUser(row *sql.Row) (*User, error) {
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

// -- Balances --

func (r *SQLiteRepository) CreditBalance(ctx context.Context, id int64, amount money.Amount) error {
	const q = `UPDATE users SET balance = balance + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	ct, err := r.db.ExecContext(ctx, q, amount, id)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) DebitBalance(ctx context.Context, id int64, amount money.Amount) (bool, error) {
	const q = `
UPDATE users
SET balance = balance - ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND balance >= ?;
`
	ct, err := r.db.ExecContext(ctx, q, amount, id, amount)
	if err != nil {
		return false, fmt.Errorf("debit balance: %w", err)
	}
	n, err := ct.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit balance rows: %w", err)
	}
	return n == 1, nil
}

// -- Packages --

func (r *SQLiteRepository) ActivatePackage(ctx context.Context, userID int64, pkg Package) (bool, error) {
	first := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		const debitQ = `
UPDATE users
SET balance = balance - ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND balance >= ?;
`
		ct, err := tx.ExecContext(ctx, debitQ, pkg.Price, userID, pkg.Price)
		if err != nil {
			return fmt.Errorf("debit package price: %w", err)
		}
		if n, _ := ct.RowsAffected(); n == 0 {
			return ErrInsufficientBalance
		}

		const insertQ = `
INSERT INTO packages (id, user_id, name, price, daily, start_ts, end_ts)
VALUES (?, ?, ?, ?, ?, ?, ?);
`
		if _, err := tx.ExecContext(ctx, insertQ, pkg.ID, userID, pkg.Name, pkg.Price, pkg.Daily, pkg.StartTS, pkg.EndTS); err != nil {
			return fmt.Errorf("insert package: %w", err)
		}

		const flagQ = `
UPDATE users
SET first_package_activated = 1, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND first_package_activated = 0;
`
		ct, err = tx.ExecContext(ctx, flagQ, userID)
		if err != nil {
			return fmt.Errorf("flag first activation: %w", err)
		}
		n, _ := ct.RowsAffected()
		first = n == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return first, nil
}

func (r *SQLiteRepository) ListPackages(ctx context.Context, userID int64) ([]Package, error) {
	const q = `
SELECT id, user_id, name, price, daily, start_ts, end_ts, last_claim_date, created_at
FROM packages
WHERE user_id = ?
ORDER BY rowid ASC;
`
	rows, err := r.db.QueryContext(ctx, q, userID)
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

func (r *SQLiteRepository) ClaimDaily(ctx context.Context, userID int64, now time.Time) (money.Amount, error) {
	// Timestamps are stored in UTC and SQLite compares them as text, so the
	// bound instant must be UTC as well or the comparison misorders.
	now = now.UTC()
	today := now.Format(ClaimDateLayout)
	var total money.Amount
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		const eligibleQ = `
SELECT id, daily
FROM packages
WHERE user_id = ?
  AND end_ts > ?
  AND (last_claim_date IS NULL OR last_claim_date <> ?)
ORDER BY rowid ASC;
`
		rows, err := tx.QueryContext(ctx, eligibleQ, userID, now, today)
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

		const claimQ = `UPDATE packages SET last_claim_date = ? WHERE id = ?;`
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, claimQ, today, id); err != nil {
				return fmt.Errorf("mark package claimed: %w", err)
			}
		}

		const creditQ = `UPDATE users SET balance = balance + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
		ct, err := tx.ExecContext(ctx, creditQ, sum, userID)
		if err != nil {
			return fmt.Errorf("credit claim: %w", err)
		}
		if n, _ := ct.RowsAffected(); n == 0 {
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

// -- Deposits --

func (r *SQLiteRepository) RecordDeposit(ctx context.Context, orderID string, userID int64, amount money.Amount) (bool, error) {
	credited := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		const insertQ = `
INSERT INTO processed_orders (order_id, user_id, amount)
VALUES (?, ?, ?)
ON CONFLICT (order_id) DO NOTHING;
`
		ct, err := tx.ExecContext(ctx, insertQ, orderID, userID, amount)
		if err != nil {
			return fmt.Errorf("insert processed order: %w", err)
		}
		if n, _ := ct.RowsAffected(); n == 0 {
			return nil
		}

		const creditQ = `UPDATE users SET balance = balance + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
		ct, err = tx.ExecContext(ctx, creditQ, amount, userID)
		if err != nil {
			return fmt.Errorf("credit deposit: %w", err)
		}
		if n, _ := ct.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return credited, nil
}

// -- Pending address slot --

func (r *SQLiteRepository) PendingAddress(ctx context.Context) (string, error) {
	const q = `SELECT address FROM pending_address WHERE slot = 1;`
	var addr *string
	if err := r.db.QueryRowContext(ctx, q).Scan(&addr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get pending address: %w", err)
	}
	if addr == nil {
		return "", nil
	}
	return *addr, nil
}

func (r *SQLiteRepository) SetPendingAddress(ctx context.Context, address, orderRef string) error {
	const q = `
UPDATE pending_address
SET address = ?, order_ref = ?, updated_at = CURRENT_TIMESTAMP
WHERE slot = 1 AND address IS NULL;
`
	if _, err := r.db.ExecContext(ctx, q, address, orderRef); err != nil {
		return fmt.Errorf("set pending address: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AssignPendingAddress(ctx context.Context, userID int64) (string, error) {
	var assigned string
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var existing *string
		if err := tx.QueryRowContext(ctx, `SELECT deposit_address FROM users WHERE id = ?;`, userID).Scan(&existing); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("read user address: %w", err)
		}
		if existing != nil {
			assigned = *existing
			return nil
		}

		var pending *string
		if err := tx.QueryRowContext(ctx, `SELECT address FROM pending_address WHERE slot = 1;`).Scan(&pending); err != nil {
			return fmt.Errorf("read pending slot: %w", err)
		}
		if pending == nil {
			return ErrNoPendingAddress
		}

		if _, err := tx.ExecContext(ctx, `UPDATE users SET deposit_address = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`, *pending, userID); err != nil {
			return fmt.Errorf("assign address: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE pending_address SET address = NULL, order_ref = NULL, updated_at = CURRENT_TIMESTAMP WHERE slot = 1;`); err != nil {
			return fmt.Errorf("clear pending slot: %w", err)
		}
		assigned = *pending
		return nil
	})
	if err != nil {
		return "", err
	}
	return assigned, nil
}

// -- Withdrawals --

func (r *SQLiteRepository) InsertWithdrawal(ctx context.Context, w Withdrawal) (*Withdrawal, error) {
	if w.Status == "" {
		w.Status = WithdrawalStatusRequested
	}
	const q = `
INSERT INTO withdrawals (id, user_id, amount, address, status)
VALUES (?, ?, ?, ?, ?)
RETURNING created_at;
`
	if err := r.db.QueryRowContext(ctx, q, w.ID, w.UserID, w.Amount, w.Address, w.Status).Scan(&w.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert withdrawal: %w", err)
	}
	return &w, nil
}
