package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"earn-bot/internal/money"
)

// RecordDeposit inserts the order id into the processed set and credits the
// balance in one transaction. A duplicate order id leaves all state untouched.
func (r *PostgresRepository) RecordDeposit(ctx context.Context, orderID string, userID int64, amount money.Amount) (bool, error) {
	credited := false
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const insertQ = `
INSERT INTO processed_orders (order_id, user_id, amount)
VALUES ($1, $2, $3)
ON CONFLICT (order_id) DO NOTHING;
`
		ct, err := tx.Exec(ctx, insertQ, orderID, userID, amount)
		if err != nil {
			return fmt.Errorf("insert processed order: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return nil
		}

		const creditQ = `UPDATE users SET balance = balance + $2, updated_at = NOW() WHERE id = $1;`
		ct, err = tx.Exec(ctx, creditQ, userID, amount)
		if err != nil {
			return fmt.Errorf("credit deposit: %w", err)
		}
		if ct.RowsAffected() == 0 {
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

// PendingAddress returns the address currently waiting in the slot, or empty.
func (r *PostgresRepository) PendingAddress(ctx context.Context) (string, error) {
	const q = `SELECT address FROM pending_address WHERE slot = 1;`
	var addr *string
	if err := r.pool.QueryRow(ctx, q).Scan(&addr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get pending address: %w", err)
	}
	if addr == nil {
		return "", nil
	}
	return *addr, nil
}

// SetPendingAddress fills the slot if and only if it is empty.
func (r *PostgresRepository) SetPendingAddress(ctx context.Context, address, orderRef string) error {
	const q = `
UPDATE pending_address
SET address = $1, order_ref = $2, updated_at = NOW()
WHERE slot = 1 AND address IS NULL;
`
	if _, err := r.pool.Exec(ctx, q, address, orderRef); err != nil {
		return fmt.Errorf("set pending address: %w", err)
	}
	return nil
}

// AssignPendingAddress hands the slot to the user as a single read-modify-write.
// A user who already holds an address gets that address back unchanged.
func (r *PostgresRepository) AssignPendingAddress(ctx context.Context, userID int64) (string, error) {
	var assigned string
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var existing *string
		if err := tx.QueryRow(ctx, `SELECT deposit_address FROM users WHERE id = $1 FOR UPDATE;`, userID).Scan(&existing); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}
		if existing != nil {
			assigned = *existing
			return nil
		}

		var pending *string
		if err := tx.QueryRow(ctx, `SELECT address FROM pending_address WHERE slot = 1 FOR UPDATE;`).Scan(&pending); err != nil {
			return fmt.Errorf("lock pending slot: %w", err)
		}
		if pending == nil {
			return ErrNoPendingAddress
		}

		if _, err := tx.Exec(ctx, `UPDATE users SET deposit_address = $2, updated_at = NOW() WHERE id = $1;`, userID, *pending); err != nil {
			return fmt.Errorf("assign address: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE pending_address SET address = NULL, order_ref = NULL, updated_at = NOW() WHERE slot = 1;`); err != nil {
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

// InsertWithdrawal stores a requested withdrawal for audit.
func (r *PostgresRepository) InsertWithdrawal(ctx context.Context, w Withdrawal) (*Withdrawal, error) {
	const q = `
INSERT INTO withdrawals (id, user_id, amount, address, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at;
`
	if w.Status == "" {
		w.Status = WithdrawalStatusRequested
	}
	if err := r.pool.QueryRow(ctx, q, w.ID, w.UserID, w.Amount, w.Address, w.Status).Scan(&w.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert withdrawal: %w", err)
	}
	return &w, nil
}
