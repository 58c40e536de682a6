package repo

import (
	"time"

	"earn-bot/internal/money"
)

// User represents the users table row. Users are keyed by their Telegram id,
// created lazily on first contact and never deleted.
type User struct {
	ID                    int64
	Balance               money.Amount
	Verified              bool
	ReferrerID            *int64
	FirstPackageActivated bool
	DepositAddress        *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Package represents a fixed-term yield position. Packages are append-only;
// expiry is computed on read from EndTS.
type Package struct {
	ID            string
	UserID        int64
	Name          string
	Price         money.Amount
	Daily         money.Amount
	StartTS       time.Time
	EndTS         time.Time
	LastClaimDate *string
	CreatedAt     time.Time
}

// ActiveAt reports whether the package still accrues at the given instant.
func (p Package) ActiveAt(now time.Time) bool {
	return p.EndTS.After(now)
}

// Withdrawal represents a row in the withdrawals table.
type Withdrawal struct {
	ID        string
	UserID    int64
	Amount    money.Amount
	Address   string
	Status    string
	CreatedAt time.Time
}

// WithdrawalStatusRequested is the initial status of a submitted withdrawal.
const WithdrawalStatusRequested = "requested"
