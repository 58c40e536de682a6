package repo

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"earn-bot/internal/money"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientBalance indicates a debit would drive the balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNoPendingAddress indicates the deposit address slot is empty.
	ErrNoPendingAddress = errors.New("no pending deposit address")
)

// ClaimDateLayout is the calendar-date format stored in last_claim_date.
const ClaimDateLayout = "2006-01-02"

// Store defines the interface for data persistence. Every mutation is durable
// before the call returns.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	EnsureUser(ctx context.Context, id int64, referrerID *int64) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	SetVerified(ctx context.Context, id int64) error
	CountQualifiedReferrals(ctx context.Context, referrerID int64) (int, error)

	// Balances
	CreditBalance(ctx context.Context, id int64, amount money.Amount) error
	DebitBalance(ctx context.Context, id int64, amount money.Amount) (bool, error)

	// Packages. ActivatePackage debits the price, appends the package and
	// flips the first-activation flag in one transaction; it reports whether
	// this was the user's first activation.
	ActivatePackage(ctx context.Context, userID int64, pkg Package) (bool, error)
	ListPackages(ctx context.Context, userID int64) ([]Package, error)
	ClaimDaily(ctx context.Context, userID int64, now time.Time) (money.Amount, error)

	// Deposits. RecordDeposit inserts the order id into the processed set and
	// credits the balance in one transaction; it reports whether the order was
	// new (false means a duplicate delivery, nothing credited).
	RecordDeposit(ctx context.Context, orderID string, userID int64, amount money.Amount) (bool, error)

	// Pending deposit address slot
	PendingAddress(ctx context.Context) (string, error)
	SetPendingAddress(ctx context.Context, address, orderRef string) error
	AssignPendingAddress(ctx context.Context, userID int64) (string, error)

	// Withdrawals
	InsertWithdrawal(ctx context.Context, w Withdrawal) (*Withdrawal, error)
}
