// Package ledger owns balance mutation, package activation and accrual, and
// referral bonus application. Every mutation runs as a single transaction
// against the durable store, so interleaved handlers can never act on a stale
// balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"earn-bot/internal/metrics"
	"earn-bot/internal/money"
	"earn-bot/internal/repo"
)

var (
	// ErrInvalidDenomination indicates the denomination is not in the fixed set.
	ErrInvalidDenomination = errors.New("invalid package denomination")
	// ErrInsufficientBalance indicates the balance cannot cover the debit.
	ErrInsufficientBalance = repo.ErrInsufficientBalance
)

// ReferralBonusPercent of the first package price is paid to the referrer.
const ReferralBonusPercent = 10

// Engine is the ledger engine.
type Engine struct {
	store   repo.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a ledger engine over the given store.
func New(store repo.Store, metricRegistry *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		logger:  logger.With("component", "ledger"),
		metrics: metricRegistry,
		now:     time.Now,
	}
}

// SetClock overrides the engine clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// EnsureUser creates the record on first contact. A referrer is recorded only
// if none is set yet; self-referrals and non-positive ids are ignored.
func (e *Engine) EnsureUser(ctx context.Context, id int64, referrerID int64) (*repo.User, error) {
	var ref *int64
	if referrerID > 0 && referrerID != id {
		ref = &referrerID
	}
	u, err := e.store.EnsureUser(ctx, id, ref)
	if err != nil {
		return nil, fmt.Errorf("ensure user %d: %w", id, err)
	}
	return u, nil
}

// Get returns the user record, creating it if needed.
func (e *Engine) Get(ctx context.Context, id int64) (*repo.User, error) {
	return e.EnsureUser(ctx, id, 0)
}

// SetVerified marks the user as channel-verified. Verification is recorded
// for display only and gates no ledger operation.
func (e *Engine) SetVerified(ctx context.Context, id int64) error {
	if _, err := e.Get(ctx, id); err != nil {
		return err
	}
	if err := e.store.SetVerified(ctx, id); err != nil {
		return fmt.Errorf("verify user %d: %w", id, err)
	}
	return nil
}

// Credit atomically adds amount to the user's balance.
func (e *Engine) Credit(ctx context.Context, id int64, amount money.Amount) error {
	if !amount.IsPositive() {
		return fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	if _, err := e.Get(ctx, id); err != nil {
		return err
	}
	if err := e.store.CreditBalance(ctx, id, amount); err != nil {
		e.count("credit", "error")
		return fmt.Errorf("credit user %d: %w", id, err)
	}
	e.count("credit", "ok")
	return nil
}

// Debit atomically checks sufficiency and decrements. It reports whether the
// debit was applied; an insufficient balance is not an error.
func (e *Engine) Debit(ctx context.Context, id int64, amount money.Amount) (bool, error) {
	if !amount.IsPositive() {
		return false, fmt.Errorf("debit amount must be positive, got %s", amount)
	}
	ok, err := e.store.DebitBalance(ctx, id, amount)
	if err != nil {
		e.count("debit", "error")
		return false, fmt.Errorf("debit user %d: %w", id, err)
	}
	if ok {
		e.count("debit", "ok")
	} else {
		e.count("debit", "insufficient")
	}
	return ok, nil
}

// ActivatePackage debits the package price and appends the package. The very
// first successful activation pays the referral bonus to the referrer; a bonus
// failure never rolls back the activation.
func (e *Engine) ActivatePackage(ctx context.Context, id int64, denomination int64) (*repo.Package, error) {
	plan, ok := PlanFor(denomination)
	if !ok {
		return nil, ErrInvalidDenomination
	}

	user, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	start := e.now().UTC()
	pkg := repo.Package{
		ID:      uuid.NewString(),
		UserID:  id,
		Name:    plan.Name(),
		Price:   plan.Price,
		Daily:   plan.Daily,
		StartTS: start,
		EndTS:   start.Add(PackageTerm),
	}

	first, err := e.store.ActivatePackage(ctx, id, pkg)
	if err != nil {
		if errors.Is(err, repo.ErrInsufficientBalance) {
			e.count("activate", "insufficient")
			return nil, ErrInsufficientBalance
		}
		e.count("activate", "error")
		return nil, fmt.Errorf("activate package for user %d: %w", id, err)
	}
	e.count("activate", "ok")

	if first && user.ReferrerID != nil {
		bonus := plan.Price.Percent(ReferralBonusPercent)
		if err := e.Credit(ctx, *user.ReferrerID, bonus); err != nil {
			e.logger.Error("referral bonus payment failed",
				"user", id, "referrer", *user.ReferrerID, "bonus", bonus.String(), "error", err)
		} else {
			e.logger.Info("referral bonus paid",
				"user", id, "referrer", *user.ReferrerID, "bonus", bonus.String())
		}
	}

	return &pkg, nil
}

// ClaimDaily credits the summed payout of every active package not yet claimed
// today (UTC) in one update. Zero means nothing was eligible.
func (e *Engine) ClaimDaily(ctx context.Context, id int64) (money.Amount, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return 0, err
	}
	credited, err := e.store.ClaimDaily(ctx, id, e.now())
	if err != nil {
		e.count("claim", "error")
		return 0, fmt.Errorf("claim daily for user %d: %w", id, err)
	}
	if credited.IsZero() {
		e.count("claim", "noop")
	} else {
		e.count("claim", "ok")
	}
	return credited, nil
}

// ActivePackages returns packages whose end is strictly in the future, in
// insertion order.
func (e *Engine) ActivePackages(ctx context.Context, id int64) ([]repo.Package, error) {
	packages, err := e.store.ListPackages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list packages for user %d: %w", id, err)
	}
	now := e.now()
	active := packages[:0]
	for _, p := range packages {
		if p.ActiveAt(now) {
			active = append(active, p)
		}
	}
	return active, nil
}

// AllPackages returns the full package history in insertion order.
func (e *Engine) AllPackages(ctx context.Context, id int64) ([]repo.Package, error) {
	packages, err := e.store.ListPackages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list packages for user %d: %w", id, err)
	}
	return packages, nil
}

// QualifiedFriends counts referred users who activated their first package.
func (e *Engine) QualifiedFriends(ctx context.Context, id int64) (int, error) {
	n, err := e.store.CountQualifiedReferrals(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("qualified friends for user %d: %w", id, err)
	}
	return n, nil
}

// RecordDeposit credits a payment exactly once per order id. It reports
// whether the credit was applied; false means the order was already processed.
func (e *Engine) RecordDeposit(ctx context.Context, orderID string, userID int64, amount money.Amount) (bool, error) {
	if !amount.IsPositive() {
		return false, fmt.Errorf("deposit amount must be positive, got %s", amount)
	}
	if _, err := e.Get(ctx, userID); err != nil {
		return false, err
	}
	credited, err := e.store.RecordDeposit(ctx, orderID, userID, amount)
	if err != nil {
		e.count("deposit", "error")
		return false, fmt.Errorf("record deposit %s: %w", orderID, err)
	}
	if credited {
		e.count("deposit", "ok")
	} else {
		e.count("deposit", "duplicate")
	}
	return credited, nil
}

// RequestWithdrawal debits the amount and records the withdrawal request. It
// reports whether the balance covered the amount.
func (e *Engine) RequestWithdrawal(ctx context.Context, id int64, amount money.Amount, address string) (bool, error) {
	ok, err := e.Debit(ctx, id, amount)
	if err != nil || !ok {
		return false, err
	}
	w := repo.Withdrawal{
		ID:      uuid.NewString(),
		UserID:  id,
		Amount:  amount,
		Address: address,
	}
	if _, err := e.store.InsertWithdrawal(ctx, w); err != nil {
		// Hand the funds back rather than lose them without an audit record.
		if crErr := e.store.CreditBalance(ctx, id, amount); crErr != nil {
			e.logger.Error("withdrawal refund failed", "user", id, "amount", amount.String(), "error", crErr)
		}
		return false, fmt.Errorf("record withdrawal for user %d: %w", id, err)
	}
	e.count("withdraw", "ok")
	return true, nil
}

func (e *Engine) count(op, outcome string) {
	if e.metrics != nil {
		e.metrics.LedgerOps.WithLabelValues(op, outcome).Inc()
	}
}
