// Package alloc manages the single shared "next deposit address" slot: it
// hands the pending address to at most one user and keeps the slot refilled
// from the payment processor in the background.
package alloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"earn-bot/internal/nowpay"
	"earn-bot/internal/repo"
)

// ReplenishDelay is the fixed wait between failed replenishment attempts.
const ReplenishDelay = 60 * time.Second

// ErrPoolEmpty indicates no pending address is available yet; callers retry
// later while replenishment keeps running.
var ErrPoolEmpty = errors.New("deposit address pool empty")

// AddressSource creates externally-generated deposit addresses.
type AddressSource interface {
	CreatePayment(ctx context.Context, orderRef string) (*nowpay.Payment, error)
}

// Allocator owns the pending-address slot.
type Allocator struct {
	store  repo.Store
	source AddressSource
	logger *slog.Logger
	delay  time.Duration

	mu            sync.Mutex
	wake          chan struct{}
	lastRequester atomic.Int64
}

// New creates an allocator over the given store and address source.
func New(store repo.Store, source AddressSource, logger *slog.Logger) *Allocator {
	return &Allocator{
		store:  store,
		source: source,
		logger: logger.With("component", "alloc"),
		delay:  ReplenishDelay,
		wake:   make(chan struct{}, 1),
	}
}

// SetDelay overrides the replenishment retry delay.
func (a *Allocator) SetDelay(d time.Duration) {
	a.delay = d
}

// Request returns the user's deposit address. A user who already holds an
// address always gets the same one back. Otherwise the pending slot is
// assigned in a single read-modify-write; ErrPoolEmpty means the caller must
// retry once replenishment catches up.
func (a *Allocator) Request(ctx context.Context, userID int64) (string, error) {
	a.lastRequester.Store(userID)

	a.mu.Lock()
	addr, err := a.store.AssignPendingAddress(ctx, userID)
	a.mu.Unlock()

	if err != nil {
		if errors.Is(err, repo.ErrNoPendingAddress) {
			a.kick()
			return "", ErrPoolEmpty
		}
		return "", fmt.Errorf("assign deposit address: %w", err)
	}

	// The slot may have just been emptied; top it up in the background.
	a.kick()
	return addr, nil
}

// Run keeps the pending slot filled until the context is cancelled. Upstream
// failures are retried indefinitely with a fixed delay and never block
// Request.
func (a *Allocator) Run(ctx context.Context) {
	for {
		if err := a.refillIfEmpty(ctx); err != nil {
			a.logger.Warn("address replenishment failed, retrying", "error", err, "delay", a.delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.delay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		}
	}
}

func (a *Allocator) refillIfEmpty(ctx context.Context) error {
	pending, err := a.store.PendingAddress(ctx)
	if err != nil {
		return fmt.Errorf("read pending slot: %w", err)
	}
	if pending != "" {
		return nil
	}

	orderRef := fmt.Sprintf("%d-%d", a.lastRequester.Load(), time.Now().Unix())
	payment, err := a.source.CreatePayment(ctx, orderRef)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	if err := a.store.SetPendingAddress(ctx, payment.Address(), orderRef); err != nil {
		return fmt.Errorf("store pending address: %w", err)
	}
	a.logger.Info("pending deposit address replenished", "order_ref", orderRef)
	return nil
}

func (a *Allocator) kick() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}
