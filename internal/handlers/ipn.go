// Package handlers wires verified payment-processor events into the ledger.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"earn-bot/internal/ledger"
	"earn-bot/internal/metrics"
	"earn-bot/internal/money"
	"earn-bot/internal/nowpay"
)

// Notifier delivers best-effort user messages. Failures never undo a credit.
type Notifier interface {
	SendMessage(ctx context.Context, userID int64, text string) error
}

// IPNProcessor reconciles NOWPayments notifications against the ledger.
type IPNProcessor struct {
	ledger   *ledger.Engine
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewIPNProcessor creates a new reconciliation processor.
func NewIPNProcessor(engine *ledger.Engine, notifier Notifier, metricRegistry *metrics.Metrics, logger *slog.Logger) *IPNProcessor {
	return &IPNProcessor{
		ledger:   engine,
		notifier: notifier,
		metrics:  metricRegistry,
		logger:   logger.With("component", "ipn_processor"),
	}
}

// HandleNotification credits a finished payment exactly once. Discards
// (ignored status, malformed reference, duplicate, address mismatch) are
// logged and acknowledged; only store failures surface as errors so the
// sender redelivers.
func (p *IPNProcessor) HandleNotification(ctx context.Context, n nowpay.Notification) error {
	status := strings.ToLower(strings.TrimSpace(n.PaymentStatus))
	if status != "finished" && status != "confirmed" {
		p.outcome("ignored_status")
		p.logger.Debug("ignoring IPN status", "status", status, "order_id", n.OrderID)
		return nil
	}

	amount := money.FromFloat(n.CreditedAmount())
	if !amount.IsPositive() {
		p.outcome("ignored_amount")
		p.logger.Warn("ignoring IPN without positive amount", "order_id", n.OrderID)
		return nil
	}

	userID, err := parseOrderRef(n.OrderID)
	if err != nil {
		p.outcome("malformed_order")
		p.logger.Warn("discarding IPN with malformed order reference", "order_id", n.OrderID, "error", err)
		return nil
	}

	user, err := p.ledger.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}

	// The pool model hands addresses out one at a time; a notification whose
	// pay address is not the one this user holds must never credit them.
	if user.DepositAddress == nil || *user.DepositAddress != n.PayAddress {
		p.outcome("address_mismatch")
		p.logger.Warn("discarding IPN with unmatched pay address",
			"order_id", n.OrderID, "user", userID, "pay_address", n.PayAddress)
		return nil
	}

	credited, err := p.ledger.RecordDeposit(ctx, n.OrderID, userID, amount)
	if err != nil {
		return err
	}
	if !credited {
		p.outcome("duplicate")
		p.logger.Info("duplicate IPN delivery", "order_id", n.OrderID)
		return nil
	}

	p.outcome("credited")
	p.logger.Info("deposit credited", "order_id", n.OrderID, "user", userID, "amount", amount.String())

	if p.notifier != nil {
		text := fmt.Sprintf("%s USDT Deposit Successfully", amount)
		if err := p.notifier.SendMessage(ctx, userID, text); err != nil {
			p.logger.Warn("deposit notification failed", "user", userID, "error", err)
		}
	}
	return nil
}

func (p *IPNProcessor) outcome(label string) {
	if p.metrics != nil {
		p.metrics.IPNEvents.WithLabelValues(label).Inc()
	}
}

// parseOrderRef extracts the user id from an order reference of the form
// "<user_id>-<issue_timestamp>".
func parseOrderRef(orderID string) (int64, error) {
	head, _, ok := strings.Cut(orderID, "-")
	if !ok {
		return 0, fmt.Errorf("order reference %q has no separator", orderID)
	}
	id, err := strconv.ParseInt(head, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("order reference %q has no valid user id", orderID)
	}
	return id, nil
}
