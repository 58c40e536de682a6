package nowpay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"earn-bot/internal/metrics"
)

// SignatureHeader carries the IPN signature.
const SignatureHeader = "x-nowpayments-sig"

// Notification is a NOWPayments IPN payload.
type Notification struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	OrderID       string      `json:"order_id"`
	ActuallyPaid  floatValue  `json:"actually_paid"`
	PayAmount     floatValue  `json:"pay_amount"`
	PayAddress    string      `json:"pay_address"`
	PayCurrency   string      `json:"pay_currency"`
	ReceivedAt    time.Time   `json:"-"`
}

// CreditedAmount returns the amount actually paid, falling back to the quoted
// pay amount.
func (n *Notification) CreditedAmount() float64 {
	if n.ActuallyPaid > 0 {
		return float64(n.ActuallyPaid)
	}
	return float64(n.PayAmount)
}

// WebhookProcessor handles verified IPN notifications. Discarding a
// notification (duplicate, malformed reference, address mismatch) is not an
// error; errors are reserved for failures the sender should redeliver.
type WebhookProcessor interface {
	HandleNotification(ctx context.Context, n Notification) error
}

// WebhookHandler verifies the IPN signature and forwards notifications.
type WebhookHandler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	secret    string
	processor WebhookProcessor
}

// NewWebhookHandler creates a new IPN webhook handler.
func NewWebhookHandler(logger *slog.Logger, metricRegistry *metrics.Metrics, ipnSecret string, processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:    logger.With("component", "ipn_webhook"),
		metrics:   metricRegistry,
		secret:    ipnSecret,
		processor: processor,
	}
}

// ServeHTTP satisfies http.Handler. Signature verification happens before any
// other processing; nothing unsigned ever reaches the ledger.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get(SignatureHeader)
	if signature == "" || !VerifySignature(body, signature, h.secret) {
		h.logger.Warn("rejected IPN with bad signature", "remote", r.RemoteAddr)
		h.metrics.IPNEvents.WithLabelValues("invalid_signature").Inc()
		http.Error(w, "bad signature", http.StatusBadRequest)
		return
	}

	var notification Notification
	if err := json.Unmarshal(body, &notification); err != nil {
		// Signed but undecodable: acknowledge so the sender stops resending.
		h.logger.Error("undecodable IPN payload", "error", err)
		h.metrics.IPNEvents.WithLabelValues("undecodable").Inc()
		writeOK(w)
		return
	}
	notification.ReceivedAt = time.Now()

	if h.processor != nil {
		if err := h.processor.HandleNotification(r.Context(), notification); err != nil {
			h.logger.Error("failed processing IPN", "error", err, "order_id", notification.OrderID)
			h.metrics.Errors.WithLabelValues("ipn_webhook").Inc()
			http.Error(w, "failed to process", http.StatusInternalServerError)
			return
		}
	}

	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
