package nowpay

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"earn-bot/internal/metrics"
)

type captureProcessor struct {
	notifications []Notification
	err           error
}

func (p *captureProcessor) HandleNotification(ctx context.Context, n Notification) error {
	p.notifications = append(p.notifications, n)
	return p.err
}

func postIPN(t *testing.T, handler http.Handler, body []byte, sign bool, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ipn/nowpayments", bytes.NewReader(body))
	if sign {
		sig, err := Sign(body, secret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Header.Set(SignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	processor := &captureProcessor{}
	handler := NewWebhookHandler(slog.Default(), metrics.Registry("test"), "secret", processor)

	body := []byte(`{"payment_status":"finished","order_id":"1-1","actually_paid":10}`)

	rec := postIPN(t, handler, body, false, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing signature status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/ipn/nowpayments", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "deadbeef")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad signature status = %d, want 400", rec.Code)
	}

	if len(processor.notifications) != 0 {
		t.Fatal("unsigned notification reached the processor")
	}
}

func TestWebhookForwardsVerifiedNotification(t *testing.T) {
	processor := &captureProcessor{}
	handler := NewWebhookHandler(slog.Default(), metrics.Registry("test"), "secret", processor)

	body := []byte(`{"payment_status":"finished","order_id":"42-1700000000","actually_paid":49.5,"pay_amount":50,"pay_address":"0xdeposit","pay_currency":"usdtbsc"}`)
	rec := postIPN(t, handler, body, true, "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if len(processor.notifications) != 1 {
		t.Fatalf("processor saw %d notifications, want 1", len(processor.notifications))
	}
	n := processor.notifications[0]
	if n.OrderID != "42-1700000000" || n.PaymentStatus != "finished" {
		t.Fatalf("notification = %+v", n)
	}
	if n.CreditedAmount() != 49.5 {
		t.Fatalf("credited amount = %v, want 49.5", n.CreditedAmount())
	}
}

func TestWebhookProcessorErrorYields500(t *testing.T) {
	processor := &captureProcessor{err: errors.New("store down")}
	handler := NewWebhookHandler(slog.Default(), metrics.Registry("test"), "secret", processor)

	body := []byte(`{"payment_status":"finished","order_id":"1-1","actually_paid":10}`)
	rec := postIPN(t, handler, body, true, "secret")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestWebhookRejectsGet(t *testing.T) {
	handler := NewWebhookHandler(slog.Default(), metrics.Registry("test"), "secret", &captureProcessor{})
	req := httptest.NewRequest(http.MethodGet, "/ipn/nowpayments", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
