// Package nowpay provides typed access to the NOWPayments API and verifies
// its signed IPN callbacks.
package nowpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"earn-bot/internal/cache"
	"earn-bot/internal/metrics"
)

const (
	// PayCurrency is the only supported deposit currency (USDT on BSC).
	PayCurrency = "usdtbsc"

	minAmountFallback = 5.0
	minAmountCacheKey = "nowpay:min_amount"
	defaultMinTTL     = 5 * time.Minute
)

// ErrUpstream indicates a NOWPayments network or API failure. Callers retry.
var ErrUpstream = errors.New("nowpayments unavailable")

// Config holds NOWPayments client configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	IPNCallbackURL string
	Timeout        time.Duration
	MinAmountTTL   time.Duration
}

// Client provides typed access to the NOWPayments API.
type Client struct {
	logger         *slog.Logger
	baseURL        string
	apiKey         string
	ipnCallbackURL string
	http           *http.Client
	metrics        *metrics.Metrics
	cache          *cache.Redis
	minTTL         time.Duration
}

// New creates a new NOWPayments client. The redis cache is optional.
func New(cfg Config, logger *slog.Logger, metricRegistry *metrics.Metrics, redis *cache.Redis) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.nowpayments.io/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	minTTL := cfg.MinAmountTTL
	if minTTL <= 0 {
		minTTL = defaultMinTTL
	}
	return &Client{
		logger:         logger.With("component", "nowpay"),
		baseURL:        base,
		apiKey:         cfg.APIKey,
		ipnCallbackURL: cfg.IPNCallbackURL,
		http:           &http.Client{Timeout: timeout},
		metrics:        metricRegistry,
		cache:          redis,
		minTTL:         minTTL,
	}
}

// Payment mirrors the relevant fields of a created payment.
type Payment struct {
	PaymentID     json.Number `json:"payment_id"`
	PayAddress    string      `json:"pay_address"`
	WalletAddress string      `json:"wallet_address"`
	PaymentURL    string      `json:"payment_url"`
	PayAmount     floatValue  `json:"pay_amount"`
	OrderID       string      `json:"order_id"`
}

// Address returns the first usable receiving address of the payment.
func (p *Payment) Address() string {
	for _, addr := range []string{p.PayAddress, p.WalletAddress, p.PaymentURL} {
		if addr != "" {
			return addr
		}
	}
	return ""
}

// CreatePayment requests a new deposit address bound to the given order ref.
func (c *Client) CreatePayment(ctx context.Context, orderRef string) (*Payment, error) {
	payload := map[string]any{
		"price_amount":     c.MinAmount(ctx),
		"price_currency":   PayCurrency,
		"pay_currency":     PayCurrency,
		"order_id":         orderRef,
		"ipn_callback_url": c.ipnCallbackURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payment request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/payment", nil, body)
	if err != nil {
		return nil, err
	}

	var payment Payment
	if err := json.Unmarshal(raw, &payment); err != nil {
		return nil, fmt.Errorf("decode payment: %w", err)
	}
	if payment.Address() == "" {
		return nil, fmt.Errorf("%w: payment response carries no address", ErrUpstream)
	}
	return &payment, nil
}

// MinAmount returns the minimum deposit amount, cached with a TTL when redis
// is configured. Upstream failures fall back to a fixed minimum.
func (c *Client) MinAmount(ctx context.Context) float64 {
	if c.cache != nil {
		var cached float64
		ok, err := c.cache.GetJSON(ctx, minAmountCacheKey, &cached)
		if err != nil {
			c.logger.Warn("read min-amount cache failed", "error", err)
		} else if ok {
			return cached
		}
	}

	params := url.Values{}
	params.Set("currency_from", PayCurrency)
	params.Set("currency_to", PayCurrency)

	raw, err := c.do(ctx, http.MethodGet, "/min-amount", params, nil)
	if err != nil {
		c.logger.Warn("min-amount lookup failed, using fallback", "error", err)
		return minAmountFallback
	}

	var resp struct {
		MinAmount floatValue `json:"min_amount"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.MinAmount <= 0 {
		c.logger.Warn("min-amount response unusable, using fallback", "error", err)
		return minAmountFallback
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, minAmountCacheKey, float64(resp.MinAmount), c.minTTL); err != nil {
			c.logger.Warn("set min-amount cache failed", "error", err)
		}
	}
	return float64(resp.MinAmount)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	status := "error"
	if err == nil {
		status = fmt.Sprintf("%d", resp.StatusCode)
	}
	if c.metrics != nil {
		c.metrics.NowPayRequests.WithLabelValues(path, status).Inc()
		c.metrics.NowPayLatency.WithLabelValues(path, status).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUpstream, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", ErrUpstream, method, path, resp.StatusCode, snippet(raw))
	}
	return raw, nil
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// floatValue tolerates numeric fields delivered as strings.
type floatValue float64

func (f *floatValue) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if trimmed == "" || trimmed == "null" {
		*f = 0
		return nil
	}
	var v float64
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return err
	}
	*f = floatValue(v)
	return nil
}
