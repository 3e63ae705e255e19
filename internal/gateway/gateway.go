package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/caconnect/market-api/internal/config"
	apperrors "github.com/caconnect/market-api/pkg/errors"
	"github.com/caconnect/market-api/pkg/metrics"
)

// Client is the opaque payment gateway capability: create an order, verify
// a callback signature, refund. Wire format beyond this surface is not our
// concern.
type Client interface {
	// CreateOrder registers an order with the gateway and returns its
	// reference. The idempotency key makes retries safe: the gateway
	// returns the original order for a repeated key.
	CreateOrder(ctx context.Context, idempotencyKey string, amountCents int64, receipt string) (string, error)

	// VerifySignature checks the HMAC the gateway computed over the order
	// and payment references. Purely local, no network.
	VerifySignature(orderRef, paymentRef, signature string) bool

	Refund(ctx context.Context, paymentRef string, amountCents int64) error
}

type httpClient struct {
	baseURL string
	keyID   string
	secret  []byte
	client  *http.Client
	metrics *metrics.Metrics
}

func NewClient(cfg config.GatewayConfig, m *metrics.Metrics) Client {
	return &httpClient{
		baseURL: cfg.BaseURL,
		keyID:   cfg.KeyID,
		secret:  []byte(cfg.Secret),
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: m,
	}
}

type orderRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
}

type orderResponse struct {
	OrderRef string `json:"order_ref"`
}

func (c *httpClient) CreateOrder(ctx context.Context, idempotencyKey string, amountCents int64, receipt string) (string, error) {
	body, err := json.Marshal(orderRequest{
		AmountCents: amountCents,
		Currency:    "INR",
		Receipt:     receipt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Key-Id", c.keyID)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	timer := c.observe("create_order")
	resp, err := c.client.Do(req)
	timer()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			c.count("create_order", "timeout")
			return "", apperrors.GatewayTimeout(err)
		}
		c.count("create_order", "error")
		return "", apperrors.GatewayError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.count("create_order", "error")
		return "", apperrors.GatewayError(fmt.Errorf("gateway returned status %d", resp.StatusCode))
	}

	var out orderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.count("create_order", "error")
		return "", apperrors.GatewayError(fmt.Errorf("failed to decode order response: %w", err))
	}

	c.count("create_order", "success")
	return out.OrderRef, nil
}

// VerifySignature recomputes HMAC-SHA256 over "orderRef|paymentRef" with
// the pre-shared secret and compares in constant time.
func (c *httpClient) VerifySignature(orderRef, paymentRef, signature string) bool {
	return VerifySignature(c.secret, orderRef, paymentRef, signature)
}

func (c *httpClient) Refund(ctx context.Context, paymentRef string, amountCents int64) error {
	body, err := json.Marshal(map[string]interface{}{
		"payment_ref":  paymentRef,
		"amount_cents": amountCents,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal refund request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/refunds", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Key-Id", c.keyID)
	req.Header.Set("Idempotency-Key", "refund-"+paymentRef)

	timer := c.observe("refund")
	resp, err := c.client.Do(req)
	timer()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			c.count("refund", "timeout")
			return apperrors.GatewayTimeout(err)
		}
		c.count("refund", "error")
		return apperrors.GatewayError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.count("refund", "error")
		return apperrors.GatewayError(fmt.Errorf("gateway returned status %d", resp.StatusCode))
	}

	c.count("refund", "success")
	return nil
}

func (c *httpClient) count(operation, status string) {
	if c.metrics == nil {
		return
	}
	c.metrics.GatewayCalls.WithLabelValues(operation, status).Inc()
}

func (c *httpClient) observe(operation string) func() {
	if c.metrics == nil {
		return func() {}
	}
	timer := c.metrics.GatewayLatency.WithLabelValues(operation)
	start := time.Now()
	return func() {
		timer.Observe(time.Since(start).Seconds())
	}
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}

// Sign computes the signature the gateway would produce for an order and
// payment reference pair. Exposed for tests and local stubs.
func Sign(secret []byte, orderRef, paymentRef string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderRef + "|" + paymentRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares an offered signature against the expected one
// in constant time.
func VerifySignature(secret []byte, orderRef, paymentRef, signature string) bool {
	expected := Sign(secret, orderRef, paymentRef)
	return hmac.Equal([]byte(expected), []byte(signature))
}
