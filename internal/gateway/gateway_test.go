package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caconnect/market-api/internal/config"
	apperrors "github.com/caconnect/market-api/pkg/errors"
)

func TestSignRoundTrip(t *testing.T) {
	secret := []byte("webhook-secret")
	sig := Sign(secret, "order_abc", "pay_xyz")

	assert.True(t, VerifySignature(secret, "order_abc", "pay_xyz", sig))
	assert.False(t, VerifySignature(secret, "order_abc", "pay_other", sig))
	assert.False(t, VerifySignature(secret, "order_other", "pay_xyz", sig))
	assert.False(t, VerifySignature([]byte("wrong-secret"), "order_abc", "pay_xyz", sig))
	assert.False(t, VerifySignature(secret, "order_abc", "pay_xyz", sig[:len(sig)-2]))
}

func TestSignIsDeterministicHex(t *testing.T) {
	secret := []byte("webhook-secret")
	a := Sign(secret, "order_abc", "pay_xyz")
	b := Sign(secret, "order_abc", "pay_xyz")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func newTestClient(baseURL string) Client {
	return NewClient(config.GatewayConfig{
		BaseURL: baseURL,
		KeyID:   "key_test",
		Secret:  "webhook-secret",
		Timeout: 2 * time.Second,
	}, nil)
}

func TestCreateOrderSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotKeyID string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/orders", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotKeyID = r.Header.Get("X-Key-Id")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"order_ref": "order_123"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ref, err := client.CreateOrder(context.Background(), "req-42", 150000, "receipt-42")
	require.NoError(t, err)
	assert.Equal(t, "order_123", ref)
	assert.Equal(t, "req-42", gotKey)
	assert.Equal(t, "key_test", gotKeyID)
	assert.Equal(t, float64(150000), gotBody["amount_cents"])
	assert.Equal(t, "receipt-42", gotBody["receipt"])
}

func TestCreateOrderMapsGatewayFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CreateOrder(context.Background(), "req-42", 150000, "receipt-42")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrGatewayError))
}

func TestCreateOrderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client's disconnect and
		// cancels the request context; otherwise server.Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(config.GatewayConfig{
		BaseURL: server.URL,
		Secret:  "webhook-secret",
		Timeout: 50 * time.Millisecond,
	}, nil)
	_, err := client.CreateOrder(context.Background(), "req-42", 150000, "receipt-42")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrGatewayTimeout))
}

func TestRefund(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/refunds", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	require.NoError(t, client.Refund(context.Background(), "pay_9", 5000))
	assert.Equal(t, "refund-pay_9", gotKey)
}

func TestClientVerifySignatureUsesConfiguredSecret(t *testing.T) {
	client := newTestClient("http://unused")
	sig := Sign([]byte("webhook-secret"), "order_1", "pay_1")
	assert.True(t, client.VerifySignature("order_1", "pay_1", sig))
	assert.False(t, client.VerifySignature("order_1", "pay_1", "deadbeef"))
}
