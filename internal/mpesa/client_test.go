package mpesa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazinapay/backend/internal/domain"
)

func testServer(t *testing.T, push http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key", user)
		require.Equal(t, "secret", pass)
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "tok-1",
			"expires_in":   "3600",
		})
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", push)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokenCalls
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://api.example.com/v1/payments/mpesa/callback",
		Timeout:        2 * time.Second,
	}, NewTokenCache(), nil).WithRetryPolicy(time.Millisecond, 3)
}

func pushRequest() STKPushRequest {
	return STKPushRequest{
		Phone:       "254722000001",
		Amount:      decimal.RequireFromString("500"),
		Reference:   "REG-ABCD1234",
		Description: "Member registration fee",
	}
}

func TestSTKPushSuccess(t *testing.T) {
	var pushCalls int32
	srv, tokenCalls := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pushCalls, 1)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "CustomerPayBillOnline", payload["TransactionType"])
		assert.Equal(t, float64(500), payload["Amount"], "whole shillings on the wire")
		assert.Equal(t, "174379", payload["BusinessShortCode"])
		assert.NotEmpty(t, payload["Password"])

		json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID": "merchant-1",
			"CheckoutRequestID": "ws_CO_123",
			"ResponseCode":      "0",
		})
	})
	client := newTestClient(srv.URL)

	resp, err := client.InitiateSTKPush(context.Background(), pushRequest())
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_123", resp.CheckoutRequestID)
	assert.False(t, resp.Synthetic)
	assert.EqualValues(t, 1, atomic.LoadInt32(tokenCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&pushCalls), "a successful push is never retried")
}

func TestSTKPushReusesCachedToken(t *testing.T) {
	srv, tokenCalls := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"CheckoutRequestID": "ws_CO_cached",
			"ResponseCode":      "0",
		})
	})
	client := newTestClient(srv.URL)

	for i := 0; i < 3; i++ {
		_, err := client.InitiateSTKPush(context.Background(), pushRequest())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(tokenCalls), "token fetched once and reused")
}

func TestTokenCacheExpiryWindow(t *testing.T) {
	cache := NewTokenCache()
	current := time.Now()
	cache.now = func() time.Time { return current }

	cache.Put("tok", time.Hour)

	_, ok := cache.Get()
	require.True(t, ok)

	// Just inside the 97% reuse window.
	current = current.Add(time.Duration(float64(time.Hour) * 0.96))
	_, ok = cache.Get()
	assert.True(t, ok)

	// Past the window, before the provider-side expiry: treated as expired.
	current = current.Add(time.Duration(float64(time.Hour) * 0.02))
	_, ok = cache.Get()
	assert.False(t, ok)
}

func TestSTKPushRetriesTransientThenSucceeds(t *testing.T) {
	var pushCalls int32
	srv, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&pushCalls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"CheckoutRequestID": "ws_CO_retry",
			"ResponseCode":      "0",
		})
	})
	client := newTestClient(srv.URL)

	resp, err := client.InitiateSTKPush(context.Background(), pushRequest())
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_retry", resp.CheckoutRequestID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&pushCalls))
}

func TestSTKPushExhaustsRetries(t *testing.T) {
	var pushCalls int32
	srv, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pushCalls, 1)
		w.WriteHeader(http.StatusGatewayTimeout)
	})
	client := newTestClient(srv.URL)

	_, err := client.InitiateSTKPush(context.Background(), pushRequest())
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.EqualValues(t, 3, atomic.LoadInt32(&pushCalls), "base, then two retries")
}

func TestSTKPushDoesNotRetryRejection(t *testing.T) {
	var pushCalls int32
	srv, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pushCalls, 1)
		json.NewEncoder(w).Encode(map[string]string{
			"ResponseCode":        "1",
			"ResponseDescription": "Invalid PhoneNumber",
		})
	})
	client := newTestClient(srv.URL)

	_, err := client.InitiateSTKPush(context.Background(), pushRequest())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGatewayUnavailable)
	assert.EqualValues(t, 1, atomic.LoadInt32(&pushCalls), "business rejections are final")
}

func TestSTKPushSynthesizesMissingCheckoutID(t *testing.T) {
	srv, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"MerchantRequestID": "merchant-2",
			"ResponseCode":      "0",
		})
	})
	client := newTestClient(srv.URL)

	resp, err := client.InitiateSTKPush(context.Background(), pushRequest())
	require.NoError(t, err)
	assert.True(t, resp.Synthetic)
	assert.True(t, strings.HasPrefix(resp.CheckoutRequestID, domain.SyntheticCheckoutPrefix))
	assert.Greater(t, len(resp.CheckoutRequestID), len(domain.SyntheticCheckoutPrefix))
}

func TestSTKPushRefreshesRejectedToken(t *testing.T) {
	var pushCalls int32
	srv, tokenCalls := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&pushCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"CheckoutRequestID": "ws_CO_fresh",
			"ResponseCode":      "0",
		})
	})
	client := newTestClient(srv.URL)

	resp, err := client.InitiateSTKPush(context.Background(), pushRequest())
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_fresh", resp.CheckoutRequestID)
	assert.EqualValues(t, 2, atomic.LoadInt32(tokenCalls), "401 drops the cached token")
}

func TestSTKPushHonorsContextCancel(t *testing.T) {
	srv, _ := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	client := NewClient(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://api.example.com/cb",
	}, NewTokenCache(), nil).WithRetryPolicy(time.Hour, 3)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := client.InitiateSTKPush(ctx, pushRequest())
	require.ErrorIs(t, err, context.Canceled)
}
