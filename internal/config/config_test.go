package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("MPESA_CALLBACK_URL", "https://api.hazinapay.africa/v1/payments/mpesa/callback")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "hazina-backend", cfg.JWTIssuer)
	assert.Equal(t, "hazina-api", cfg.JWTAudience)
	assert.Equal(t, "https://sandbox.safaricom.co.ke", cfg.MpesaBaseURL)
	assert.Equal(t, 10*time.Second, cfg.MpesaTimeout)
	assert.Equal(t, 2*time.Hour, cfg.StalePendingAfter)
	assert.Equal(t, 30*time.Minute, cfg.StalePendingEvery)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 10, cfg.PublicRateLimitRPS)
	assert.Equal(t, 100, cfg.AuthRateLimitRPS)
	assert.Equal(t, "500", cfg.RegistrationFee)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("MPESA_TIMEOUT", "3s")
	t.Setenv("REGISTRATION_FEE", "750.50")
	t.Setenv("PUBLIC_RATE_LIMIT_RPS", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, 3*time.Second, cfg.MpesaTimeout)
	assert.True(t, decimal.RequireFromString("750.50").Equal(cfg.RegistrationFeeAmount()))
	assert.Equal(t, 1, cfg.PublicRateLimitRPS, "rate limits never drop below one request per window")
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("MPESA_CALLBACK_URL", "https://example.com/callback")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "too-short")
	_, err = Load()
	require.Error(t, err, "short secrets are rejected")
}

func TestLoadRequiresCallbackURL(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("MPESA_CALLBACK_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsBadDurations(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MPESA_TIMEOUT", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
}

func TestRegistrationFeeFallback(t *testing.T) {
	for _, raw := range []string{"", "abc", "-10", "0"} {
		cfg := &Config{RegistrationFee: raw}
		assert.Equal(t, "500", cfg.RegistrationFeeAmount().String(), "raw %q", raw)
	}
}
