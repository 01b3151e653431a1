package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/stk-gateway/internal/config"
)

func requiredEnv() map[string]string {
	return map[string]string{
		"M_PESA_SHORT_CODE":      "174379",
		"M_PESA_PASSKEY":         "passkey",
		"M_PESA_CONSUMER_KEY":    "key",
		"M_PESA_CONSUMER_SECRET": "secret",
		"CALLBACK_URL":           "https://example.com/api/callback",
		"M_PESA_ENV":             "",
		"M_PESA_BASE_URL":        "",
		"CORS_ALLOWED_ORIGINS":   "",
		"PORT":                   "",
		"TRUSTED_PROXIES":        "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(requiredEnv())
	require.NoError(t, err)

	require.Equal(t, ":5000", cfg.HTTPAddr())
	require.Equal(t, "production", cfg.MpesaEnv)
	require.Equal(t, config.ProductionBaseURL, cfg.BaseURL())
	require.Equal(t, "CustomerPayBillOnline", cfg.TransactionType)
	require.Equal(t, "PaymentRef", cfg.AccountReference)
	require.Equal(t, "Payment for goods/services", cfg.TransactionDesc)
	require.Equal(t, "Africa/Nairobi", cfg.Timezone)
	require.Equal(t, config.DefaultCORSOrigins, cfg.CORSAllowedOrigins)
	require.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	require.False(t, cfg.AuthEnabled())
	require.Empty(t, cfg.TrustedProxies)
}

func TestLoadSandboxAndOverrides(t *testing.T) {
	env := requiredEnv()
	env["M_PESA_ENV"] = "Sandbox"
	env["PORT"] = "8080"
	env["CORS_ALLOWED_ORIGINS"] = "https://a.example, ,https://b.example"
	env["M_PESA_HTTP_TIMEOUT"] = "not-a-duration"
	env["STK_RATE_LIMIT_MAX"] = "3"
	env["TRUSTED_PROXIES"] = "10.0.0.0/8, 172.16.0.5"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)

	require.Equal(t, config.SandboxBaseURL, cfg.BaseURL())
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 3, cfg.STKRateLimitMax)
	require.Equal(t, []string{"10.0.0.0/8", "172.16.0.5"}, cfg.TrustedProxies)

	env["M_PESA_BASE_URL"] = "http://127.0.0.1:9999/"
	cfg, err = config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9999", cfg.BaseURL())
}

func TestLoadReportsMissingKeys(t *testing.T) {
	env := requiredEnv()
	env["M_PESA_PASSKEY"] = ""
	env["CALLBACK_URL"] = ""
	_, err := config.LoadForTests(env)
	require.EqualError(t, err, "M_PESA_PASSKEY, CALLBACK_URL required")
}

func TestLoadRejectsUnknownEnvironment(t *testing.T) {
	env := requiredEnv()
	env["M_PESA_ENV"] = "staging"
	_, err := config.LoadForTests(env)
	require.Error(t, err)
}
