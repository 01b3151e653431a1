package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Daraja hosts used when M_PESA_BASE_URL is not set.
const (
	ProductionBaseURL = "https://api.safaricom.co.ke"
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
)

// DefaultCORSOrigins mirrors the whitelist the gateway has always shipped with.
var DefaultCORSOrigins = []string{
	"http://kilonzocorp.com",
	"https://kilonzocorp.com",
	"http://localhost:3000",
	"https://localhost:3000",
	"http://localhost:5000",
	"https://localhost:5000",
	"https://*.vercel.app",
	"https://kilonzocorp.vercel.app",
	"http://kilonzocorp.vercel.app",
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string
	Port   string

	MpesaEnv            string
	MpesaBaseURL        string
	ShortCode           string
	PassKey             string
	ConsumerKey         string
	ConsumerSecret      string
	CallbackURL         string
	TransactionType     string
	AccountReference    string
	TransactionDesc     string
	Timezone            string
	HTTPTimeout         time.Duration
	TokenExpirySkew     time.Duration
	BreakerMinRequests  int
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration

	RedisURL           string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64
	SecurityHeaders    bool
	STKRateLimitMax    int
	STKRateLimitWindow time.Duration
	IdempotencyTTL     time.Duration
	CallbackAllowedIPs []string
	TrustedProxies     []string

	APIJWTSecret   string
	APIJWTIssuer   string
	APIJWTAudience string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                valueOrDefault(k.String("PORT"), "5000"),
		MpesaEnv:            strings.ToLower(valueOrDefault(k.String("M_PESA_ENV"), "production")),
		MpesaBaseURL:        strings.TrimRight(strings.TrimSpace(k.String("M_PESA_BASE_URL")), "/"),
		ShortCode:           strings.TrimSpace(k.String("M_PESA_SHORT_CODE")),
		PassKey:             strings.TrimSpace(k.String("M_PESA_PASSKEY")),
		ConsumerKey:         strings.TrimSpace(k.String("M_PESA_CONSUMER_KEY")),
		ConsumerSecret:      strings.TrimSpace(k.String("M_PESA_CONSUMER_SECRET")),
		CallbackURL:         strings.TrimSpace(k.String("CALLBACK_URL")),
		TransactionType:     valueOrDefault(k.String("M_PESA_TRANSACTION_TYPE"), "CustomerPayBillOnline"),
		AccountReference:    valueOrDefault(k.String("M_PESA_ACCOUNT_REFERENCE"), "PaymentRef"),
		TransactionDesc:     valueOrDefault(k.String("M_PESA_TRANSACTION_DESC"), "Payment for goods/services"),
		Timezone:            valueOrDefault(k.String("M_PESA_TIMEZONE"), "Africa/Nairobi"),
		HTTPTimeout:         parseDuration(k.String("M_PESA_HTTP_TIMEOUT"), "30s"),
		TokenExpirySkew:     parseDuration(k.String("M_PESA_TOKEN_EXPIRY_SKEW"), "60s"),
		BreakerMinRequests:  parseInt(k.String("PROVIDER_BREAKER_MIN_REQUESTS"), 10),
		BreakerFailureRatio: parseFloat(k.String("PROVIDER_BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:      parseDuration(k.String("PROVIDER_BREAKER_OPEN_FOR"), "30s"),
		RedisURL:            strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins:  splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:      int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64*1024)),
		SecurityHeaders:     parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		STKRateLimitMax:     parseInt(k.String("STK_RATE_LIMIT_MAX"), 10),
		STKRateLimitWindow:  parseDuration(k.String("STK_RATE_LIMIT_WINDOW"), "1m"),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		CallbackAllowedIPs:  splitAndTrim(k.String("CALLBACK_ALLOWED_IPS")),
		TrustedProxies:      splitAndTrim(k.String("TRUSTED_PROXIES")),
		APIJWTSecret:        strings.TrimSpace(k.String("API_JWT_SECRET")),
		APIJWTIssuer:        strings.TrimSpace(k.String("API_JWT_ISSUER")),
		APIJWTAudience:      strings.TrimSpace(k.String("API_JWT_AUDIENCE")),
	}

	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = append([]string(nil), DefaultCORSOrigins...)
	}
	if cfg.MpesaEnv != "production" && cfg.MpesaEnv != "sandbox" {
		return nil, fmt.Errorf("M_PESA_ENV must be sandbox or production, got %q", cfg.MpesaEnv)
	}

	var missing []string
	for _, field := range []struct {
		key, value string
	}{
		{"M_PESA_SHORT_CODE", cfg.ShortCode},
		{"M_PESA_PASSKEY", cfg.PassKey},
		{"M_PESA_CONSUMER_KEY", cfg.ConsumerKey},
		{"M_PESA_CONSUMER_SECRET", cfg.ConsumerSecret},
		{"CALLBACK_URL", cfg.CallbackURL},
	} {
		if field.value == "" {
			missing = append(missing, field.key)
		}
	}
	if len(missing) > 0 {
		return nil, errors.New(strings.Join(missing, ", ") + " required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "5000"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// BaseURL resolves the Daraja host, preferring an explicit override.
func (c *Config) BaseURL() string {
	if c.MpesaBaseURL != "" {
		return c.MpesaBaseURL
	}
	if c.MpesaEnv == "sandbox" {
		return SandboxBaseURL
	}
	return ProductionBaseURL
}

// AuthEnabled reports whether client endpoints require a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.APIJWTSecret != ""
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if prev, ok := os.LookupEnv(key); ok {
			v := prev
			original[key] = &v
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []string
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
