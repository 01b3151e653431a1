package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/stk-gateway/internal/auth"
	"github.com/noah-isme/stk-gateway/internal/common"
	"github.com/noah-isme/stk-gateway/internal/config"
	"github.com/noah-isme/stk-gateway/internal/health"
	"github.com/noah-isme/stk-gateway/internal/lock"
	"github.com/noah-isme/stk-gateway/internal/mpesa"
	"github.com/noah-isme/stk-gateway/internal/obs"
	"github.com/noah-isme/stk-gateway/internal/ratelimit"
	"github.com/noah-isme/stk-gateway/internal/resilience"
	"github.com/noah-isme/stk-gateway/internal/security"
	"github.com/noah-isme/stk-gateway/internal/stk"
)

const hstsMaxAge = 31536000

// NewGateway returns a Daraja client whose calls go through a circuit breaker.
func NewGateway(cfg *config.Config, logger zerolog.Logger) *mpesa.Client {
	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget("mpesa").
		WithLogger(obs.Component(logger, "breaker"))
	return &mpesa.Client{
		BaseURL: cfg.BaseURL(),
		HTTP: resilience.HTTPClient{
			Client:  mpesa.NewHTTPClient(cfg.HTTPTimeout),
			Breaker: breaker,
			Timeout: cfg.HTTPTimeout,
		},
	}
}

// NewTokenSource caches tokens in Redis and serialises refreshes with a Redis
// lock when rdb is set, and keeps them in process memory otherwise.
func NewTokenSource(cfg *config.Config, gen mpesa.TokenGenerator, rdb *redis.Client, logger zerolog.Logger) *mpesa.OAuthTokenSource {
	src := &mpesa.OAuthTokenSource{
		Generator:      gen,
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerSecret: cfg.ConsumerSecret,
		ExpirySkew:     cfg.TokenExpirySkew,
		Logger:         obs.Component(logger, "token"),
	}
	if rdb != nil {
		src.Cache = mpesa.RedisTokenCache{Client: rdb}
		src.Locker = lock.Locker{R: rdb, Prefix: "lock:"}
	} else {
		src.Cache = mpesa.NewMemoryTokenCache()
	}
	return src
}

// BuildService wires the STK service against the live Daraja API.
func BuildService(cfg *config.Config, logger zerolog.Logger, rdb *redis.Client) *stk.Service {
	gateway := NewGateway(cfg, logger)
	tokens := NewTokenSource(cfg, gateway, rdb, logger)
	return NewService(cfg, gateway, tokens, logger)
}

// NewService builds the STK service from merchant configuration.
func NewService(cfg *config.Config, gateway stk.Gateway, tokens mpesa.TokenSource, logger zerolog.Logger) *stk.Service {
	return stk.NewService(stk.Config{
		ShortCode:        cfg.ShortCode,
		PassKey:          cfg.PassKey,
		CallbackURL:      cfg.CallbackURL,
		TransactionType:  cfg.TransactionType,
		AccountReference: cfg.AccountReference,
		TransactionDesc:  cfg.TransactionDesc,
		Location:         mpesa.LoadLocation(cfg.Timezone),
	}, gateway, tokens, obs.Component(logger, "stk"))
}

// Deps collects what the router needs. Redis, Verifier, HTTPMetrics,
// Metrics and Limiter are optional.
type Deps struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Service     *stk.Service
	Redis       *redis.Client
	Verifier    *auth.Verifier
	HTTPMetrics *obs.HTTPMetrics
	Metrics     http.Handler
	Tracing     bool
	Limiter     ratelimit.Backend

	ReadyRedisTimeout time.Duration
}

// NewRouter mounts the gateway routes and the operational middleware chain.
func NewRouter(d Deps) (http.Handler, error) {
	cfg := d.Config
	allow, err := security.NewIPAllowlist(cfg.CallbackAllowedIPs, obs.Component(d.Logger, "callback_allowlist"))
	if err != nil {
		return nil, err
	}
	proxies, err := security.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	limiterBackend := d.Limiter
	if limiterBackend == nil {
		if d.Redis != nil {
			limiterBackend = ratelimit.SlidingWindow{Client: d.Redis, Prefix: "rl:"}
		} else {
			limiterBackend = ratelimit.NewMemoryLimiter()
		}
	}
	stkLimit := ratelimit.Handler{
		Limiter: limiterBackend,
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("stk"),
			Window: cfg.STKRateLimitWindow,
			Max:    cfg.STKRateLimitMax,
		},
		OnError: func(err error) {
			d.Logger.Warn().Err(err).Msg("rate limiter unavailable")
		},
	}
	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}
	authMW := auth.Middleware{Verifier: d.Verifier, Logger: obs.Component(d.Logger, "auth")}

	healthHandler := health.Handler{
		Checker:        health.RedisChecker{Client: d.Redis},
		RedisTimeout:   d.ReadyRedisTimeout,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	}
	stkHandler := &stk.Handler{Svc: d.Service, Logger: obs.Component(d.Logger, "stk_http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(proxies.Middleware)
	r.Use(middleware.Recoverer)
	if d.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if d.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.IdempotencyHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{
		Enable:     cfg.SecurityHeaders,
		EnableHSTS: cfg.AppEnv == "production",
		HSTSMaxAge: hstsMaxAge,
	}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
	r.Get("/", healthHandler.Root)
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api", func(api chi.Router) {
		api.Group(func(client chi.Router) {
			client.Use(authMW.RequireAuth)
			client.Get("/test-token", stkHandler.TestToken)
			client.With(stkLimit.Middleware, idem.Middleware).Post("/stk", stkHandler.Push)
			client.Post("/stkquery", stkHandler.Query)
		})
		api.With(allow.Middleware).Post("/callback", stkHandler.Callback)
	})

	return r, nil
}
