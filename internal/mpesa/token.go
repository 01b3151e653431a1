package mpesa

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/stk-gateway/internal/common"
	"github.com/noah-isme/stk-gateway/internal/lock"
	"github.com/noah-isme/stk-gateway/internal/obs"
)

// TokenSource yields a bearer token accepted by the Daraja API.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenCache stores access tokens until shortly before they expire.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
}

// Locker serialises token refreshes across processes. lock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// TokenGenerator performs the OAuth exchange. *Client satisfies it.
type TokenGenerator interface {
	GenerateToken(ctx context.Context, consumerKey, consumerSecret string) (AccessToken, error)
}

const lockTTL = 15 * time.Second

// OAuthTokenSource fetches client-credentials tokens and caches them for
// their advertised lifetime minus ExpirySkew. Concurrent misses in one process
// trigger a single fetch; with a Locker, misses across processes do too.
type OAuthTokenSource struct {
	Generator      TokenGenerator
	ConsumerKey    string
	ConsumerSecret string
	Cache          TokenCache
	Locker         Locker
	ExpirySkew     time.Duration
	Logger         zerolog.Logger

	mu sync.Mutex
}

// Token returns a cached token or fetches a fresh one.
func (s *OAuthTokenSource) Token(ctx context.Context) (string, error) {
	key := s.cacheKey()
	if tok, ok := s.cached(ctx, key); ok {
		obs.TokenFetchTotal.WithLabelValues("cache_hit").Inc()
		return tok, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var token string
	refresh := func(ctx context.Context) error {
		if tok, ok := s.cached(ctx, key); ok {
			obs.TokenFetchTotal.WithLabelValues("cache_hit").Inc()
			token = tok
			return nil
		}
		tok, err := s.fetch(ctx, key)
		token = tok
		return err
	}

	if s.Locker == nil {
		return token, s.finish(refresh(ctx))
	}
	err := s.Locker.WithLock(ctx, key+":lock", lockTTL, refresh)
	if errors.Is(err, lock.ErrAcquire) && ctx.Err() == nil {
		s.Logger.Warn().Err(err).Msg("token_lock_unavailable")
		err = refresh(ctx)
	}
	return token, s.finish(err)
}

func (s *OAuthTokenSource) finish(err error) error {
	if err != nil {
		obs.TokenFetchTotal.WithLabelValues("error").Inc()
	}
	return err
}

func (s *OAuthTokenSource) fetch(ctx context.Context, key string) (string, error) {
	if s.Generator == nil {
		return "", errors.New("mpesa: token generator not configured")
	}
	resp, err := s.Generator.GenerateToken(ctx, s.ConsumerKey, s.ConsumerSecret)
	if err != nil {
		return "", err
	}
	obs.TokenFetchTotal.WithLabelValues("fetched").Inc()

	ttl := s.ttl(resp.ExpiresIn.String())
	if s.Cache != nil && ttl > 0 {
		if err := s.Cache.Set(ctx, key, resp.AccessToken, ttl); err != nil {
			s.Logger.Warn().Err(err).Msg("token_cache_write_failed")
		}
	}
	s.Logger.Debug().Dur("ttl", ttl).Msg("token_refreshed")
	return resp.AccessToken, nil
}

func (s *OAuthTokenSource) cached(ctx context.Context, key string) (string, bool) {
	if s.Cache == nil {
		return "", false
	}
	tok, ok, err := s.Cache.Get(ctx, key)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("token_cache_read_failed")
		return "", false
	}
	return tok, ok && tok != ""
}

func (s *OAuthTokenSource) ttl(expiresIn string) time.Duration {
	secs, err := strconv.ParseFloat(expiresIn, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	lifetime := time.Duration(secs * float64(time.Second))
	skew := s.ExpirySkew
	if skew >= lifetime {
		skew = lifetime / 2
	}
	return lifetime - skew
}

func (s *OAuthTokenSource) cacheKey() string {
	return "mpesa:token:" + common.Sha256Hex(s.ConsumerKey)[:16]
}

// MemoryTokenCache is a process-local TokenCache.
type MemoryTokenCache struct {
	mu      sync.Mutex
	entries map[string]memoryToken
	now     func() time.Time
}

type memoryToken struct {
	value     string
	expiresAt time.Time
}

// NewMemoryTokenCache constructs an empty cache.
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{entries: make(map[string]memoryToken), now: time.Now}
}

// Get implements TokenCache.
func (c *MemoryTokenCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set implements TokenCache.
func (c *MemoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryToken{value: token, expiresAt: c.now().Add(ttl)}
	return nil
}

// RedisTokenCache shares tokens between gateway replicas.
type RedisTokenCache struct {
	Client *redis.Client
}

// Get implements TokenCache.
func (c RedisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set implements TokenCache.
func (c RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	return c.Client.Set(ctx, key, token, ttl).Err()
}
