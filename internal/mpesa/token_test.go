package mpesa_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/stk-gateway/internal/lock"
	"github.com/noah-isme/stk-gateway/internal/mpesa"
)

type stubGenerator struct {
	calls     int32
	expiresIn string
	err       error
	delay     time.Duration
}

func (g *stubGenerator) GenerateToken(ctx context.Context, key, secret string) (mpesa.AccessToken, error) {
	n := atomic.AddInt32(&g.calls, 1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return mpesa.AccessToken{}, g.err
	}
	return mpesa.AccessToken{AccessToken: "tok-" + string(rune('0'+n)), ExpiresIn: "3599"}, nil
}

func TestOAuthTokenSourceCachesTokens(t *testing.T) {
	gen := &stubGenerator{}
	src := &mpesa.OAuthTokenSource{Generator: gen, ConsumerKey: "k", ConsumerSecret: "s", Cache: mpesa.NewMemoryTokenCache(), ExpirySkew: time.Minute, Logger: zerolog.Nop()}

	first, err := src.Token(context.Background())
	require.NoError(t, err)
	second, err := src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", first)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), atomic.LoadInt32(&gen.calls))
}

func TestOAuthTokenSourceWithoutCacheFetchesEachTime(t *testing.T) {
	gen := &stubGenerator{}
	src := &mpesa.OAuthTokenSource{Generator: gen, Logger: zerolog.Nop()}

	_, err := src.Token(context.Background())
	require.NoError(t, err)
	_, err = src.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&gen.calls))
}

func TestOAuthTokenSourceSingleFetchUnderConcurrency(t *testing.T) {
	gen := &stubGenerator{delay: 20 * time.Millisecond}
	src := &mpesa.OAuthTokenSource{Generator: gen, Cache: mpesa.NewMemoryTokenCache(), Logger: zerolog.Nop()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := src.Token(context.Background())
			require.NoError(t, err)
			require.Equal(t, "tok-1", tok)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&gen.calls))
}

func TestOAuthTokenSourcePropagatesErrors(t *testing.T) {
	gen := &stubGenerator{err: errors.New("bad credentials")}
	src := &mpesa.OAuthTokenSource{Generator: gen, Cache: mpesa.NewMemoryTokenCache(), Logger: zerolog.Nop()}

	_, err := src.Token(context.Background())
	require.EqualError(t, err, "bad credentials")
}

func TestOAuthTokenSourceRedisCacheAndLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gen := &stubGenerator{}
	newSource := func() *mpesa.OAuthTokenSource {
		return &mpesa.OAuthTokenSource{
			Generator:   gen,
			ConsumerKey: "k",
			Cache:       mpesa.RedisTokenCache{Client: client},
			Locker:      lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
			ExpirySkew:  time.Minute,
			Logger:      zerolog.Nop(),
		}
	}

	tok, err := newSource().Token(context.Background())
	require.NoError(t, err)
	again, err := newSource().Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, tok, again, "replicas share the cached token")
	require.Equal(t, int32(1), atomic.LoadInt32(&gen.calls))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	ttl := mr.TTL(keys[0])
	require.Greater(t, ttl, 50*time.Minute)
	require.LessOrEqual(t, ttl, 3599*time.Second-time.Minute)

	mr.FastForward(time.Hour)
	_, err = newSource().Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&gen.calls))
}

func TestMemoryTokenCacheExpiry(t *testing.T) {
	cache := mpesa.NewMemoryTokenCache()
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, "k", "v", 10*time.Millisecond))

	v, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)

	require.Eventually(t, func() bool {
		_, ok, _ := cache.Get(ctx, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
