package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// MemoryLimiter is a process-local fixed window limiter used when Redis is not configured.
type MemoryLimiter struct {
	store limiter.Store

	mu       sync.Mutex
	limiters map[string]*limiter.Limiter
}

// NewMemoryLimiter constructs a limiter backed by the ulule in-memory store.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		store:    memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: "stk", CleanUpInterval: time.Minute}),
		limiters: make(map[string]*limiter.Limiter),
	}
}

// Allow registers a hit for key and reports whether it is within the limit.
func (m *MemoryLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	rate := fmt.Sprintf("%d-%s", max, window)
	lim := m.limiterFor(rate, window, max)

	res, err := lim.Get(ctx, rate+":"+key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}

func (m *MemoryLimiter) limiterFor(rate string, window time.Duration, max int) *limiter.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[rate]; ok {
		return lim
	}
	lim := limiter.New(m.store, limiter.Rate{Period: window, Limit: int64(max)})
	m.limiters[rate] = lim
	return lim
}
