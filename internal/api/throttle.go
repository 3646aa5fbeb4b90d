package api

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const upgradeThrottleEntries = 10000

// UpgradeThrottle is a per-address token bucket applied to WebSocket upgrades.
// The set of tracked addresses is bounded by an LRU; an evicted address simply
// starts again with a full bucket.
type UpgradeThrottle struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
	disabled bool
}

// NewUpgradeThrottle allows perMinute upgrades per address with the given burst.
// A non-positive perMinute disables the throttle.
func NewUpgradeThrottle(perMinute, burst int) (*UpgradeThrottle, error) {
	if perMinute <= 0 {
		return &UpgradeThrottle{disabled: true}, nil
	}
	if burst <= 0 {
		burst = 1
	}

	cache, err := lru.New[string, *rate.Limiter](upgradeThrottleEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create upgrade throttle cache: %w", err)
	}
	return &UpgradeThrottle{
		limiters: cache,
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
	}, nil
}

// Allow consumes one token for addr
func (t *UpgradeThrottle) Allow(addr string) bool {
	if t.disabled {
		return true
	}

	t.mu.Lock()
	limiter, ok := t.limiters.Get(addr)
	if !ok {
		limiter = rate.NewLimiter(t.limit, t.burst)
		t.limiters.Add(addr, limiter)
	}
	t.mu.Unlock()

	return limiter.Allow()
}

// Len returns the number of tracked addresses
func (t *UpgradeThrottle) Len() int {
	if t.disabled {
		return 0
	}
	return t.limiters.Len()
}
