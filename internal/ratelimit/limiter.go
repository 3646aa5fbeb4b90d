package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"gateway/internal/metrics"
	"gateway/pkg/types"
)

// Limiter implements fixed-window request counting over a bucket Store.
// Check never returns an error: when the store fails the configured failure
// policy decides the answer (fail-closed unless FailOpen is set).
type Limiter struct {
	store    Store
	clock    clock.Clock
	failOpen bool
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// Options configures a Limiter. Zero values select the real clock, a no-op
// logger, throwaway metrics and fail-closed behaviour.
type Options struct {
	Clock    clock.Clock
	FailOpen bool
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

// New creates a limiter backed by store
func New(store Store, opts Options) *Limiter {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	return &Limiter{
		store:    store,
		clock:    opts.Clock,
		failOpen: opts.FailOpen,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Check records one hit for key and reports whether it fits in the window.
// Denied hits are still counted, so a caller hammering a closed window keeps
// seeing remaining=0 until the window resets.
func (l *Limiter) Check(ctx context.Context, key string, window time.Duration, maxRequests int) types.RateLimitResult {
	now := l.clock.Now()

	if window <= 0 || maxRequests <= 0 {
		l.logger.Error("invalid rate limit check", zap.String("key", key),
			zap.Duration("window", window), zap.Int("max", maxRequests), zap.Error(ErrInvalidPolicy))
		return types.RateLimitResult{Allowed: false, Limit: maxRequests, ResetTime: now.Add(window)}
	}

	count, resetTime, err := l.store.Increment(ctx, key, window, now)
	if err != nil {
		l.metrics.RateLimitStoreError.Inc()
		l.logger.Warn("rate limit store failed",
			zap.String("key", key), zap.Bool("fail_open", l.failOpen), zap.Error(err))
		if l.failOpen {
			return types.RateLimitResult{Allowed: true, Limit: maxRequests, Remaining: maxRequests, ResetTime: now.Add(window)}
		}
		return types.RateLimitResult{Allowed: false, Limit: maxRequests, Remaining: 0, ResetTime: now.Add(window)}
	}

	remaining := maxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	return types.RateLimitResult{
		Allowed:   count <= maxRequests,
		Limit:     maxRequests,
		Remaining: remaining,
		ResetTime: resetTime,
	}
}

// Policy returns a named limiter instance.
// Its buckets are keyed "name:address" so instances never share counts.
func (l *Limiter) Policy(name string, window time.Duration, maxRequests int) *Policy {
	return &Policy{
		limiter:     l,
		name:        name,
		window:      window,
		maxRequests: maxRequests,
	}
}

// RunSweeper drops expired buckets every interval until ctx is done.
// Stores that expire buckets themselves are left alone.
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) {
	sweeper, ok := l.store.(Sweeper)
	if !ok {
		return
	}

	ticker := l.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := sweeper.Sweep(l.clock.Now()); removed > 0 {
				l.logger.Debug("swept expired rate limit buckets", zap.Int("removed", removed))
			}
		}
	}
}

// HealthCheck pings the store when it is remote; in-process stores are always healthy
func (l *Limiter) HealthCheck(ctx context.Context) error {
	pinger, ok := l.store.(Pinger)
	if !ok {
		return nil
	}
	if err := pinger.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close releases the underlying store
func (l *Limiter) Close() error {
	return l.store.Close()
}

// Policy is one keyed limiter instance (the global API throttle, login, ...)
type Policy struct {
	limiter     *Limiter
	name        string
	window      time.Duration
	maxRequests int
}

// Name returns the policy name used as key namespace and metric label
func (p *Policy) Name() string {
	return p.name
}

// Window returns the policy window length
func (p *Policy) Window() time.Duration {
	return p.window
}

// Max returns the number of requests allowed per window
func (p *Policy) Max() int {
	return p.maxRequests
}

// Allow checks one request from addr against the policy
func (p *Policy) Allow(ctx context.Context, addr string) types.RateLimitResult {
	result := p.limiter.Check(ctx, p.name+":"+addr, p.window, p.maxRequests)
	if !result.Allowed {
		p.limiter.metrics.RateLimited.WithLabelValues(p.name).Inc()
	}
	return result
}
