package ratelimit

import (
	"context"
	"time"
)

// Store holds fixed-window buckets.
// Increment must be atomic per key: it starts a fresh window with count 1 when
// no bucket exists or the existing window has elapsed, otherwise it adds one hit.
// The returned count includes the hit being applied.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetTime time.Time, err error)
	Close() error
}

// Sweeper is implemented by stores that keep expired buckets until told to drop them
type Sweeper interface {
	Sweep(now time.Time) int
}

// Pinger is implemented by stores that live behind a network connection
type Pinger interface {
	Ping(ctx context.Context) error
}
