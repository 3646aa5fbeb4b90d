package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// FetchJWKS loads the key set at url, retrying with exponential backoff while
// the identity provider is still starting. The returned set refreshes itself in
// the background until EndBackground is called.
func FetchJWKS(ctx context.Context, url string, attempts int, logger *zap.Logger) (*keyfunc.JWKS, error) {
	if attempts <= 0 {
		attempts = 1
	}

	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		jwks, err := keyfunc.Get(url, keyfunc.Options{
			Ctx:               ctx,
			RefreshInterval:   5 * time.Minute,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				logger.Error("jwks refresh failed", zap.String("url", url), zap.Error(err))
			},
		})
		if err == nil {
			logger.Info("jwks loaded", zap.String("url", url), zap.Int("attempt", attempt))
			return jwks, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		wait := b.Duration()
		logger.Info("waiting for jwks endpoint",
			zap.String("url", url), zap.Int("attempt", attempt), zap.Duration("retry_in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrJWKSUnavailable, ctx.Err())
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrJWKSUnavailable, attempts, lastErr)
}
