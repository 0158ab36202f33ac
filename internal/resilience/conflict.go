package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/sitescore/internal/model"
)

// DefaultConflictBackoff is the first pause between optimistic-lock retries.
const DefaultConflictBackoff = 25 * time.Millisecond

// IsConflict reports whether err is an optimistic-lock conflict.
func IsConflict(err error) bool {
	var lock *model.OptimisticLockError
	return errors.As(err, &lock)
}

// ConflictRetryConfig retries only optimistic-lock conflicts.
func ConflictRetryConfig(maxAttempts int, backoff time.Duration) RetryConfig {
	if backoff <= 0 {
		backoff = DefaultConflictBackoff
	}
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: backoff,
		MaxBackoff:     backoff * 8,
		Multiplier:     2.0,
		JitterFraction: 0.5,
		ShouldRetry:    IsConflict,
	}
}

// RetryOnConflict re-runs fn, which must re-read the concept on every call,
// while it fails with *model.OptimisticLockError. A conflict that survives
// every attempt is returned as *model.ConcurrentUpdateError.
func RetryOnConflict(ctx context.Context, cfg RetryConfig, conceptID string, fn func(ctx context.Context) error) error {
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = IsConflict
	}
	cfg = cfg.withDefaults()
	if cfg.OnRetry == nil {
		cfg.OnRetry = RetryLogger("concept", "save "+conceptID)
	}

	err := Do(ctx, cfg, fn)
	if IsConflict(err) {
		return &model.ConcurrentUpdateError{ConceptID: conceptID, Attempts: cfg.MaxAttempts, Err: err}
	}
	return err
}
