package archibald

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RetryConfig controls the bounded exponential backoff applied to transient
// remote failures.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

func normalizeRetryConfig(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return cfg
}

// Retry runs fn up to cfg.MaxAttempts times, doubling the backoff between
// attempts. Only transient errors are retried; contention, validation and
// fatal errors surface immediately.
func Retry(ctx context.Context, op string, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = normalizeRetryConfig(cfg)
	backoff := cfg.Backoff

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().Str("op", op).Int("attempts", attempt).Msg("operation recovered after retry")
			}
			return nil
		}
		if !IsTransient(err) || attempt == cfg.MaxAttempts {
			break
		}

		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxAttempts).
			Dur("backoff", backoff).
			Msg("transient failure, scheduling retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return err
}

// WithTimeout runs fn and abandons the wait after d. The remote side effect
// is not cancelled, only the wait: fn keeps running on its goroutine and its
// eventual result is discarded. Mirrors racing a promise against a timer.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return Transient(errors.Errorf("operation exceeded %s budget", d))
	}
}
