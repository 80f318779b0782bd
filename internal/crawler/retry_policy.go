package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// RetryPolicy bounds the attempts made for one detail page and the wait
// between them.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      bool          `mapstructure:"jitter"`
}

// DefaultRetryPolicy returns three attempts with a 500-1000ms constant,
// jittered backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		MaxBackoff:  time.Second,
		Multiplier:  1.0,
		Jitter:      true,
	}
}

// Validate checks the policy values.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Backoff < 0 {
		return fmt.Errorf("retry.backoff must be >= 0, got %s", p.Backoff)
	}
	if p.MaxBackoff < p.Backoff {
		return fmt.Errorf("retry.max_backoff (%s) must be >= retry.backoff (%s)", p.MaxBackoff, p.Backoff)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %v", p.Multiplier)
	}
	return nil
}

// ShouldRetry decides whether another attempt follows the given failed one.
// attempt is 1-based.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Delay returns the wait before the attempt following the given failed one.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.Backoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	d := time.Duration(delay)
	if p.Jitter {
		d += randomJitter(p.MaxBackoff - d)
	}
	return d
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit) + 1)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
