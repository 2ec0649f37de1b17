package worker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Стратегии backoff.
const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

// RetryPolicy — политика повторов для идемпотентных вызовов.
type RetryPolicy struct {
	// MaxAttempts — всего попыток, включая первую.
	MaxAttempts int

	// Backoff — "exponential" или "fixed".
	Backoff string

	// InitialDelay — пауза перед второй попыткой.
	InitialDelay time.Duration

	// MaxDelay — потолок паузы.
	MaxDelay time.Duration
}

// DefaultRetryPolicy — политика для проверки существования события.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  3,
	Backoff:      BackoffExponential,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     2 * time.Second,
}

// calculateBackoff вычисляет задержку перед попыткой attempt+1.
func calculateBackoff(attempt int, policy RetryPolicy) time.Duration {
	initialDelay := policy.InitialDelay
	if initialDelay <= 0 {
		initialDelay = time.Second
	}

	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var delay time.Duration
	switch policy.Backoff {
	case BackoffExponential:
		// delay = initialDelay * 2^(attempt-1)
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		delay = initialDelay
	}

	return min(delay, maxDelay)
}

// withRetry вызывает fn, пока она не вернёт nil или не кончатся попытки.
// Отмена ctx прерывает ожидание между попытками.
func withRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	maxAttempts := max(policy.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || attempt == maxAttempts {
			break
		}

		select {
		case <-time.After(calculateBackoff(attempt, policy)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if maxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, maxAttempts, lastErr)
}

// withTimeout ограничивает один внешний вызов по времени.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return v, fmt.Errorf("%w after %v: %w", ErrCallTimeout, timeout, err)
	}
	return v, err
}
