package srne_modbus

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	MAX_RETRY      = 3
	RETRY_INTERVAL = 100 * time.Millisecond
)

type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: MAX_RETRY, Interval: RETRY_INTERVAL}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	attempts := max(p.Attempts, 1)
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(attempts-1))
}

// WithRetry runs op at most policy.Attempts times. Exhaustion wraps both
// ErrRetryExhausted and the last error returned by op.
func WithRetry[T any](policy RetryPolicy, op func() (T, error), onRetry func(error, time.Duration)) (T, error) {
	attempts := 0
	value, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempts++
		return op()
	}, policy.backOff(), onRetry)
	if err != nil {
		return value, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err)
	}
	return value, nil
}
