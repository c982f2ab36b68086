package services

import (
	"context"
	"log"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	maxRetryAttempts  = 3
	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
)

// retryWithBackoff は指数バックオフで fn を再試行する
// スケジューラの通知は at-most-once なのでここを通さない
func retryWithBackoff(ctx context.Context, operation string, delay time.Duration, fn func() error) error {
	if delay <= 0 {
		delay = initialRetryDelay
	}
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(maxRetryAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(delay),
		retry.MaxDelay(maxRetryDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("retry %s: attempt %d/%d failed: %v", operation, n+1, maxRetryAttempts, err)
		}),
		retry.LastErrorOnly(true),
	)
}
