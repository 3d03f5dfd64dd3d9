package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// newReconnectSchedule yields base, 2*base, 4*base, ... with no jitter so the
// n-th reconnect waits exactly ReconnectDelay(base, n).
func newReconnectSchedule(base time.Duration, maxAttempts int) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = ReconnectDelay(base, maxAttempts)
	b.Reset()
	return b
}

// ReconnectDelay is the wait before reconnect attempt n (1-indexed).
func ReconnectDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base << (attempt - 1)
}
