package realtime

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestReconnectScheduleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("n-th backoff equals base doubled n-1 times", prop.ForAll(
		func(baseMillis int, maxAttempts int) bool {
			base := time.Duration(baseMillis) * time.Millisecond
			schedule := newReconnectSchedule(base, maxAttempts)
			for attempt := 1; attempt <= maxAttempts; attempt++ {
				if schedule.NextBackOff() != ReconnectDelay(base, attempt) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 5000),
		gen.IntRange(1, 8),
	))

	properties.Property("reset restarts at the base delay", prop.ForAll(
		func(baseMillis int, consumed int) bool {
			base := time.Duration(baseMillis) * time.Millisecond
			schedule := newReconnectSchedule(base, DefaultMaxAttempts)
			for i := 0; i < consumed; i++ {
				schedule.NextBackOff()
			}
			schedule.Reset()
			return schedule.NextBackOff() == base
		},
		gen.IntRange(1, 5000),
		gen.IntRange(0, DefaultMaxAttempts),
	))

	properties.TestingRun(t)
}

func TestReconnectDelayDefaults(t *testing.T) {
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, w := range want {
		if got := ReconnectDelay(DefaultBaseDelay, i+1); got != w {
			t.Fatalf("ReconnectDelay(attempt %d) = %s, want %s", i+1, got, w)
		}
	}
	if got := ReconnectDelay(DefaultBaseDelay, 0); got != 0 {
		t.Fatalf("ReconnectDelay(0) = %s, want 0", got)
	}
}
