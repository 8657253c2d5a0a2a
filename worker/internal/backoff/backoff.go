// Package backoff computes capped exponential retry delays for transient I/O failures.
package backoff

import (
	"context"
	"time"
)

// Config holds the retry schedule.
type Config struct {
	InitialDelay time.Duration // delay after the first failure
	MaxDelay     time.Duration // cap applied to every delay
}

// Default is the schedule used by the log tailer and the backend forwarder.
func Default() Config {
	return Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

// Delay returns InitialDelay * 2^(attempt-1), capped at MaxDelay.
// Attempts below 1 are treated as the first attempt.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxDelay || delay <= 0 {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// Sleep waits for the attempt's delay or until ctx is done, whichever comes first.
func (c Config) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.Delay(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
