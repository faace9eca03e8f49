// Package resilience retries store operations that fail for transient
// reasons, such as a database that is still starting or a locked SQLite file.
package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Backoff controls retries with exponential delay.
type Backoff struct {
	// Attempts is the total number of tries, including the first. Default 5.
	Attempts int
	// Initial is the delay before the first retry. Default 200ms.
	Initial time.Duration
	// Max caps the delay. Default 5s.
	Max time.Duration
}

// DefaultBackoff suits connecting to a database that may still be starting.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 5, Initial: 200 * time.Millisecond, Max: 5 * time.Second}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	return b
}

// delay returns the wait before retry number attempt (0-based).
func (b Backoff) delay(attempt int) time.Duration {
	d := b.Initial << attempt
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}

// Do runs fn until it succeeds, returns a non-transient error, the attempts
// are used up, or ctx is done. The last error is returned.
func Do(ctx context.Context, b Backoff, op string, fn func(ctx context.Context) error) error {
	b = b.withDefaults()

	var err error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) || attempt == b.Attempts-1 {
			return err
		}

		wait := b.delay(attempt)
		zap.L().Warn("retrying store operation",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
