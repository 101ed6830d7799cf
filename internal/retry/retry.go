// Package retry implements exponential backoff retry helpers, used by the
// adapter package while dialing a freshly spawned debug adapter's socket.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config configures retry behavior.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Default provides sensible defaults for dialing a newly spawned adapter.
var Default = Config{
	MaxAttempts:  5,
	InitialDelay: 10 * time.Millisecond,
	MaxDelay:     500 * time.Millisecond,
	Multiplier:   2.0,
}

// WithBackoff executes operation with exponential backoff retry logic,
// bailing out early if ctx is cancelled.
func WithBackoff(ctx context.Context, config Config, operation func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	return fmt.Errorf("operation failed after %d attempts, last error: %w",
		config.MaxAttempts, lastErr)
}
