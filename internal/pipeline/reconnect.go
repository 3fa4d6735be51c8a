package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReconnectConfig bounds the automatic reconnection loop. The delay between
// attempts is fixed; a camera that is gone stays gone, so spacing attempts
// further apart buys nothing.
type ReconnectConfig struct {
	MaxRetries int           // attempts before giving up (default: 5)
	RetryDelay time.Duration // pause between attempts (default: 1 second)
}

// DefaultReconnectConfig returns the standard reconnection bounds.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxRetries: 5,
		RetryDelay: 1 * time.Second,
	}
}

// ConnectFunc attempts to establish a connection.
type ConnectFunc func(ctx context.Context) error

// RunWithReconnect runs connectFn up to MaxRetries+1 times, pausing
// RetryDelay between attempts. Returns nil on the first success, the
// context error if cancelled, or a terminal error once the retry budget is
// spent. Never retries silently forever.
func RunWithReconnect(ctx context.Context, connectFn ConnectFunc, cfg ReconnectConfig, log *slog.Logger, onAttempt func()) error {
	if log == nil {
		log = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if attempt > 0 {
			log.Warn("pipeline: retrying connection",
				"attempt", attempt,
				"max_retries", cfg.MaxRetries,
				"delay", cfg.RetryDelay,
			)
			select {
			case <-time.After(cfg.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if onAttempt != nil && attempt > 0 {
			onAttempt()
		}

		lastErr = connectFn(ctx)
		if lastErr == nil {
			return nil
		}
		log.Error("pipeline: connection attempt failed", "attempt", attempt, "error", lastErr)
	}

	return fmt.Errorf("pipeline: max retries exceeded (%d attempts): %w", cfg.MaxRetries, lastErr)
}
