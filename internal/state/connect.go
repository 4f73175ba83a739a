package state

import (
	"context"
	"fmt"
	"time"
)

// ConnectConfig controls the bounded startup retry. Failing to reach the
// store at startup is the one fatal error in the system; once running,
// store errors are logged per cycle and retried on the next one.
type ConnectConfig struct {
	Redis       RedisConfig
	MaxAttempts int           // attempts before giving up (default: 5)
	Backoff     time.Duration // fixed delay between attempts (default: 2s)
}

// DefaultConnectConfig returns sensible startup retry settings
func DefaultConnectConfig(addr string) ConnectConfig {
	return ConnectConfig{
		Redis:       RedisConfig{Addr: addr},
		MaxAttempts: 5,
		Backoff:     2 * time.Second,
	}
}

// Connect opens the Redis store and verifies connectivity with a fixed
// backoff up to MaxAttempts. The returned error wraps the last ping
// failure; callers treat it as fatal.
func Connect(ctx context.Context, cfg ConnectConfig) (Store, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}

	store := NewRedis(cfg.Redis)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := store.Ping(ctx); err == nil {
			return store, nil
		} else {
			lastErr = err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-time.After(cfg.Backoff):
		case <-ctx.Done():
			_ = store.Close()
			return nil, fmt.Errorf("connect to store canceled: %w", ctx.Err())
		}
	}

	_ = store.Close()
	return nil, fmt.Errorf("store unreachable at %s after %d attempts: %w",
		cfg.Redis.Addr, cfg.MaxAttempts, lastErr)
}
