package state

import (
	"context"
	"errors"
	"time"
)

// Store defines the shared state contract every role coordinates through.
// Roles never call each other directly; queues, hash records, sets, channels
// and counters in the store are the only communication path.
//
// Consistency model: the only atomic mutual-exclusion primitive is queue pop.
// All other writes are last-write-wins field sets that may interleave with
// other writers, so consumers must filter by precondition status and keep
// their transitions idempotent.
type Store interface {
	// Queues (FIFO). PopQueue returns ErrEmpty when nothing is queued;
	// BPopQueue waits up to timeout before returning ErrEmpty. No two
	// callers ever receive the same element.
	PushQueue(ctx context.Context, queue, value string) error
	PopQueue(ctx context.Context, queue string) (string, error)
	BPopQueue(ctx context.Context, queue string, timeout time.Duration) (string, error)
	QueueLen(ctx context.Context, queue string) (int64, error)

	// Hash records (named fields on a key)
	SetField(ctx context.Context, key, field, value string) error
	SetFields(ctx context.Context, key string, fields map[string]string) error
	GetField(ctx context.Context, key, field string) (string, error)
	GetAll(ctx context.Context, key string) (map[string]string, error)

	// Plain keys. SetWithTTL creates an ephemeral marker that expires on
	// its own; Get returns ErrNotFound for a missing or expired key.
	Set(ctx context.Context, key, value string) error
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)

	// Scan returns all keys matching a glob-style pattern (e.g. "tool:*")
	Scan(ctx context.Context, pattern string) ([]string, error)

	// Sets
	AddToSet(ctx context.Context, set, member string) error
	RemoveFromSet(ctx context.Context, set, member string) error
	SetMembers(ctx context.Context, set string) ([]string, error)

	// Counters
	Incr(ctx context.Context, counter string, delta int64) (int64, error)

	// Pub/sub with at-most-once, non-replayed delivery. Messages published
	// while nobody is subscribed are lost; the reconciliation sweep is the
	// backstop for that.
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Ping verifies connectivity
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Subscription is a handle on a subscribed channel. Next blocks up to the
// given timeout and returns ErrEmpty when no message arrived in time.
type Subscription interface {
	Next(ctx context.Context, timeout time.Duration) (string, error)
	Close() error
}

// ErrEmpty is returned by queue pops and subscription waits that found nothing
var ErrEmpty = errors.New("state: nothing available")

// ErrNotFound is returned when a requested key does not exist
var ErrNotFound = errors.New("state: key not found")
