package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on a Redis server. Queues are lists (LPUSH/BRPOP),
// records are hashes, ephemeral markers are SET EX keys, and event channels
// are plain pub/sub (at-most-once, non-replayed).
type Redis struct {
	client *redis.Client
}

// RedisConfig holds connection settings for the shared store
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis creates a Redis-backed store. It does not verify connectivity;
// use Connect for the bounded-retry startup path.
func NewRedis(cfg RedisConfig) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{client: client}
}

func (r *Redis) PushQueue(ctx context.Context, queue, value string) error {
	if err := r.client.LPush(ctx, queue, value).Err(); err != nil {
		return fmt.Errorf("push %s: %w", queue, err)
	}
	return nil
}

func (r *Redis) PopQueue(ctx context.Context, queue string) (string, error) {
	val, err := r.client.RPop(ctx, queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("pop %s: %w", queue, err)
	}
	return val, nil
}

func (r *Redis) BPopQueue(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	res, err := r.client.BRPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrEmpty
	}
	if err != nil {
		return "", fmt.Errorf("bpop %s: %w", queue, err)
	}
	// BRPOP returns [queue, value]
	if len(res) != 2 {
		return "", fmt.Errorf("bpop %s: unexpected reply length %d", queue, len(res))
	}
	return res[1], nil
}

func (r *Redis) QueueLen(ctx context.Context, queue string) (int64, error) {
	n, err := r.client.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", queue, err)
	}
	return n, nil
}

func (r *Redis) SetField(ctx context.Context, key, field, value string) error {
	if err := r.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("hset %s.%s: %w", key, field, err)
	}
	return nil
}

func (r *Redis) SetFields(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make(map[string]interface{}, len(fields))
	for f, v := range fields {
		args[f] = v
	}
	if err := r.client.HSet(ctx, key, args).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

func (r *Redis) GetField(ctx context.Context, key, field string) (string, error) {
	val, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("hget %s.%s: %w", key, field, err)
	}
	return val, nil
}

func (r *Redis) GetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return fields, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("setex %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (r *Redis) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("del %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (r *Redis) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (r *Redis) AddToSet(ctx context.Context, set, member string) error {
	if err := r.client.SAdd(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", set, err)
	}
	return nil
}

func (r *Redis) RemoveFromSet(ctx context.Context, set, member string) error {
	if err := r.client.SRem(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("srem %s: %w", set, err)
	}
	return nil
}

func (r *Redis) SetMembers(ctx context.Context, set string) ([]string, error) {
	members, err := r.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", set, err)
	}
	return members, nil
}

func (r *Redis) Incr(ctx context.Context, counter string, delta int64) (int64, error) {
	n, err := r.client.IncrBy(ctx, counter, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("incrby %s: %w", counter, err)
	}
	return n, nil
}

func (r *Redis) Publish(ctx context.Context, channel, message string) error {
	if err := r.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	// Wait for the subscription to be confirmed so publishes after this
	// call are not silently dropped.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return &redisSubscription{pubsub: pubsub}, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
}

func (s *redisSubscription) Next(ctx context.Context, timeout time.Duration) (string, error) {
	msg, err := s.pubsub.ReceiveTimeout(ctx, timeout)
	if err != nil {
		// Timeouts surface as net errors; the caller only cares that
		// nothing arrived within the bounded wait.
		return "", ErrEmpty
	}
	switch m := msg.(type) {
	case *redis.Message:
		return m.Payload, nil
	default:
		// Subscription confirmations and pings are not messages
		return "", ErrEmpty
	}
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
