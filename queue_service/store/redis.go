package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itskum47/waitroom/queue_service/observability"
	"github.com/itskum47/waitroom/queue_service/resilience"
	"github.com/redis/go-redis/v9"
)

// RedisQueueStore implements QueueStore on a single Redis instance. The
// client reconnects on its own; a dead Redis surfaces as per-call errors,
// never as a constructor failure, so the service can start degraded.
type RedisQueueStore struct {
	client *redis.Client
}

func NewRedisQueueStore(addr string, password string, db int) *RedisQueueStore {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		MaxRetries:      3,
		MaxRetryBackoff: time.Second,
	})
	return &RedisQueueStore{client: client}
}

// classify tags any transport or server error as queue-store
// unavailability so callers can map it to a 503.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", resilience.ErrQueueStoreUnavailable, op, err)
}

func (s *RedisQueueStore) PushBack(ctx context.Context, key string, values ...string) (int64, error) {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := s.client.RPush(ctx, key, args...).Result()
	if err != nil {
		return 0, classify("rpush "+key, err)
	}
	return n, nil
}

func (s *RedisQueueStore) PopFront(ctx context.Context, key string, n int64) ([]string, error) {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	if n <= 0 {
		return nil, nil
	}
	vals, err := s.client.LPopCount(ctx, key, int(n)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("lpop "+key, err)
	}
	return vals, nil
}

func (s *RedisQueueStore) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	t := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(t).Seconds())
	}()

	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, classify("lrange "+key, err)
	}
	return vals, nil
}

func (s *RedisQueueStore) Len(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, classify("llen "+key, err)
	}
	return n, nil
}

func (s *RedisQueueStore) AddMember(ctx context.Context, key, member string) (bool, error) {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	added, err := s.client.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, classify("sadd "+key, err)
	}
	return added == 1, nil
}

func (s *RedisQueueStore) IsMember(ctx context.Context, key, member string) (bool, error) {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, classify("sismember "+key, err)
	}
	return ok, nil
}

func (s *RedisQueueStore) RemoveMembers(ctx context.Context, key string, members ...string) error {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SRem(ctx, key, args...).Err(); err != nil {
		return classify("srem "+key, err)
	}
	return nil
}

func (s *RedisQueueStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return classify("set "+key, err)
	}
	return nil
}

func (s *RedisQueueStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	// Redis reports -1 (no expiry) and -2 (no key) as negative durations,
	// which both collapse into "window not open" for callers.
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, classify("ttl "+key, err)
	}
	return d, nil
}

func (s *RedisQueueStore) Delete(ctx context.Context, keys ...string) error {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return classify("del", err)
	}
	return nil
}

func (s *RedisQueueStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return classify("ping", err)
	}
	return nil
}

// Close releases the client's connection pool.
func (s *RedisQueueStore) Close() error {
	return s.client.Close()
}
