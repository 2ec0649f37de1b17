package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedeliveryTracker считает неудачные попытки обработки сообщения.
//
// Классические очереди RabbitMQ не ведут счётчик доставок, поэтому
// Consumer хранит его сам, по MessageId.
type RedeliveryTracker interface {
	// Increment увеличивает счётчик и возвращает новое значение.
	Increment(ctx context.Context, key string) (int, error)

	// Reset удаляет счётчик.
	Reset(ctx context.Context, key string) error
}

// MemoryTracker — счётчик в памяти процесса.
// Подходит для одного воркера: при нескольких экземплярах сообщение может
// попасть к другому consumer'у, и счётчик начнётся заново.
type MemoryTracker struct {
	mu       sync.Mutex
	attempts map[string]int
}

// NewMemoryTracker создаёт MemoryTracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{attempts: make(map[string]int)}
}

// Increment увеличивает счётчик.
func (t *MemoryTracker) Increment(_ context.Context, key string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts[key]++
	return t.attempts[key], nil
}

// Reset удаляет счётчик.
func (t *MemoryTracker) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.attempts, key)
	return nil
}

// DefaultRedeliveryTTL — сколько Redis хранит счётчик без новых попыток.
const DefaultRedeliveryTTL = time.Hour

// RedisTracker — счётчик в Redis, общий для всех воркеров.
type RedisTracker struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisTracker создаёт RedisTracker. ttl <= 0 — DefaultRedeliveryTTL.
func NewRedisTracker(client redis.Cmdable, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultRedeliveryTTL
	}
	return &RedisTracker{
		client: client,
		prefix: "anomalix:redelivery:",
		ttl:    ttl,
	}
}

// Increment атомарно увеличивает счётчик и продлевает TTL.
func (t *RedisTracker) Increment(ctx context.Context, key string) (int, error) {
	k := t.prefix + key

	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", k, err)
	}

	return int(incr.Val()), nil
}

// Reset удаляет счётчик.
func (t *RedisTracker) Reset(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
