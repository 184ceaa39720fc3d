package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/nfse-gateway/internal/domain"
)

// ErrLockLost el candado expiró o pertenece a otro dueño.
var ErrLockLost = errors.New("redislock: candado perdido")

// Solo el dueño del token puede extender o liberar.
var (
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLocker candado exclusivo con TTL (SET NX PX + token aleatorio).
type RedisLocker struct {
	client redis.Cmdable
}

// NewRedisLocker crea el candado sobre el cliente indicado.
func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire intenta tomar key por ttl. No espera: si otro dueño lo tiene devuelve
// domain.ErrConcurrentOperation.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redislock: acquire %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrConcurrentOperation, key)
	}
	return token, nil
}

// Extend renueva el TTL si token sigue siendo el dueño.
func (l *RedisLocker) Extend(ctx context.Context, key, token string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redislock: extend %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, key)
	}
	return nil
}

// Release libera key solo si token es el dueño. Liberar un candado ajeno o expirado no es error.
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redislock: release %s: %w", key, err)
	}
	return nil
}
