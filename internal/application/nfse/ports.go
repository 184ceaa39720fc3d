package nfse

import (
	"context"
	"time"
)

// Locker candado distribuido con TTL por documento (implementado sobre Redis).
// Acquire no espera: si la clave tiene dueño devuelve domain.ErrConcurrentOperation.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Extend(ctx context.Context, key, token string, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}

// Config parámetros del coordinador.
type Config struct {
	LockTTL        time.Duration // TTL del candado; el heartbeat extiende cada LockTTL/3
	RetryAttempts  int           // Intentos totales ante TransientError
	RetryBaseDelay time.Duration // Espera antes del 2º intento; se duplica en cada intento
	AsyncTimeout   time.Duration // Límite de SubmitAsync
}

// DefaultConfig valores por defecto: 3 intentos, 500 ms de base, candado de 2 minutos.
func DefaultConfig() Config {
	return Config{
		LockTTL:        2 * time.Minute,
		RetryAttempts:  3,
		RetryBaseDelay: 500 * time.Millisecond,
		AsyncTimeout:   5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.LockTTL <= 0 {
		c.LockTTL = d.LockTTL
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.AsyncTimeout <= 0 {
		c.AsyncTimeout = d.AsyncTimeout
	}
	return c
}
