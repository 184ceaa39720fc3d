package nfse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// callResult resumen de una llamada con reintentos.
type callResult struct {
	env       *entity.ResponseEnvelope // Último envelope recibido (puede ser nil)
	err       error                    // Error del último intento; nil si quedó clasificado
	failures  []string                 // Historial de fallas transitorias
	ambiguous bool                     // Hubo al menos un intento sin respuesta concluyente
	protocol  string                   // Último protocolo visto
	settled   bool                     // La consulta intermedia resolvió el resultado
	pending   bool                     // La prefeitura recibió el lote; solo se consulta
}

func (r *callResult) observe(env *entity.ResponseEnvelope) {
	if env == nil {
		return
	}
	r.env = env
	if env.Protocol != "" {
		r.protocol = env.Protocol
	}
}

// transientMessages historial de fallas como mensajes del documento.
func (r *callResult) transientMessages() []entity.NfseMessage {
	out := make([]entity.NfseMessage, 0, len(r.failures))
	for _, f := range r.failures {
		out = append(out, entity.NfseMessage{Code: "TRANSIENT", Message: f})
	}
	return out
}

// callWithRetry ejecuta call con backoff exponencial solo ante TransientError.
// lookup (opcional) se ejecuta antes de cada reintento: si devuelve true, el intento
// anterior sí llegó a la prefeitura y no se reenvía. Si una respuesta trae un lote
// pendiente o un protocolo, los intentos restantes solo consultan.
func (l *LifecycleCoordinator) callWithRetry(
	ctx context.Context,
	call func(ctx context.Context) (*entity.ResponseEnvelope, error),
	lookup func(ctx context.Context) (*entity.ResponseEnvelope, bool),
) *callResult {
	res := &callResult{}
	delay := l.cfg.RetryBaseDelay
	for attempt := 1; attempt <= l.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			if err := l.sleep(ctx, delay); err != nil {
				return res
			}
			delay *= 2
			if lookup != nil {
				if env, ok := lookup(ctx); ok {
					res.observe(env)
					res.err = nil
					res.settled = true
					return res
				}
			}
			if res.pending {
				res.failures = append(res.failures, fmt.Sprintf("intento %d: lote %s en procesamiento", attempt, res.protocol))
				continue
			}
		}

		env, err := call(ctx)
		if err == nil && (env == nil || env.Outcome == entity.OutcomeTransientFailure) {
			err = domain.NewTransientError("nfse", errors.New("respuesta sin clasificar"))
		}
		res.observe(env)
		res.err = err
		if err == nil || !domain.IsRetryable(err) {
			return res
		}
		res.ambiguous = true
		res.failures = append(res.failures, fmt.Sprintf("intento %d: %v", attempt, err))
		if lookup != nil && env != nil && (env.Pending || env.Protocol != "") {
			res.pending = true
		}
		if ctx.Err() != nil {
			return res
		}
	}
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ── Candado + heartbeat ───────────────────────────────────────────────────────

// lease candado tomado sobre un documento. Mientras está vivo, el heartbeat lo extiende.
type lease struct {
	key   string
	token string
	lost  atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// acquire toma el candado de doc y arranca el heartbeat. El ctx devuelto se cancela si el candado se pierde.
func (l *LifecycleCoordinator) acquire(ctx context.Context, doc *entity.Nfse) (context.Context, *lease, error) {
	key := LockKey(doc)
	token, err := l.locker.Acquire(ctx, key, l.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentOperation) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("nfse: tomar candado %s: %w", key, err)
	}
	hbCtx, cancel := context.WithCancel(ctx)
	ls := &lease{key: key, token: token, cancel: cancel, done: make(chan struct{})}
	go l.heartbeat(hbCtx, ls)
	return hbCtx, ls, nil
}

func (l *LifecycleCoordinator) heartbeat(ctx context.Context, ls *lease) {
	defer close(ls.done)
	interval := l.cfg.LockTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.locker.Extend(ctx, ls.key, ls.token, l.cfg.LockTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.log.Warn().Err(err).Str("lock", ls.key).Msg("candado perdido; se aborta la operación")
				ls.lost.Store(true)
				ls.cancel()
				return
			}
		}
	}
}

// release detiene el heartbeat y libera el candado (con un contexto propio: el de la
// operación puede estar cancelado).
func (l *LifecycleCoordinator) release(ls *lease) {
	ls.once.Do(func() {
		ls.cancel()
		<-ls.done
		if ls.lost.Load() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.locker.Release(ctx, ls.key, ls.token); err != nil {
			l.log.Warn().Err(err).Str("lock", ls.key).Msg("no se pudo liberar el candado")
		}
	})
}

// lostError error a devolver cuando el candado se perdió durante la llamada.
func lostError(ls *lease) error {
	return fmt.Errorf("%w: candado %s perdido durante la llamada", domain.ErrConcurrentOperation, ls.key)
}
