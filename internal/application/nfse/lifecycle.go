// Package nfse orquesta el ciclo de vida de la NFS-e: emisión (borrador), envío,
// cancelamento, sustitución, consulta y reconciliación de intentos ambiguos.
package nfse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	domainnfse "github.com/jhoicas/nfse-gateway/internal/domain/nfse"
	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
	pkgnfse "github.com/jhoicas/nfse-gateway/pkg/nfse"
	"github.com/jhoicas/nfse-gateway/pkg/logger"
)

// LockKey clave del candado por identidad RPS: nfse:lock:<business>:<rps>:<serie>.
func LockKey(doc *entity.Nfse) string {
	return "nfse:lock:" + doc.RpsKey()
}

// LifecycleCoordinator único mutador de documentos fuera del estado DRAFT.
//
//	Guard → candado → estado en curso (persistido) → llamada con reintentos
//	→ consulta de reconciliación si es ambiguo → estado final → liberar candado
type LifecycleCoordinator struct {
	docs    repository.NfseRepository
	events  repository.NfseEventRepository
	clients domainnfse.ClientResolver
	locker  Locker
	cfg     Config
	log     *logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLifecycleCoordinator construye el coordinador.
func NewLifecycleCoordinator(
	docs repository.NfseRepository,
	events repository.NfseEventRepository,
	clients domainnfse.ClientResolver,
	locker Locker,
	cfg Config,
	log *logger.Logger,
) *LifecycleCoordinator {
	if log == nil {
		log = logger.Nop()
	}
	return &LifecycleCoordinator{
		docs:    docs,
		events:  events,
		clients: clients,
		locker:  locker,
		cfg:     cfg.withDefaults(),
		log:     log,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit transmite un documento DRAFT, ERROR o REJECTED. El documento devuelto refleja
// el estado persistido incluso cuando err != nil (RejectedError, TransientError agotado).
func (l *LifecycleCoordinator) Submit(ctx context.Context, id string) (*entity.Nfse, error) {
	doc, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := domainnfse.Guard(doc, domainnfse.OpSubmit); err != nil {
		return doc, err
	}
	if err := domainnfse.ValidateForTransmission(doc); err != nil {
		return doc, err
	}
	client, err := l.clients.ClientFor(ctx, doc.CityConfigurationID)
	if err != nil {
		return doc, err
	}

	opCtx, ls, err := l.acquire(ctx, doc)
	if err != nil {
		return doc, err
	}
	defer l.release(ls)

	// Releer bajo el candado: otro worker pudo cambiarlo entre la carga y la toma.
	if doc, err = l.load(opCtx, id); err != nil {
		return nil, err
	}
	if err := domainnfse.Guard(doc, domainnfse.OpSubmit); err != nil {
		return doc, err
	}
	resubmit := doc.Status != entity.NfseStatusDraft
	reachedAuthority := mayHaveReachedAuthority(doc)
	if err := l.transition(opCtx, doc, entity.NfseStatusQueued, entity.TriggerSubmit, ""); err != nil {
		return doc, err
	}
	if err := l.transition(opCtx, doc, entity.NfseStatusTransmitting, entity.TriggerSubmit, ""); err != nil {
		return doc, err
	}

	lookup := func(ctx context.Context) (*entity.ResponseEnvelope, bool) {
		env, err := client.Query(ctx, doc)
		return env, err == nil && env != nil && env.Outcome == entity.OutcomeAuthorized && env.HasNfse()
	}
	// Un envío anterior pudo registrarse tarde: se consulta antes de reenviar el RPS.
	if reachedAuthority {
		if env, ok := lookup(opCtx); ok {
			if ls.lost.Load() {
				return doc, lostError(ls)
			}
			return doc, l.authorize(opCtx, doc, env, doc.LotProtocol, entity.TriggerSubmit)
		}
	}
	res := l.callWithRetry(opCtx, func(ctx context.Context) (*entity.ResponseEnvelope, error) {
		return client.Transmit(ctx, doc)
	}, lookup)
	if ls.lost.Load() {
		return doc, lostError(ls)
	}
	if !res.settled {
		l.recordXML(doc, res.env)
	}

	switch {
	case res.settled || (res.err == nil && res.env.Outcome == entity.OutcomeAuthorized):
		return doc, l.authorize(opCtx, doc, res.env, res.protocol, entity.TriggerSubmit)

	case res.pending && domain.IsRetryable(res.err):
		// Lote recibido y aún sin NFS-e: queda en TRANSMITTING con el protocolo para Reconcile.
		doc.LotProtocol = res.protocol
		doc.ErrorList = res.transientMessages()
		doc.UpdatedAt = l.now()
		if err := l.docs.Save(opCtx, doc); err != nil {
			return doc, fmt.Errorf("nfse: persistir lote pendiente: %w", err)
		}
		l.log.Warn().Str("nfse_id", doc.ID).Str("protocol", res.protocol).Msg("lote en procesamiento; se resolverá por consulta")
		return doc, domain.NewTransientError("transmit", fmt.Errorf("lote %s en procesamiento", res.protocol))

	case res.err == nil && res.env.Outcome == entity.OutcomeRejected:
		if res.ambiguous || resubmit {
			// Un intento previo pudo registrarse: el rechazo puede ser por RPS duplicado.
			if env, ok := lookup(opCtx); ok {
				return doc, l.authorize(opCtx, doc, env, res.protocol, entity.TriggerSubmit)
			}
		}
		doc.ErrorList = res.env.Messages
		doc.WarningList = res.env.Warnings
		if err := l.transition(opCtx, doc, entity.NfseStatusRejected, entity.TriggerSubmit, describe(res.env.Messages)); err != nil {
			return doc, err
		}
		return doc, rejected(res.env.Messages)

	case domain.IsRetryable(res.err):
		if env, ok := lookup(opCtx); ok {
			return doc, l.authorize(opCtx, doc, env, res.protocol, entity.TriggerSubmit)
		}
		doc.ErrorList = res.transientMessages()
		detail := strings.Join(res.failures, "; ")
		if res.protocol != "" {
			detail = "protocolo " + res.protocol + "; " + detail
		}
		if err := l.transition(opCtx, doc, entity.NfseStatusError, entity.TriggerSubmit, detail); err != nil {
			return doc, err
		}
		l.log.Warn().Str("nfse_id", doc.ID).Str("rps", doc.RpsKey()).Int("attempts", len(res.failures)).Msg("reintentos agotados")
		return doc, res.err

	default:
		// Certificado ausente, configuración inválida, 4xx: terminal sin reintento.
		doc.ErrorList = []entity.NfseMessage{{Code: "LOCAL", Message: res.err.Error()}}
		if err := l.transition(opCtx, doc, entity.NfseStatusError, entity.TriggerSubmit, res.err.Error()); err != nil {
			return doc, err
		}
		return doc, res.err
	}
}

// mayHaveReachedAuthority informa si un envío anterior del documento pudo llegar a la
// prefeitura sin respuesta concluyente.
func mayHaveReachedAuthority(doc *entity.Nfse) bool {
	if doc.Status == entity.NfseStatusError || doc.LotProtocol != "" {
		return true
	}
	for _, m := range doc.ErrorList {
		if m.Code == "TRANSIENT" {
			return true
		}
	}
	return false
}

// SubmitAsync dispara Submit en una goroutine independiente, desacoplada del ciclo HTTP.
func (l *LifecycleCoordinator) SubmitAsync(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.AsyncTimeout)
		defer cancel()
		doc, err := l.Submit(ctx, id)
		ev := l.log.Info()
		if err != nil {
			ev = l.log.Warn().Err(err)
		}
		if doc != nil {
			ev = ev.Str("status", doc.Status)
		}
		ev.Str("nfse_id", id).Msg("envío asíncrono finalizado")
	}()
}

// ── Cancel ────────────────────────────────────────────────────────────────────

// Cancel solicita el cancelamento de una NFS-e AUTHORIZED.
func (l *LifecycleCoordinator) Cancel(ctx context.Context, id string, req entity.CancelRequest) (*entity.Nfse, error) {
	if req.Code == "" {
		req.Code = pkgnfse.CancelCodeEmissionError
	}
	if !pkgnfse.ValidCancelCodes[req.Code] {
		return nil, fmt.Errorf("%w: código de cancelamento %q inválido", domain.ErrValidation, req.Code)
	}
	doc, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := domainnfse.Guard(doc, domainnfse.OpCancel); err != nil {
		return doc, err
	}
	client, err := l.clients.ClientFor(ctx, doc.CityConfigurationID)
	if err != nil {
		return doc, err
	}

	opCtx, ls, err := l.acquire(ctx, doc)
	if err != nil {
		return doc, err
	}
	defer l.release(ls)

	if doc, err = l.load(opCtx, id); err != nil {
		return nil, err
	}
	if err := domainnfse.Guard(doc, domainnfse.OpCancel); err != nil {
		return doc, err
	}
	if err := l.transition(opCtx, doc, entity.NfseStatusCancelling, entity.TriggerCancel, req.Reason); err != nil {
		return doc, err
	}

	lookup := func(ctx context.Context) (*entity.ResponseEnvelope, bool) {
		env, err := client.Query(ctx, doc)
		return env, err == nil && env != nil && env.CancelledAt != nil
	}
	res := l.callWithRetry(opCtx, func(ctx context.Context) (*entity.ResponseEnvelope, error) {
		return client.Cancel(ctx, doc, req)
	}, lookup)
	if ls.lost.Load() {
		return doc, lostError(ls)
	}

	cancelled := func(env *entity.ResponseEnvelope) (*entity.Nfse, error) {
		at := l.now()
		if env != nil && env.CancelledAt != nil && !env.CancelledAt.IsZero() {
			at = *env.CancelledAt
		}
		domainnfse.MarkCancelled(doc, at)
		doc.CancellationReason = req.Reason
		doc.ErrorList = []entity.NfseMessage{}
		if env != nil {
			doc.InboundXML = env.InboundXML
		}
		return doc, l.transition(opCtx, doc, entity.NfseStatusCancelled, entity.TriggerCancel, req.Reason)
	}

	switch {
	case res.settled || (res.err == nil && res.env.Outcome == entity.OutcomeAuthorized):
		return cancelled(res.env)

	case res.err == nil && res.env.Outcome == entity.OutcomeRejected:
		if res.ambiguous {
			if env, ok := lookup(opCtx); ok {
				return cancelled(env)
			}
		}
		doc.ErrorList = res.env.Messages
		doc.InboundXML = res.env.InboundXML
		if err := l.transition(opCtx, doc, entity.NfseStatusAuthorized, entity.TriggerCancel, describe(res.env.Messages)); err != nil {
			return doc, err
		}
		return doc, rejected(res.env.Messages)

	case domain.IsRetryable(res.err):
		if env, ok := lookup(opCtx); ok {
			return cancelled(env)
		}
		doc.ErrorList = res.transientMessages()
		if err := l.transition(opCtx, doc, entity.NfseStatusAuthorized, entity.TriggerCancel, strings.Join(res.failures, "; ")); err != nil {
			return doc, err
		}
		return doc, res.err

	default:
		doc.ErrorList = []entity.NfseMessage{{Code: "LOCAL", Message: res.err.Error()}}
		if err := l.transition(opCtx, doc, entity.NfseStatusAuthorized, entity.TriggerCancel, res.err.Error()); err != nil {
			return doc, err
		}
		return doc, res.err
	}
}

// ── Query ─────────────────────────────────────────────────────────────────────

// Query consulta la prefeitura por la identidad RPS y aplica lo encontrado solo si
// resuelve un estado en curso o detecta una autorización o cancelamento externos.
func (l *LifecycleCoordinator) Query(ctx context.Context, id string) (*entity.Nfse, *entity.ResponseEnvelope, error) {
	doc, err := l.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := domainnfse.Guard(doc, domainnfse.OpQuery); err != nil {
		return doc, nil, err
	}
	opCtx, ls, err := l.acquire(ctx, doc)
	if err != nil {
		return doc, nil, err
	}
	defer l.release(ls)

	if doc, err = l.load(opCtx, id); err != nil {
		return nil, nil, err
	}
	env, err := l.queryAndApply(opCtx, doc, entity.TriggerQuery)
	if ls.lost.Load() {
		return doc, env, lostError(ls)
	}
	return doc, env, err
}

// queryAndApply núcleo compartido por Query y Reconcile. Requiere el candado tomado.
func (l *LifecycleCoordinator) queryAndApply(ctx context.Context, doc *entity.Nfse, trigger string) (*entity.ResponseEnvelope, error) {
	client, err := l.clients.ClientFor(ctx, doc.CityConfigurationID)
	if err != nil {
		return nil, err
	}
	res := l.callWithRetry(ctx, func(ctx context.Context) (*entity.ResponseEnvelope, error) {
		return client.Query(ctx, doc)
	}, nil)
	if res.err != nil {
		return res.env, res.err
	}
	env := res.env
	found := env.Outcome == entity.OutcomeAuthorized && env.HasNfse()

	switch doc.Status {
	case entity.NfseStatusTransmitting, entity.NfseStatusError:
		if found {
			return env, l.authorize(ctx, doc, env, env.Protocol, trigger)
		}
		if doc.Status == entity.NfseStatusTransmitting && env.Outcome == entity.OutcomeRejected {
			// La prefeitura no conoce el RPS: el intento interrumpido nunca llegó.
			doc.ErrorList = env.Messages
			return env, l.transition(ctx, doc, entity.NfseStatusError, trigger, "RPS no registrado: "+describe(env.Messages))
		}

	case entity.NfseStatusCancelling:
		if found && env.CancelledAt != nil {
			domainnfse.MarkCancelled(doc, cancelTime(env, l.now()))
			return env, l.transition(ctx, doc, entity.NfseStatusCancelled, trigger, "cancelamento confirmado por consulta")
		}
		if found {
			return env, l.transition(ctx, doc, entity.NfseStatusAuthorized, trigger, "cancelamento no registrado")
		}

	case entity.NfseStatusSubstituting:
		if found {
			return env, l.resolvePendingSubstitution(ctx, doc, env, trigger)
		}

	case entity.NfseStatusAuthorized:
		if found && env.CancelledAt != nil {
			domainnfse.MarkCancelled(doc, cancelTime(env, l.now()))
			return env, l.transition(ctx, doc, entity.NfseStatusCancelled, trigger, "cancelada fuera del sistema")
		}
	}
	return env, nil
}

// ── Delete ────────────────────────────────────────────────────────────────────

// Delete borra físicamente un documento que nunca generó un artefacto en la prefeitura.
func (l *LifecycleCoordinator) Delete(ctx context.Context, id string) error {
	doc, err := l.load(ctx, id)
	if err != nil {
		return err
	}
	if err := domainnfse.Guard(doc, domainnfse.OpDelete); err != nil {
		return err
	}
	opCtx, ls, err := l.acquire(ctx, doc)
	if err != nil {
		return err
	}
	defer l.release(ls)

	if doc, err = l.load(opCtx, id); err != nil {
		return err
	}
	if err := domainnfse.Guard(doc, domainnfse.OpDelete); err != nil {
		return err
	}
	return l.docs.Delete(opCtx, id)
}

// ── Reconcile ─────────────────────────────────────────────────────────────────

// ReconcileReport resultado de un barrido de reconciliación.
type ReconcileReport struct {
	Checked  int
	Resolved int
	Skipped  int // Documentos con candado tomado por otro worker
	Failed   int
}

// Reconcile resuelve documentos abandonados en QUEUED o en un estado en curso
// (caída del proceso durante la llamada). Los que tienen dueño se saltan.
func (l *LifecycleCoordinator) Reconcile(ctx context.Context, businessID string) (*ReconcileReport, error) {
	report := &ReconcileReport{}
	for _, status := range []string{
		entity.NfseStatusQueued,
		entity.NfseStatusTransmitting,
		entity.NfseStatusCancelling,
		entity.NfseStatusSubstituting,
	} {
		docs, err := l.docs.FindMany(ctx, repository.NfseFilter{BusinessID: businessID, Status: status})
		if err != nil {
			return report, err
		}
		for _, doc := range docs {
			report.Checked++
			before := doc.Status
			after, err := l.reconcileOne(ctx, doc.ID)
			switch {
			case errors.Is(err, domain.ErrConcurrentOperation):
				report.Skipped++
			case err != nil:
				report.Failed++
				l.log.Warn().Err(err).Str("nfse_id", doc.ID).Msg("reconciliación fallida")
			case after != before:
				report.Resolved++
			}
		}
	}
	return report, nil
}

func (l *LifecycleCoordinator) reconcileOne(ctx context.Context, id string) (string, error) {
	doc, err := l.load(ctx, id)
	if err != nil {
		return "", err
	}
	opCtx, ls, err := l.acquire(ctx, doc)
	if err != nil {
		return doc.Status, err
	}
	defer l.release(ls)

	if doc, err = l.load(opCtx, id); err != nil {
		return "", err
	}
	switch {
	case doc.Status == entity.NfseStatusQueued:
		err = l.transition(opCtx, doc, entity.NfseStatusError, entity.TriggerReconcile, "envío interrumpido antes de la llamada")
	case domainnfse.IsInFlight(doc.Status):
		_, err = l.queryAndApply(opCtx, doc, entity.TriggerReconcile)
	}
	if ls.lost.Load() {
		return doc.Status, lostError(ls)
	}
	return doc.Status, err
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (l *LifecycleCoordinator) load(ctx context.Context, id string) (*entity.Nfse, error) {
	doc, err := l.docs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("nfse %s: %w", id, domain.ErrNotFound)
	}
	return doc, nil
}

// transition aplica la arista, persiste documento y evento.
func (l *LifecycleCoordinator) transition(ctx context.Context, doc *entity.Nfse, to, trigger, detail string) error {
	ev, err := domainnfse.Transition(doc, to, trigger, detail, l.now())
	if err != nil {
		return err
	}
	if err := l.docs.Save(ctx, doc); err != nil {
		return fmt.Errorf("nfse: persistir %s: %w", to, err)
	}
	if err := l.events.Append(ctx, ev); err != nil {
		return fmt.Errorf("nfse: registrar evento %s->%s: %w", ev.FromStatus, ev.ToStatus, err)
	}
	l.log.Info().
		Str("nfse_id", doc.ID).
		Str("from", ev.FromStatus).
		Str("to", ev.ToStatus).
		Str("trigger", trigger).
		Msg("transición")
	return nil
}

// authorize asigna la identidad post-autorización y los valores devueltos por la prefeitura.
func (l *LifecycleCoordinator) authorize(ctx context.Context, doc *entity.Nfse, env *entity.ResponseEnvelope, protocol, trigger string) error {
	if env.Protocol != "" {
		protocol = env.Protocol
	}
	if protocol == "" {
		protocol = doc.LotProtocol
	}
	if err := domainnfse.Authorize(doc, env.NfseNumber, protocol, env.VerificationCode); err != nil {
		return err
	}
	doc.LotProtocol = ""
	if env.BaseCalculation != nil {
		doc.BaseCalculation = *env.BaseCalculation
	}
	if env.IssRate != nil {
		doc.IssRate = *env.IssRate
	}
	if env.IssAmount != nil {
		doc.IssAmount = *env.IssAmount
	}
	if env.NetAmount != nil {
		doc.NetAmount = *env.NetAmount
	}
	if env.IssueDate != nil {
		doc.IssueDate = *env.IssueDate
	}
	doc.ErrorList = []entity.NfseMessage{}
	doc.WarningList = env.Warnings
	if env.InboundXML != "" {
		doc.InboundXML = env.InboundXML
	}
	return l.transition(ctx, doc, entity.NfseStatusAuthorized, trigger, "NFS-e "+env.NfseNumber)
}

func (l *LifecycleCoordinator) recordXML(doc *entity.Nfse, env *entity.ResponseEnvelope) {
	if env == nil {
		return
	}
	if env.OutboundXML != "" {
		doc.OutboundXML = env.OutboundXML
	}
	if env.InboundXML != "" {
		doc.InboundXML = env.InboundXML
	}
}

func cancelTime(env *entity.ResponseEnvelope, now time.Time) time.Time {
	if env.CancelledAt != nil && !env.CancelledAt.IsZero() {
		return *env.CancelledAt
	}
	return now
}

func rejected(msgs []entity.NfseMessage) error {
	out := make([]domain.RejectionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.RejectionMessage{Code: m.Code, Message: m.Message, Correction: m.Correction})
	}
	return &domain.RejectedError{Messages: out}
}

func describe(msgs []entity.NfseMessage) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, strings.TrimSpace(m.Code+" "+m.Message))
	}
	return strings.Join(parts, "; ")
}
