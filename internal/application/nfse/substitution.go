package nfse

import (
	"context"
	"fmt"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	domainnfse "github.com/jhoicas/nfse-gateway/internal/domain/nfse"
	pkgnfse "github.com/jhoicas/nfse-gateway/pkg/nfse"
)

// SubstitutionResult documentos involucrados en una sustitución.
type SubstitutionResult struct {
	Original    *entity.Nfse
	Replacement *entity.Nfse
}

// Substitute reemplaza una NFS-e AUTHORIZED por replacementID (un borrador creado con Issue)
// en una sola llamada SubstituirNfse. Ambos documentos quedan bajo candado durante la operación.
//
// Éxito: original SUBSTITUTED, sustituta AUTHORIZED, enlazados entre sí.
// Rechazo: original vuelve a AUTHORIZED, sustituta REJECTED.
// Falla transitoria agotada: original vuelve a AUTHORIZED, sustituta ERROR.
func (l *LifecycleCoordinator) Substitute(ctx context.Context, id, replacementID string, req entity.CancelRequest) (*SubstitutionResult, error) {
	if req.Code == "" {
		req.Code = pkgnfse.CancelCodeEmissionError
	}
	if !pkgnfse.ValidCancelCodes[req.Code] {
		return nil, fmt.Errorf("%w: código de cancelamento %q inválido", domain.ErrValidation, req.Code)
	}
	if id == replacementID {
		return nil, fmt.Errorf("%w: la sustituta debe ser otro documento", domain.ErrValidation)
	}
	original, replacement, err := l.loadSubstitutionPair(ctx, id, replacementID)
	if err != nil {
		return &SubstitutionResult{Original: original, Replacement: replacement}, err
	}
	client, err := l.clients.ClientFor(ctx, original.CityConfigurationID)
	if err != nil {
		return &SubstitutionResult{Original: original, Replacement: replacement}, err
	}

	origCtx, origLease, err := l.acquire(ctx, original)
	if err != nil {
		return &SubstitutionResult{Original: original, Replacement: replacement}, err
	}
	defer l.release(origLease)
	opCtx, replLease, err := l.acquire(origCtx, replacement)
	if err != nil {
		return &SubstitutionResult{Original: original, Replacement: replacement}, err
	}
	defer l.release(replLease)

	if original, replacement, err = l.loadSubstitutionPair(opCtx, id, replacementID); err != nil {
		return &SubstitutionResult{Original: original, Replacement: replacement}, err
	}
	result := &SubstitutionResult{Original: original, Replacement: replacement}
	lost := func() bool { return origLease.lost.Load() || replLease.lost.Load() }

	// Enlace pendiente: permite a la reconciliación encontrar la sustituta tras una caída.
	original.SupersededByID = &replacement.ID
	if err := l.transition(opCtx, original, entity.NfseStatusSubstituting, entity.TriggerSubstitute, req.Reason); err != nil {
		return result, err
	}
	if err := l.transition(opCtx, replacement, entity.NfseStatusQueued, entity.TriggerSubstitute, "sustituta de "+original.ID); err != nil {
		return result, err
	}
	if err := l.transition(opCtx, replacement, entity.NfseStatusTransmitting, entity.TriggerSubstitute, ""); err != nil {
		return result, err
	}

	lookup := func(ctx context.Context) (*entity.ResponseEnvelope, bool) {
		env, err := client.Query(ctx, replacement)
		return env, err == nil && env != nil && env.Outcome == entity.OutcomeAuthorized && env.HasNfse()
	}
	res := l.callWithRetry(opCtx, func(ctx context.Context) (*entity.ResponseEnvelope, error) {
		return client.Substitute(ctx, original, replacement, req)
	}, lookup)
	if lost() {
		return result, fmt.Errorf("%w: candado perdido durante la sustitución", domain.ErrConcurrentOperation)
	}
	if !res.settled {
		l.recordXML(replacement, res.env)
	}

	switch {
	case res.settled || (res.err == nil && res.env.Outcome == entity.OutcomeAuthorized):
		return result, l.finishSubstitution(opCtx, original, replacement, res.env, res.protocol, entity.TriggerSubstitute)

	case res.err == nil && res.env.Outcome == entity.OutcomeRejected:
		if res.ambiguous {
			if env, ok := lookup(opCtx); ok {
				return result, l.finishSubstitution(opCtx, original, replacement, env, res.protocol, entity.TriggerSubstitute)
			}
		}
		if err := l.failSubstitution(opCtx, original, replacement, entity.NfseStatusRejected, res.env.Messages, entity.TriggerSubstitute); err != nil {
			return result, err
		}
		return result, rejected(res.env.Messages)

	case domain.IsRetryable(res.err):
		if env, ok := lookup(opCtx); ok {
			return result, l.finishSubstitution(opCtx, original, replacement, env, res.protocol, entity.TriggerSubstitute)
		}
		if err := l.failSubstitution(opCtx, original, replacement, entity.NfseStatusError, res.transientMessages(), entity.TriggerSubstitute); err != nil {
			return result, err
		}
		return result, res.err

	default:
		msgs := []entity.NfseMessage{{Code: "LOCAL", Message: res.err.Error()}}
		if err := l.failSubstitution(opCtx, original, replacement, entity.NfseStatusError, msgs, entity.TriggerSubstitute); err != nil {
			return result, err
		}
		return result, res.err
	}
}

func (l *LifecycleCoordinator) loadSubstitutionPair(ctx context.Context, id, replacementID string) (*entity.Nfse, *entity.Nfse, error) {
	original, err := l.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := domainnfse.Guard(original, domainnfse.OpSubstitute); err != nil {
		return original, nil, err
	}
	replacement, err := l.load(ctx, replacementID)
	if err != nil {
		return original, nil, err
	}
	if err := domainnfse.Guard(replacement, domainnfse.OpSubmit); err != nil {
		return original, replacement, err
	}
	if replacement.BusinessID != original.BusinessID || replacement.CityConfigurationID != original.CityConfigurationID {
		return original, replacement, fmt.Errorf("%w: la sustituta debe ser de la misma empresa y municipio", domain.ErrValidation)
	}
	if err := domainnfse.ValidateForTransmission(replacement); err != nil {
		return original, replacement, err
	}
	return original, replacement, nil
}

// finishSubstitution autoriza la sustituta y cierra la original.
func (l *LifecycleCoordinator) finishSubstitution(ctx context.Context, original, replacement *entity.Nfse, env *entity.ResponseEnvelope, protocol, trigger string) error {
	replacement.SupersedesID = &original.ID
	if replacement.Status != entity.NfseStatusAuthorized {
		if err := l.authorize(ctx, replacement, env, protocol, trigger); err != nil {
			return err
		}
	} else if err := l.docs.Save(ctx, replacement); err != nil {
		// Autorizada antes por una consulta directa: solo falta el enlace.
		return fmt.Errorf("nfse: enlazar sustituta: %w", err)
	}
	original.SupersededByID = &replacement.ID
	original.ErrorList = []entity.NfseMessage{}
	number := ""
	if replacement.NfseNumber != nil {
		number = *replacement.NfseNumber
	}
	return l.transition(ctx, original, entity.NfseStatusSubstituted, trigger, "sustituida por NFS-e "+number)
}

// failSubstitution devuelve la original a AUTHORIZED y deja la sustituta en replStatus.
func (l *LifecycleCoordinator) failSubstitution(ctx context.Context, original, replacement *entity.Nfse, replStatus string, msgs []entity.NfseMessage, trigger string) error {
	detail := describe(msgs)
	original.SupersededByID = nil
	original.ErrorList = msgs
	if err := l.transition(ctx, original, entity.NfseStatusAuthorized, trigger, "sustitución fallida: "+detail); err != nil {
		return err
	}
	replacement.ErrorList = msgs
	return l.transition(ctx, replacement, replStatus, trigger, detail)
}

// resolvePendingSubstitution reconcilia una original abandonada en SUBSTITUTING a partir del
// enlace pendiente. Requiere el candado de la original; toma el de la sustituta.
func (l *LifecycleCoordinator) resolvePendingSubstitution(ctx context.Context, original *entity.Nfse, origEnv *entity.ResponseEnvelope, trigger string) error {
	if original.SupersededByID == nil {
		return l.transition(ctx, original, entity.NfseStatusAuthorized, trigger, "sustitución sin sustituta registrada")
	}
	replacement, err := l.load(ctx, *original.SupersededByID)
	if err != nil {
		return err
	}
	replCtx, ls, err := l.acquire(ctx, replacement)
	if err != nil {
		return err
	}
	defer l.release(ls)

	if replacement.Status == entity.NfseStatusAuthorized {
		return l.finishSubstitution(replCtx, original, replacement, nil, "", trigger)
	}
	if replacement.Status != entity.NfseStatusTransmitting {
		original.SupersededByID = nil
		return l.transition(replCtx, original, entity.NfseStatusAuthorized, trigger, "sustituta en "+replacement.Status)
	}

	client, err := l.clients.ClientFor(replCtx, replacement.CityConfigurationID)
	if err != nil {
		return err
	}
	env, err := client.Query(replCtx, replacement)
	if err != nil {
		return err
	}
	if env.Outcome == entity.OutcomeAuthorized && env.HasNfse() {
		return l.finishSubstitution(replCtx, original, replacement, env, env.Protocol, trigger)
	}
	if origEnv != nil && origEnv.CancelledAt != nil {
		// Original cancelada pero sustituta aún no visible: se deja para el próximo barrido.
		l.log.Warn().Str("nfse_id", original.ID).Str("replacement_id", replacement.ID).Msg("sustitución pendiente de confirmación")
		return nil
	}
	msgs := env.Messages
	if len(msgs) == 0 {
		msgs = []entity.NfseMessage{{Code: "RECONCILE", Message: "sustitución no registrada en la prefeitura"}}
	}
	return l.failSubstitution(replCtx, original, replacement, entity.NfseStatusError, msgs, trigger)
}
