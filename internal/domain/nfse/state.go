// Package nfse contiene la máquina de estados y las validaciones de dominio del documento fiscal.
package nfse

import (
	"time"

	"github.com/google/uuid"
	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// Operaciones de ciclo de vida (usadas en InvalidTransitionError).
const (
	OpSubmit     = "submit"
	OpCancel     = "cancel"
	OpSubstitute = "substitute"
	OpQuery      = "query"
	OpDelete     = "delete"
)

// transitions tabla de transiciones permitidas: estado origen -> destinos.
// CANCELLING/SUBSTITUTING vuelven a AUTHORIZED cuando la prefeitura rechaza la operación
// o la falla transitoria se agota sin confirmación.
var transitions = map[string][]string{
	entity.NfseStatusDraft:        {entity.NfseStatusQueued},
	entity.NfseStatusError:        {entity.NfseStatusQueued, entity.NfseStatusAuthorized},
	entity.NfseStatusRejected:     {entity.NfseStatusQueued},
	entity.NfseStatusQueued:       {entity.NfseStatusTransmitting, entity.NfseStatusError},
	entity.NfseStatusTransmitting: {entity.NfseStatusAuthorized, entity.NfseStatusRejected, entity.NfseStatusError},
	entity.NfseStatusAuthorized:   {entity.NfseStatusCancelling, entity.NfseStatusSubstituting, entity.NfseStatusCancelled},
	entity.NfseStatusCancelling:   {entity.NfseStatusCancelled, entity.NfseStatusAuthorized},
	entity.NfseStatusSubstituting: {entity.NfseStatusSubstituted, entity.NfseStatusAuthorized},
}

// CanTransition informa si from -> to es una arista de la máquina de estados.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanSubmit solo DRAFT, ERROR y REJECTED se (re)envían.
func CanSubmit(status string) bool {
	switch status {
	case entity.NfseStatusDraft, entity.NfseStatusError, entity.NfseStatusRejected:
		return true
	}
	return false
}

// CanCancel solo documentos AUTHORIZED.
func CanCancel(status string) bool { return status == entity.NfseStatusAuthorized }

// CanSubstitute solo documentos AUTHORIZED.
func CanSubstitute(status string) bool { return status == entity.NfseStatusAuthorized }

// CanDelete borrado físico solo antes de que exista un artefacto reconocido por la prefeitura.
func CanDelete(status string) bool { return CanSubmit(status) }

// CanQuery la consulta requiere que el documento haya salido al menos una vez.
func CanQuery(status string) bool {
	switch status {
	case entity.NfseStatusDraft, entity.NfseStatusQueued:
		return false
	}
	return true
}

// IsInFlight estados que evidencian una llamada ambigua en curso.
func IsInFlight(status string) bool {
	switch status {
	case entity.NfseStatusTransmitting, entity.NfseStatusCancelling, entity.NfseStatusSubstituting:
		return true
	}
	return false
}

// Transition aplica from -> to sobre doc y devuelve el evento inmutable correspondiente.
// No persiste: el coordinador guarda documento y evento.
func Transition(doc *entity.Nfse, to, trigger, detail string, now time.Time) (*entity.NfseEvent, error) {
	from := doc.Status
	if !CanTransition(from, to) {
		return nil, &domain.InvalidTransitionError{From: from, Op: trigger + "->" + to}
	}
	doc.Status = to
	doc.UpdatedAt = now
	return &entity.NfseEvent{
		ID:         uuid.New().String(),
		NfseID:     doc.ID,
		FromStatus: from,
		ToStatus:   to,
		Trigger:    trigger,
		Detail:     detail,
		OccurredAt: now,
	}, nil
}

// Guard valida que op sea aplicable al estado actual; devuelve InvalidTransitionError si no.
func Guard(doc *entity.Nfse, op string) error {
	var ok bool
	switch op {
	case OpSubmit:
		ok = CanSubmit(doc.Status)
	case OpCancel:
		ok = CanCancel(doc.Status)
	case OpSubstitute:
		ok = CanSubstitute(doc.Status)
	case OpQuery:
		ok = CanQuery(doc.Status)
	case OpDelete:
		ok = CanDelete(doc.Status)
	}
	if !ok {
		return &domain.InvalidTransitionError{From: doc.Status, Op: op}
	}
	return nil
}
