package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Resultados clasificados de una llamada a la prefeitura.
const (
	// OutcomeAuthorized la prefeitura aceptó la operación (emisión, cancelamiento o sustitución).
	OutcomeAuthorized = "AUTHORIZED"
	// OutcomeRejected rechazo de negocio/validación. Terminal.
	OutcomeRejected = "REJECTED"
	// OutcomeTransientFailure respuesta ambigua (fault SOAP, XML ilegible, lote en procesamiento).
	OutcomeTransientFailure = "TRANSIENT_FAILURE"
)

// ResponseEnvelope resultado normalizado de una llamada (transitorio, no se persiste).
type ResponseEnvelope struct {
	Outcome          string
	NfseNumber       string
	Protocol         string
	VerificationCode string
	IssueDate        *time.Time
	CancelledAt      *time.Time

	// Valores tal como los devuelve la prefeitura (nil si no vienen).
	BaseCalculation *decimal.Decimal
	IssRate         *decimal.Decimal
	IssAmount       *decimal.Decimal
	NetAmount       *decimal.Decimal

	// Messages siempre es un slice (0, 1 o n elementos), nunca nil tras Parse.
	Messages []NfseMessage
	Warnings []NfseMessage
	// Pending lote recibido pero aún no procesado por la prefeitura.
	Pending bool

	OutboundXML string
	InboundXML  string
}

// HasNfse informa si la respuesta trae la identidad de una NFSe emitida.
func (e *ResponseEnvelope) HasNfse() bool {
	return e != nil && e.NfseNumber != "" && e.VerificationCode != ""
}

// CancelRequest datos del pedido de cancelamiento.
type CancelRequest struct {
	Code   string // Código ABRASF (1, 2, 4, 9...)
	Reason string // Texto libre registrado localmente
}
