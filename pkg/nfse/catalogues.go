// Package nfse contiene catálogos, formatos y validaciones del estándar ABRASF para NFS-e (Brasil).
package nfse

// =============================================================================
// Códigos de MensagemRetorno con semántica de "lote aún en procesamiento".
// La prefeitura no ha decidido: el resultado se resuelve consultando más tarde.
// =============================================================================

const (
	CodeLoteNotProcessed = "E4"  // Esse RPS ainda não foi processado / lote em processamento
	CodeLoteProcessing   = "E92" // Lote em processamento
	CodeLoteReceived     = "A02" // Lote recebido, aguardando processamento
)

// PendingCodes códigos que no son rechazo terminal.
var PendingCodes = map[string]bool{
	CodeLoteNotProcessed: true,
	CodeLoteProcessing:   true,
	CodeLoteReceived:     true,
}

// =============================================================================
// Códigos de cancelamento (ABRASF): 1 = erro na emissão, 2 = serviço não prestado,
// 3 = erro de assinatura, 4 = duplicidade da nota, 9 = outros.
// =============================================================================

const (
	CancelCodeEmissionError  = "1"
	CancelCodeServiceNotDone = "2"
	CancelCodeDuplicate      = "4"
	CancelCodeOther          = "9"
)

// ValidCancelCodes códigos de cancelamento aceptados.
var ValidCancelCodes = map[string]bool{
	CancelCodeEmissionError:  true,
	CancelCodeServiceNotDone: true,
	"3":                      true,
	CancelCodeDuplicate:      true,
	CancelCodeOther:          true,
}

// Natureza da operação / exigibilidade ISS (2.x).
const (
	ExigibilityRequired = "1"
	IssWithheldYes      = "1"
	IssWithheldNo       = "2"
)
