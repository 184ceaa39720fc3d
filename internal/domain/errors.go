package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrConflict     = errors.New("conflicto con el estado actual")

	// Taxonomía de la transmisión NFSe.
	ErrValidation          = errors.New("nfse: documento inválido")
	ErrInvalidTransition   = errors.New("nfse: transición de estado no permitida")
	ErrConcurrentOperation = errors.New("nfse: operación concurrente en curso sobre el documento")
	ErrTransient           = errors.New("nfse: falla transitoria de comunicación")
	ErrRejectedByAuthority = errors.New("nfse: rechazada por la prefeitura")

	// Certificados digitales.
	ErrNoActiveCertificate = errors.New("certificado: la empresa no tiene certificado activo")
	ErrCertificateExpired  = errors.New("certificado: vencido")
	ErrWrongPassword       = errors.New("certificado: contraseña incorrecta")
	ErrInvalidCertificate  = errors.New("certificado: contenedor inválido")
	ErrDuplicateSerial     = errors.New("certificado: número de serie ya registrado como activo")
)

// TransientError envuelve fallas de red, timeout o 5xx. Es la única categoría reintentable.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransient.Error(), e.Op, e.Err)
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// NewTransientError construye un TransientError para la operación op.
func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

// RejectionMessage es un mensaje de retorno de la prefeitura (MensagemRetorno).
type RejectionMessage struct {
	Code       string
	Message    string
	Correction string
}

// RejectedError rechazo bien formado de la prefeitura. Terminal: no se reintenta.
type RejectedError struct {
	Messages []RejectionMessage
}

func (e *RejectedError) Error() string {
	parts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		parts = append(parts, m.Code+" "+m.Message)
	}
	return ErrRejectedByAuthority.Error() + ": " + strings.Join(parts, "; ")
}

func (e *RejectedError) Unwrap() error { return ErrRejectedByAuthority }

// InvalidTransitionError indica que la operación no es válida para el estado actual del documento.
type InvalidTransitionError struct {
	From string
	Op   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s desde %s", ErrInvalidTransition.Error(), e.Op, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// IsRetryable informa si err pertenece a la categoría reintentable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
