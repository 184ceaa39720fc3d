package http

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfse-gateway/internal/application/dto"
	"github.com/jhoicas/nfse-gateway/internal/domain"
)

// writeError traduce la taxonomía de errores de dominio a status HTTP:
//
//	validación 400 · no encontrado 404 · transición inválida / concurrencia 409
//	rechazo de la prefeitura 422 · certificado 412 · falla transitoria 503
func writeError(c *fiber.Ctx, err error) error {
	var rejected *domain.RejectedError
	switch {
	case errors.As(err, &rejected):
		details := make([]dto.NfseMessageResponse, 0, len(rejected.Messages))
		for _, m := range rejected.Messages {
			details = append(details, dto.NfseMessageResponse{Code: m.Code, Message: m.Message, Correction: m.Correction})
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "REJECTED", Message: "rechazada por la prefeitura", Details: details})
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_TRANSITION", Message: err.Error()})
	case errors.Is(err, domain.ErrConcurrentOperation):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONCURRENT_OPERATION", Message: err.Error()})
	case errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateSerial):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONFLICT", Message: err.Error()})
	case errors.Is(err, domain.ErrNoActiveCertificate),
		errors.Is(err, domain.ErrCertificateExpired),
		errors.Is(err, domain.ErrWrongPassword),
		errors.Is(err, domain.ErrInvalidCertificate):
		return c.Status(fiber.StatusPreconditionFailed).JSON(dto.ErrorResponse{Code: "CERTIFICATE", Message: err.Error()})
	case domain.IsRetryable(err):
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "TRANSIENT", Message: err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
}

var errNotOwned = fmt.Errorf("documento de otra empresa: %w", domain.ErrNotFound)
