package http

import (
	"context"
	"encoding/base64"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/nfse-gateway/internal/application/certificate"
	"github.com/jhoicas/nfse-gateway/internal/application/dto"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// maxCertificateBytes límite del contenedor subido (.pfx o PEM).
const maxCertificateBytes = 64 << 10

// certificateManager contrato mínimo del store (lo implementa *certificate.Store).
type certificateManager interface {
	ReadCertificateInfo(blob []byte, password string) (*certificate.CertificateInfo, error)
	Activate(ctx context.Context, businessID string, blob []byte, password string) (*entity.DigitalCertificate, error)
	FindUniqueActive(ctx context.Context, businessID string) (*entity.DigitalCertificate, error)
	FindExpiring(ctx context.Context, daysToExpire int, businessID string) ([]*entity.DigitalCertificate, error)
	Revoke(ctx context.Context, businessID, serialNumber string) error
}

// CertificateHandler maneja los certificados A1 de la empresa.
type CertificateHandler struct {
	store       certificateManager
	warningDays int
	now         func() time.Time
}

// NewCertificateHandler construye el handler. warningDays es la ventana por defecto de /expiring.
func NewCertificateHandler(store certificateManager, warningDays int) *CertificateHandler {
	if warningDays <= 0 {
		warningDays = 30
	}
	return &CertificateHandler{store: store, warningDays: warningDays, now: time.Now}
}

// Activate carga el contenedor y lo deja como único certificado activo.
// POST /api/certificates (multipart: file + password, o JSON base64)
func (h *CertificateHandler) Activate(c *fiber.Ctx) error {
	blob, password, ok := h.readUpload(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "certificado requerido (file o content en base64)"})
	}
	cert, err := h.store.Activate(c.Context(), GetBusinessID(c), blob, password)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.ToCertificateResponse(cert, h.now()))
}

// Inspect lee el contenedor sin persistirlo.
// POST /api/certificates/inspect
func (h *CertificateHandler) Inspect(c *fiber.Ctx) error {
	blob, password, ok := h.readUpload(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "certificado requerido (file o content en base64)"})
	}
	info, err := h.store.ReadCertificateInfo(blob, password)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.CertificateInfoResponse{
		SerialNumber:   info.SerialNumber,
		Thumbprint:     info.Thumbprint,
		Subject:        info.Subject,
		Issuer:         info.Issuer,
		CNPJ:           info.CNPJ,
		IssueDate:      info.IssueDate,
		ExpirationDate: info.ExpirationDate,
	})
}

// Active certificado activo de la empresa.
// GET /api/certificates/active
func (h *CertificateHandler) Active(c *fiber.Ctx) error {
	cert, err := h.store.FindUniqueActive(c.Context(), GetBusinessID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.ToCertificateResponse(cert, h.now()))
}

// Expiring certificados de la empresa que vencen dentro de ?days (por defecto la ventana configurada).
// GET /api/certificates/expiring
func (h *CertificateHandler) Expiring(c *fiber.Ctx) error {
	days := c.QueryInt("days", h.warningDays)
	if days < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "days debe ser >= 0"})
	}
	certs, err := h.store.FindExpiring(c.Context(), days, GetBusinessID(c))
	if err != nil {
		return writeError(c, err)
	}
	now := h.now()
	out := make([]*dto.CertificateResponse, 0, len(certs))
	for _, cert := range certs {
		out = append(out, dto.ToCertificateResponse(cert, now))
	}
	return c.JSON(out)
}

// Revoke marca REVOKED el certificado por número de serie.
// DELETE /api/certificates/:serial
func (h *CertificateHandler) Revoke(c *fiber.Ctx) error {
	serial := strings.ToUpper(strings.TrimSpace(c.Params("serial")))
	if serial == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "serial requerido"})
	}
	if err := h.store.Revoke(c.Context(), GetBusinessID(c), serial); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// readUpload acepta multipart (file, password) o JSON {content: base64, password}.
func (h *CertificateHandler) readUpload(c *fiber.Ctx) ([]byte, string, bool) {
	if fh, err := c.FormFile("file"); err == nil {
		if fh.Size > maxCertificateBytes {
			return nil, "", false
		}
		f, err := fh.Open()
		if err != nil {
			return nil, "", false
		}
		defer f.Close()
		blob, err := io.ReadAll(io.LimitReader(f, maxCertificateBytes))
		if err != nil || len(blob) == 0 {
			return nil, "", false
		}
		return blob, c.FormValue("password"), true
	}
	var in dto.CertificateUploadRequest
	if err := c.BodyParser(&in); err != nil || in.Content == "" {
		return nil, "", false
	}
	blob, err := base64.StdEncoding.DecodeString(in.Content)
	if err != nil || len(blob) == 0 || len(blob) > maxCertificateBytes {
		return nil, "", false
	}
	return blob, in.Password, true
}
