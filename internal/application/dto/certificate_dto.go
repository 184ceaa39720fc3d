package dto

import (
	"time"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// CertificateUploadRequest body JSON para POST /api/certificates (alternativa a multipart).
type CertificateUploadRequest struct {
	Content  string `json:"content"` // Contenedor .pfx o PEM en base64
	Password string `json:"password"`
}

// CertificateInfoResponse datos leídos del contenedor.
type CertificateInfoResponse struct {
	SerialNumber   string    `json:"serial_number"`
	Thumbprint     string    `json:"thumbprint"`
	Subject        string    `json:"subject"`
	Issuer         string    `json:"issuer"`
	CNPJ           string    `json:"cnpj,omitempty"`
	IssueDate      time.Time `json:"issue_date"`
	ExpirationDate time.Time `json:"expiration_date"`
}

// CertificateResponse certificado persistido (sin contenedor ni contraseña).
type CertificateResponse struct {
	ID             string    `json:"id"`
	BusinessID     string    `json:"business_id"`
	SerialNumber   string    `json:"serial_number"`
	Thumbprint     string    `json:"thumbprint"`
	Subject        string    `json:"subject"`
	Issuer         string    `json:"issuer"`
	IssueDate      time.Time `json:"issue_date"`
	ExpirationDate time.Time `json:"expiration_date"`
	Status         string    `json:"status"`
	DaysToExpire   int       `json:"days_to_expire"`
}

// ToCertificateResponse mapea la entidad; DaysToExpire se calcula respecto de now.
func ToCertificateResponse(c *entity.DigitalCertificate, now time.Time) *CertificateResponse {
	if c == nil {
		return nil
	}
	return &CertificateResponse{
		ID:             c.ID,
		BusinessID:     c.BusinessID,
		SerialNumber:   c.SerialNumber,
		Thumbprint:     c.Thumbprint,
		Subject:        c.Subject,
		Issuer:         c.Issuer,
		IssueDate:      c.IssueDate,
		ExpirationDate: c.ExpirationDate,
		Status:         c.Status,
		DaysToExpire:   int(c.ExpirationDate.Sub(now).Hours() / 24),
	}
}
