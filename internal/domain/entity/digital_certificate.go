package entity

import "time"

// Estados del certificado digital.
const (
	CertificateStatusActive   = "ACTIVE"
	CertificateStatusInactive = "INACTIVE"
	CertificateStatusExpired  = "EXPIRED"
	CertificateStatusRevoked  = "REVOKED"
)

// DigitalCertificate certificado A1 (PKCS#12) de una empresa. Solo uno ACTIVE por empresa.
type DigitalCertificate struct {
	ID             string
	BusinessID     string
	SerialNumber   string
	Thumbprint     string // SHA-1 del DER, hex en mayúsculas
	Subject        string
	Issuer         string
	IssueDate      time.Time
	ExpirationDate time.Time
	Status         string
	Blob           []byte // Contenedor original (.pfx o PEM)
	Password       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsExpiredAt informa si el certificado ya no es válido en now.
func (c *DigitalCertificate) IsExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpirationDate)
}
