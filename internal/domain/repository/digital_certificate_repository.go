package repository

import (
	"context"
	"time"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// DigitalCertificateRepository define el puerto de persistencia para certificados digitales.
type DigitalCertificateRepository interface {
	FindUniqueActive(ctx context.Context, businessID string) (*entity.DigitalCertificate, error)
	FindBySerialNumber(ctx context.Context, businessID, serialNumber string) (*entity.DigitalCertificate, error)
	// FindExpiring devuelve certificados ACTIVE con vencimiento en [from, to].
	// businessID "*" consulta todas las empresas.
	FindExpiring(ctx context.Context, businessID string, from, to time.Time) ([]*entity.DigitalCertificate, error)
	// FindOverdue devuelve certificados ACTIVE vencidos antes de now.
	FindOverdue(ctx context.Context, now time.Time) ([]*entity.DigitalCertificate, error)
	Create(ctx context.Context, cert *entity.DigitalCertificate) error
	Save(ctx context.Context, cert *entity.DigitalCertificate) error
	DeactivateAllFromBusiness(ctx context.Context, businessID string) error
}
