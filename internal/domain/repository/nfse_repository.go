package repository

import (
	"context"
	"time"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// NfseFilter criterios para FindMany. Campos vacíos no filtran.
type NfseFilter struct {
	BusinessID string
	Status     string
	Limit      int
	Offset     int
}

// NfseRepository define el puerto de persistencia para Nfse (DIP).
// Los métodos Find* devuelven nil, nil cuando no hay registro.
type NfseRepository interface {
	FindByID(ctx context.Context, id string) (*entity.Nfse, error)
	FindByNfseNumber(ctx context.Context, businessID, nfseNumber string) (*entity.Nfse, error)
	FindByRpsNumber(ctx context.Context, businessID, rpsNumber, rpsSeries string) (*entity.Nfse, error)
	FindMany(ctx context.Context, filter NfseFilter) ([]*entity.Nfse, error)
	FindByPeriod(ctx context.Context, businessID string, from, to time.Time) ([]*entity.Nfse, error)
	FindByCityConfiguration(ctx context.Context, cityConfigurationID string, statuses ...string) ([]*entity.Nfse, error)
	// Create falla con domain.ErrDuplicate si la identidad RPS ya existe.
	Create(ctx context.Context, nfse *entity.Nfse) error
	Save(ctx context.Context, nfse *entity.Nfse) error
	Delete(ctx context.Context, id string) error
}
