package repository

import (
	"context"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// CityConfigurationRepository parámetros de web service por municipio.
type CityConfigurationRepository interface {
	FindByID(ctx context.Context, id string) (*entity.CityConfiguration, error)
	FindByIBGECode(ctx context.Context, ibgeCode string) (*entity.CityConfiguration, error)
	ListActive(ctx context.Context) ([]*entity.CityConfiguration, error)
}
