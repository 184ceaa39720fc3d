package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
)

var _ repository.CityConfigurationRepository = (*CityConfigurationRepo)(nil)

// CityConfigurationRepo lectura de parámetros de web service por municipio.
type CityConfigurationRepo struct {
	q Querier
}

// NewCityConfigurationRepository construye el adaptador.
func NewCityConfigurationRepository(q Querier) *CityConfigurationRepo {
	return &CityConfigurationRepo{q: q}
}

const cityColumns = `
	id, ibge_code, name, uf, provider, schema_version, homologation_url, production_url,
	soap_action_prefix, is_active, created_at, updated_at`

func (r *CityConfigurationRepo) FindByID(ctx context.Context, id string) (*entity.CityConfiguration, error) {
	return r.findOne(ctx, `SELECT `+cityColumns+` FROM city_configurations WHERE id = $1`, id)
}

func (r *CityConfigurationRepo) FindByIBGECode(ctx context.Context, ibgeCode string) (*entity.CityConfiguration, error) {
	return r.findOne(ctx, `SELECT `+cityColumns+` FROM city_configurations WHERE ibge_code = $1`, ibgeCode)
}

func (r *CityConfigurationRepo) ListActive(ctx context.Context) ([]*entity.CityConfiguration, error) {
	rows, err := r.q.Query(ctx, `SELECT `+cityColumns+` FROM city_configurations WHERE is_active ORDER BY uf, name`)
	if err != nil {
		return nil, fmt.Errorf("list city configurations: %w", err)
	}
	defer rows.Close()
	var list []*entity.CityConfiguration
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan city configuration: %w", err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (r *CityConfigurationRepo) findOne(ctx context.Context, query string, args ...any) (*entity.CityConfiguration, error) {
	c, err := scanCity(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get city configuration: %w", err)
	}
	return c, nil
}

func scanCity(row pgx.Row) (*entity.CityConfiguration, error) {
	var c entity.CityConfiguration
	err := row.Scan(
		&c.ID, &c.IBGECode, &c.Name, &c.UF, &c.Provider, &c.SchemaVersion,
		&c.HomologationURL, &c.ProductionURL, &c.SOAPActionPrefix, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
