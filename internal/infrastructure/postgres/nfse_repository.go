package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
)

var _ repository.NfseRepository = (*NfseRepo)(nil)

// NfseRepo implementación de NfseRepository sobre PostgreSQL (usable con pool o tx).
type NfseRepo struct {
	q Querier
}

// NewNfseRepository construye el adaptador. Pasar pool o tx (Querier).
func NewNfseRepository(q Querier) *NfseRepo {
	return &NfseRepo{q: q}
}

const nfseColumns = `
	id, business_id, city_configuration_id, rps_number, rps_series, rps_type,
	nfse_number, protocol, verification_code,
	service_item_code, municipal_tax_code, description, provider_cnpj, provider_municipal_registration,
	taker_document, taker_name,
	service_amount, base_calculation, iss_rate, iss_amount, deductions, net_amount, iss_withheld,
	status, issue_date, outbound_xml, inbound_xml, error_list, warning_list,
	supersedes_id, superseded_by_id, cancelled_at, cancellation_reason, created_at, updated_at,
	lot_protocol`

// Create inserta el documento. Violación de unicidad RPS -> domain.ErrDuplicate.
func (r *NfseRepo) Create(ctx context.Context, n *entity.Nfse) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	query := `INSERT INTO nfses (` + nfseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		        $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36)`
	_, err := r.q.Exec(ctx, query,
		n.ID, n.BusinessID, n.CityConfigurationID, n.RpsNumber, n.RpsSeries, n.RpsType,
		n.NfseNumber, n.Protocol, n.VerificationCode,
		n.ServiceItemCode, n.MunicipalTaxCode, n.Description, n.ProviderCnpj, n.ProviderMunicipalRegistration,
		n.TakerDocument, n.TakerName,
		n.ServiceAmount, n.BaseCalculation, n.IssRate, n.IssAmount, n.Deductions, n.NetAmount, n.IssWithheld,
		n.Status, n.IssueDate, nullIfEmpty(n.OutboundXML), nullIfEmpty(n.InboundXML),
		messages(n.ErrorList), messages(n.WarningList),
		n.SupersedesID, n.SupersededByID, n.CancelledAt, n.CancellationReason, n.CreatedAt, n.UpdatedAt,
		n.LotProtocol,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("nfse RPS %s: %w", n.RpsKey(), domain.ErrDuplicate)
		}
		return fmt.Errorf("insert nfse: %w", err)
	}
	return nil
}

// Save actualiza todos los campos mutables del documento.
func (r *NfseRepo) Save(ctx context.Context, n *entity.Nfse) error {
	query := `
		UPDATE nfses
		SET city_configuration_id = $2, rps_type = $3,
		    nfse_number = $4, protocol = $5, verification_code = $6,
		    service_item_code = $7, municipal_tax_code = $8, description = $9,
		    provider_cnpj = $10, provider_municipal_registration = $11,
		    taker_document = $12, taker_name = $13,
		    service_amount = $14, base_calculation = $15, iss_rate = $16, iss_amount = $17,
		    deductions = $18, net_amount = $19, iss_withheld = $20,
		    status = $21, issue_date = $22,
		    outbound_xml = $23, inbound_xml = $24, error_list = $25, warning_list = $26,
		    supersedes_id = $27, superseded_by_id = $28,
		    cancelled_at = $29, cancellation_reason = $30, updated_at = $31,
		    lot_protocol = $32
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query,
		n.ID, n.CityConfigurationID, n.RpsType,
		n.NfseNumber, n.Protocol, n.VerificationCode,
		n.ServiceItemCode, n.MunicipalTaxCode, n.Description,
		n.ProviderCnpj, n.ProviderMunicipalRegistration,
		n.TakerDocument, n.TakerName,
		n.ServiceAmount, n.BaseCalculation, n.IssRate, n.IssAmount,
		n.Deductions, n.NetAmount, n.IssWithheld,
		n.Status, n.IssueDate,
		nullIfEmpty(n.OutboundXML), nullIfEmpty(n.InboundXML), messages(n.ErrorList), messages(n.WarningList),
		n.SupersedesID, n.SupersededByID,
		n.CancelledAt, n.CancellationReason, n.UpdatedAt,
		n.LotProtocol,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("nfse %s: %w", n.ID, domain.ErrConflict)
		}
		return fmt.Errorf("update nfse: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("nfse %s: %w", n.ID, domain.ErrNotFound)
	}
	return nil
}

// Delete borra físicamente el documento.
func (r *NfseRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM nfses WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete nfse: %w", err)
	}
	return nil
}

// FindByID obtiene un documento por ID.
func (r *NfseRepo) FindByID(ctx context.Context, id string) (*entity.Nfse, error) {
	return r.findOne(ctx, `SELECT `+nfseColumns+` FROM nfses WHERE id = $1`, id)
}

// FindByNfseNumber obtiene un documento por número de NFS-e asignado por la prefeitura.
func (r *NfseRepo) FindByNfseNumber(ctx context.Context, businessID, nfseNumber string) (*entity.Nfse, error) {
	return r.findOne(ctx, `SELECT `+nfseColumns+` FROM nfses WHERE business_id = $1 AND nfse_number = $2`,
		businessID, nfseNumber)
}

// FindByRpsNumber obtiene un documento por identidad RPS.
func (r *NfseRepo) FindByRpsNumber(ctx context.Context, businessID, rpsNumber, rpsSeries string) (*entity.Nfse, error) {
	return r.findOne(ctx, `SELECT `+nfseColumns+` FROM nfses WHERE business_id = $1 AND rps_number = $2 AND rps_series = $3`,
		businessID, rpsNumber, rpsSeries)
}

// FindMany lista por empresa/estado. Limit 0 = sin límite.
func (r *NfseRepo) FindMany(ctx context.Context, f repository.NfseFilter) ([]*entity.Nfse, error) {
	var (
		where []string
		args  []any
	)
	if f.BusinessID != "" {
		args = append(args, f.BusinessID)
		where = append(where, fmt.Sprintf("business_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + nfseColumns + ` FROM nfses`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return r.findList(ctx, query, args...)
}

// FindByPeriod documentos emitidos en [from, to).
func (r *NfseRepo) FindByPeriod(ctx context.Context, businessID string, from, to time.Time) ([]*entity.Nfse, error) {
	return r.findList(ctx, `SELECT `+nfseColumns+` FROM nfses
		WHERE business_id = $1 AND issue_date >= $2 AND issue_date < $3
		ORDER BY issue_date, id`, businessID, from, to)
}

// FindByCityConfiguration documentos de un municipio; statuses vacío = todos.
func (r *NfseRepo) FindByCityConfiguration(ctx context.Context, cityConfigurationID string, statuses ...string) ([]*entity.Nfse, error) {
	if len(statuses) == 0 {
		return r.findList(ctx, `SELECT `+nfseColumns+` FROM nfses WHERE city_configuration_id = $1 ORDER BY created_at, id`,
			cityConfigurationID)
	}
	return r.findList(ctx, `SELECT `+nfseColumns+` FROM nfses
		WHERE city_configuration_id = $1 AND status = ANY($2)
		ORDER BY created_at, id`, cityConfigurationID, statuses)
}

func (r *NfseRepo) findOne(ctx context.Context, query string, args ...any) (*entity.Nfse, error) {
	n, err := scanNfse(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get nfse: %w", err)
	}
	return n, nil
}

func (r *NfseRepo) findList(ctx context.Context, query string, args ...any) ([]*entity.Nfse, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list nfse: %w", err)
	}
	defer rows.Close()
	var list []*entity.Nfse
	for rows.Next() {
		n, err := scanNfse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan nfse: %w", err)
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

func scanNfse(row pgx.Row) (*entity.Nfse, error) {
	var (
		n                     entity.Nfse
		deductions            decimal.NullDecimal
		outbound, inbound     *string
		errorList, warningLst []entity.NfseMessage
	)
	err := row.Scan(
		&n.ID, &n.BusinessID, &n.CityConfigurationID, &n.RpsNumber, &n.RpsSeries, &n.RpsType,
		&n.NfseNumber, &n.Protocol, &n.VerificationCode,
		&n.ServiceItemCode, &n.MunicipalTaxCode, &n.Description, &n.ProviderCnpj, &n.ProviderMunicipalRegistration,
		&n.TakerDocument, &n.TakerName,
		&n.ServiceAmount, &n.BaseCalculation, &n.IssRate, &n.IssAmount, &deductions, &n.NetAmount, &n.IssWithheld,
		&n.Status, &n.IssueDate, &outbound, &inbound, &errorList, &warningLst,
		&n.SupersedesID, &n.SupersededByID, &n.CancelledAt, &n.CancellationReason, &n.CreatedAt, &n.UpdatedAt,
		&n.LotProtocol,
	)
	if err != nil {
		return nil, err
	}
	if deductions.Valid {
		d := deductions.Decimal
		n.Deductions = &d
	}
	n.OutboundXML = derefStr(outbound)
	n.InboundXML = derefStr(inbound)
	n.ErrorList = messages(errorList)
	n.WarningList = messages(warningLst)
	return &n, nil
}

// messages normaliza nil a lista vacía (la columna JSONB nunca guarda null).
func messages(m []entity.NfseMessage) []entity.NfseMessage {
	if m == nil {
		return []entity.NfseMessage{}
	}
	return m
}
