package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/nfse-gateway/internal/application/certificate"
	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
)

var _ repository.DigitalCertificateRepository = (*DigitalCertificateRepo)(nil)

// DigitalCertificateRepo implementación de DigitalCertificateRepository (usable con pool o tx).
type DigitalCertificateRepo struct {
	q Querier
	// inTx: las lecturas de activación serializan por empresa (advisory lock + FOR UPDATE).
	inTx bool
}

// NewDigitalCertificateRepository construye el adaptador. Pasar pool o tx (Querier).
func NewDigitalCertificateRepository(q Querier) *DigitalCertificateRepo {
	return &DigitalCertificateRepo{q: q}
}

const certificateColumns = `
	id, business_id, serial_number, thumbprint, subject, issuer,
	issue_date, expiration_date, status, blob, password, created_at, updated_at`

// Create inserta el certificado. Serie repetida en la empresa -> domain.ErrDuplicateSerial.
func (r *DigitalCertificateRepo) Create(ctx context.Context, c *entity.DigitalCertificate) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	query := `INSERT INTO digital_certificates (` + certificateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.q.Exec(ctx, query,
		c.ID, c.BusinessID, c.SerialNumber, c.Thumbprint, c.Subject, c.Issuer,
		c.IssueDate, c.ExpirationDate, c.Status, c.Blob, c.Password, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSerial, c.SerialNumber)
		}
		return fmt.Errorf("insert digital certificate: %w", err)
	}
	return nil
}

// Save actualiza estado y contenedor.
func (r *DigitalCertificateRepo) Save(ctx context.Context, c *entity.DigitalCertificate) error {
	query := `
		UPDATE digital_certificates
		SET status = $2, blob = $3, password = $4, thumbprint = $5, subject = $6, issuer = $7,
		    issue_date = $8, expiration_date = $9, updated_at = $10
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, query,
		c.ID, c.Status, c.Blob, c.Password, c.Thumbprint, c.Subject, c.Issuer,
		c.IssueDate, c.ExpirationDate, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSerial, c.SerialNumber)
		}
		return fmt.Errorf("update digital certificate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("certificado %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

// DeactivateAllFromBusiness pasa a INACTIVE todos los ACTIVE de la empresa.
func (r *DigitalCertificateRepo) DeactivateAllFromBusiness(ctx context.Context, businessID string) error {
	query := `
		UPDATE digital_certificates
		SET status = $2, updated_at = now()
		WHERE business_id = $1 AND status = $3`
	if _, err := r.q.Exec(ctx, query, businessID, entity.CertificateStatusInactive, entity.CertificateStatusActive); err != nil {
		return fmt.Errorf("deactivate certificates: %w", err)
	}
	return nil
}

// FindUniqueActive certificado ACTIVE de la empresa (nil si no hay).
func (r *DigitalCertificateRepo) FindUniqueActive(ctx context.Context, businessID string) (*entity.DigitalCertificate, error) {
	return r.findOne(ctx, `SELECT `+certificateColumns+` FROM digital_certificates
		WHERE business_id = $1 AND status = $2`, businessID, entity.CertificateStatusActive)
}

// FindBySerialNumber busca por serie. Dentro de RunCertificates toma antes el candado de la empresa.
func (r *DigitalCertificateRepo) FindBySerialNumber(ctx context.Context, businessID, serialNumber string) (*entity.DigitalCertificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM digital_certificates WHERE business_id = $1 AND serial_number = $2`
	if r.inTx {
		if err := r.lockBusiness(ctx, businessID); err != nil {
			return nil, err
		}
		query += ` FOR UPDATE`
	}
	return r.findOne(ctx, query, businessID, serialNumber)
}

// FindExpiring ACTIVE con vencimiento en [from, to]; businessID "*" = todas las empresas.
func (r *DigitalCertificateRepo) FindExpiring(ctx context.Context, businessID string, from, to time.Time) ([]*entity.DigitalCertificate, error) {
	if businessID == certificate.AllBusinesses {
		return r.findList(ctx, `SELECT `+certificateColumns+` FROM digital_certificates
			WHERE status = $1 AND expiration_date BETWEEN $2 AND $3
			ORDER BY expiration_date`, entity.CertificateStatusActive, from, to)
	}
	return r.findList(ctx, `SELECT `+certificateColumns+` FROM digital_certificates
		WHERE business_id = $1 AND status = $2 AND expiration_date BETWEEN $3 AND $4
		ORDER BY expiration_date`, businessID, entity.CertificateStatusActive, from, to)
}

// FindOverdue ACTIVE ya vencidos en now.
func (r *DigitalCertificateRepo) FindOverdue(ctx context.Context, now time.Time) ([]*entity.DigitalCertificate, error) {
	return r.findList(ctx, `SELECT `+certificateColumns+` FROM digital_certificates
		WHERE status = $1 AND expiration_date <= $2
		ORDER BY expiration_date`, entity.CertificateStatusActive, now)
}

// lockBusiness serializa activaciones concurrentes de la misma empresa hasta el fin de la tx,
// también cuando la empresa aún no tiene filas que bloquear con FOR UPDATE.
func (r *DigitalCertificateRepo) lockBusiness(ctx context.Context, businessID string) error {
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "certificates:"+businessID); err != nil {
		return fmt.Errorf("lock certificates: %w", err)
	}
	if _, err := r.q.Exec(ctx, `SELECT id FROM digital_certificates WHERE business_id = $1 FOR UPDATE`, businessID); err != nil {
		return fmt.Errorf("lock certificates: %w", err)
	}
	return nil
}

func (r *DigitalCertificateRepo) findOne(ctx context.Context, query string, args ...any) (*entity.DigitalCertificate, error) {
	c, err := scanCertificate(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get digital certificate: %w", err)
	}
	return c, nil
}

func (r *DigitalCertificateRepo) findList(ctx context.Context, query string, args ...any) ([]*entity.DigitalCertificate, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list digital certificates: %w", err)
	}
	defer rows.Close()
	var list []*entity.DigitalCertificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan digital certificate: %w", err)
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func scanCertificate(row pgx.Row) (*entity.DigitalCertificate, error) {
	var c entity.DigitalCertificate
	err := row.Scan(
		&c.ID, &c.BusinessID, &c.SerialNumber, &c.Thumbprint, &c.Subject, &c.Issuer,
		&c.IssueDate, &c.ExpirationDate, &c.Status, &c.Blob, &c.Password, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
