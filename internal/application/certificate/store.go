// Package certificate administra los certificados A1 por empresa: lectura del contenedor,
// activación exclusiva, vencimientos y entrega del par de firma al cliente de transmisión.
package certificate

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
	"github.com/jhoicas/nfse-gateway/internal/infrastructure/nfse/signer"
	"github.com/jhoicas/nfse-gateway/pkg/logger"
)

// AllBusinesses comodín de FindExpiring para consultar todas las empresas.
const AllBusinesses = "*"

// CertificateInfo identidad y vigencia extraídas del contenedor (no se persiste).
type CertificateInfo struct {
	SerialNumber   string
	Thumbprint     string
	Subject        string
	Issuer         string
	IssueDate      time.Time
	ExpirationDate time.Time
	CNPJ           string // Solo en e-CNPJ
}

// Store caso de uso de certificados digitales.
type Store struct {
	repo   repository.DigitalCertificateRepository
	tx     TxRunner
	sealer PasswordSealer
	log    *logger.Logger
	now    func() time.Time
}

// NewStore construye el store. sealer cifra la contraseña del contenedor en reposo;
// nil solo para herramientas que no persisten (ReadCertificateInfo).
func NewStore(repo repository.DigitalCertificateRepository, tx TxRunner, sealer PasswordSealer, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	return &Store{repo: repo, tx: tx, sealer: sealer, log: log, now: time.Now}
}

// ReadCertificateInfo abre el contenedor (.pfx o PEM) y extrae serial, huella y vigencia.
// Errores: domain.ErrWrongPassword o domain.ErrInvalidCertificate.
func (s *Store) ReadCertificateInfo(blob []byte, password string) (*CertificateInfo, error) {
	pair, err := signer.DecodeContainer(blob, password)
	if err != nil {
		return nil, err
	}
	leaf := pair.Leaf
	if leaf == nil {
		return nil, fmt.Errorf("%w: sin certificado hoja", domain.ErrInvalidCertificate)
	}
	return &CertificateInfo{
		SerialNumber:   signer.SerialHex(leaf),
		Thumbprint:     signer.Thumbprint(leaf),
		Subject:        leaf.Subject.String(),
		Issuer:         leaf.Issuer.String(),
		IssueDate:      leaf.NotBefore,
		ExpirationDate: leaf.NotAfter,
		CNPJ:           signer.SubjectCNPJ(leaf),
	}, nil
}

// Activate valida el contenedor y lo deja como único ACTIVE de la empresa, en una transacción.
// Falla con ErrCertificateExpired si ya venció y con ErrDuplicateSerial si el mismo serial ya está activo.
func (s *Store) Activate(ctx context.Context, businessID string, blob []byte, password string) (*entity.DigitalCertificate, error) {
	if businessID == "" {
		return nil, fmt.Errorf("%w: businessID requerido", domain.ErrInvalidInput)
	}
	info, err := s.ReadCertificateInfo(blob, password)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !now.Before(info.ExpirationDate) {
		return nil, fmt.Errorf("%w: venció el %s", domain.ErrCertificateExpired, info.ExpirationDate.Format(time.DateOnly))
	}
	sealed, err := s.sealPassword(businessID, password)
	if err != nil {
		return nil, err
	}

	var activated *entity.DigitalCertificate
	err = s.tx.RunCertificates(ctx, func(repo repository.DigitalCertificateRepository) error {
		existing, err := repo.FindBySerialNumber(ctx, businessID, info.SerialNumber)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == entity.CertificateStatusActive {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateSerial, info.SerialNumber)
		}
		if err := repo.DeactivateAllFromBusiness(ctx, businessID); err != nil {
			return err
		}

		if existing != nil {
			// Reactivación de un certificado ya cargado: se refresca el contenedor.
			existing.Status = entity.CertificateStatusActive
			existing.Blob = blob
			existing.Password = sealed
			existing.UpdatedAt = now
			activated = existing
			return repo.Save(ctx, existing)
		}
		activated = &entity.DigitalCertificate{
			ID:             uuid.New().String(),
			BusinessID:     businessID,
			SerialNumber:   info.SerialNumber,
			Thumbprint:     info.Thumbprint,
			Subject:        info.Subject,
			Issuer:         info.Issuer,
			IssueDate:      info.IssueDate,
			ExpirationDate: info.ExpirationDate,
			Status:         entity.CertificateStatusActive,
			Blob:           blob,
			Password:       sealed,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return repo.Create(ctx, activated)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("business_id", businessID).
		Str("serial", activated.SerialNumber).
		Time("expires_at", activated.ExpirationDate).
		Msg("certificado activado")
	return activated, nil
}

// FindExpiring certificados ACTIVE que vencen en [now, now+daysToExpire]. businessID "*" = todas.
func (s *Store) FindExpiring(ctx context.Context, daysToExpire int, businessID string) ([]*entity.DigitalCertificate, error) {
	if daysToExpire < 0 {
		return nil, fmt.Errorf("%w: daysToExpire negativo", domain.ErrInvalidInput)
	}
	if businessID == "" {
		businessID = AllBusinesses
	}
	now := s.now()
	return s.repo.FindExpiring(ctx, businessID, now, now.AddDate(0, 0, daysToExpire))
}

// FindUniqueActive devuelve el certificado ACTIVE de la empresa.
// Errores: ErrNoActiveCertificate si no hay, ErrCertificateExpired si el activo ya venció.
func (s *Store) FindUniqueActive(ctx context.Context, businessID string) (*entity.DigitalCertificate, error) {
	cert, err := s.repo.FindUniqueActive(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoActiveCertificate, businessID)
	}
	if cert.IsExpiredAt(s.now()) {
		return nil, fmt.Errorf("%w: serial %s venció el %s", domain.ErrCertificateExpired,
			cert.SerialNumber, cert.ExpirationDate.Format(time.DateOnly))
	}
	return cert, nil
}

// LoadSigningCertificate par certificado/llave del ACTIVE de la empresa (firma y TLS mutuo).
func (s *Store) LoadSigningCertificate(ctx context.Context, businessID string) (tls.Certificate, error) {
	cert, err := s.FindUniqueActive(ctx, businessID)
	if err != nil {
		return tls.Certificate{}, err
	}
	password, err := s.openPassword(cert)
	if err != nil {
		return tls.Certificate{}, err
	}
	return signer.DecodeContainer(cert.Blob, password)
}

func (s *Store) sealPassword(businessID, password string) (string, error) {
	if s.sealer == nil {
		return "", fmt.Errorf("certificado: store sin cifrado de contraseñas")
	}
	sealed, err := s.sealer.Seal(businessID, password)
	if err != nil {
		return "", fmt.Errorf("certificado: cifrar contraseña: %w", err)
	}
	return sealed, nil
}

func (s *Store) openPassword(cert *entity.DigitalCertificate) (string, error) {
	if s.sealer == nil {
		return "", fmt.Errorf("certificado: store sin cifrado de contraseñas")
	}
	password, err := s.sealer.Open(cert.BusinessID, cert.Password)
	if err != nil {
		return "", fmt.Errorf("%w: contraseña del certificado %s: %v", domain.ErrInvalidCertificate, cert.SerialNumber, err)
	}
	return password, nil
}

// ExpireOverdue barrido: marca EXPIRED los ACTIVE ya vencidos. Devuelve cuántos cambió.
func (s *Store) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.now()
	overdue, err := s.repo.FindOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	for i, cert := range overdue {
		cert.Status = entity.CertificateStatusExpired
		cert.UpdatedAt = now
		if err := s.repo.Save(ctx, cert); err != nil {
			return i, fmt.Errorf("expirar certificado %s: %w", cert.ID, err)
		}
		s.log.Warn().Str("business_id", cert.BusinessID).Str("serial", cert.SerialNumber).Msg("certificado vencido")
	}
	return len(overdue), nil
}

// Revoke marca REVOKED el certificado indicado; si era el activo la empresa queda sin certificado.
func (s *Store) Revoke(ctx context.Context, businessID, serialNumber string) error {
	cert, err := s.repo.FindBySerialNumber(ctx, businessID, serialNumber)
	if err != nil {
		return err
	}
	if cert == nil {
		return fmt.Errorf("certificado %s: %w", serialNumber, domain.ErrNotFound)
	}
	cert.Status = entity.CertificateStatusRevoked
	cert.UpdatedAt = s.now()
	return s.repo.Save(ctx, cert)
}
