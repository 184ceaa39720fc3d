package nfse

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	pkgnfse "github.com/jhoicas/nfse-gateway/pkg/nfse"
	"github.com/shopspring/decimal"
)

// MaxIssRate alícuota máxima del ISS (LC 116/2003, art. 8º).
var MaxIssRate = decimal.RequireFromString("0.05")

// ValidateForTransmission valida el documento antes de cualquier llamada de red.
// Devuelve un error que envuelve domain.ErrValidation con todos los problemas encontrados.
func ValidateForTransmission(doc *entity.Nfse) error {
	if doc == nil {
		return fmt.Errorf("%w: documento nulo", domain.ErrValidation)
	}
	var errs []error

	if strings.TrimSpace(doc.RpsNumber) == "" || len(pkgnfse.OnlyDigits(doc.RpsNumber)) != len(doc.RpsNumber) {
		errs = append(errs, fmt.Errorf("número de RPS %q debe ser numérico", doc.RpsNumber))
	}
	if strings.TrimSpace(doc.RpsSeries) == "" {
		errs = append(errs, errors.New("serie de RPS obligatoria"))
	}
	if err := pkgnfse.ValidateCNPJ(doc.ProviderCnpj); err != nil {
		errs = append(errs, fmt.Errorf("prestador: %w", err))
	}
	if doc.TakerDocument != "" {
		if err := pkgnfse.ValidateTaxDocument(doc.TakerDocument); err != nil {
			errs = append(errs, fmt.Errorf("tomador: %w", err))
		}
	}
	if strings.TrimSpace(doc.ServiceItemCode) == "" {
		errs = append(errs, errors.New("item de la lista de servicios obligatorio"))
	}

	amounts := map[string]decimal.Decimal{
		"valor de servicios": doc.ServiceAmount,
		"base de cálculo":    doc.BaseCalculation,
		"alícuota ISS":       doc.IssRate,
		"valor ISS":          doc.IssAmount,
		"valor líquido":      doc.NetAmount,
	}
	if doc.Deductions != nil {
		amounts["deducciones"] = *doc.Deductions
	}
	for name, v := range amounts {
		if v.IsNegative() {
			errs = append(errs, fmt.Errorf("%s no puede ser negativo (%s)", name, v.String()))
		}
	}
	if !doc.ServiceAmount.IsPositive() {
		errs = append(errs, errors.New("valor de servicios debe ser mayor que cero"))
	}
	if doc.BaseCalculation.GreaterThan(doc.ServiceAmount) {
		errs = append(errs, fmt.Errorf("base de cálculo (%s) mayor que el valor de servicios (%s)",
			doc.BaseCalculation.String(), doc.ServiceAmount.String()))
	}
	if doc.IssRate.GreaterThan(MaxIssRate) {
		errs = append(errs, fmt.Errorf("alícuota ISS %s supera el máximo %s", doc.IssRate.String(), MaxIssRate.String()))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrValidation}, errs...)...)
	}
	return nil
}

// ComputeIssAmount ISS = base × alícuota, redondeado a centavos.
func ComputeIssAmount(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Round(pkgnfse.CurrencyPrecision)
}

// Authorize asigna la identidad post-autorización. Todo o nada y una sola vez.
func Authorize(doc *entity.Nfse, nfseNumber, protocol, verificationCode string) error {
	if nfseNumber == "" || verificationCode == "" {
		return fmt.Errorf("%w: autorización sin número o código de verificación", domain.ErrValidation)
	}
	if doc.NfseNumber != nil || doc.Protocol != nil || doc.VerificationCode != nil {
		if doc.IsAuthorizedIdentitySet() && *doc.NfseNumber == nfseNumber {
			return nil
		}
		return fmt.Errorf("%w: identidad NFSe ya asignada", domain.ErrConflict)
	}
	doc.NfseNumber = &nfseNumber
	doc.Protocol = &protocol
	doc.VerificationCode = &verificationCode
	return nil
}

// MarkCancelled registra la fecha de cancelamiento confirmada por la prefeitura.
func MarkCancelled(doc *entity.Nfse, at time.Time) {
	t := at
	doc.CancelledAt = &t
}
