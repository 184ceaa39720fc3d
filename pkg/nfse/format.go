package nfse

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Precisiones de serialización por versión de esquema.
const (
	CurrencyPrecision = 2
	// ABRASF 1.00 expresa la alícuota como fracción (0.0500).
	RatePrecisionV1 = 4
	// ABRASF 2.x expresa la alícuota en porcentaje (5.00).
	RatePrecisionV2 = 2
)

// FormatCurrency serializa un monto con 2 decimales fijos, sin notación científica.
func FormatCurrency(d decimal.Decimal) string {
	return d.Round(CurrencyPrecision).StringFixed(CurrencyPrecision)
}

// FormatRate serializa la alícuota (fracción interna) según la versión del esquema.
func FormatRate(rate decimal.Decimal, schemaVersion string) string {
	if strings.HasPrefix(schemaVersion, "1.") {
		return rate.Round(RatePrecisionV1).StringFixed(RatePrecisionV1)
	}
	return rate.Mul(decimal.NewFromInt(100)).Round(RatePrecisionV2).StringFixed(RatePrecisionV2)
}

// ParseAmount convierte un campo monetario del XML (string) a decimal.
// Acepta coma decimal, que algunos municipios devuelven.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("nfse: valor numérico inválido %q: %w", s, err)
	}
	return d, nil
}

// ParseRate convierte la alícuota del XML a fracción según la versión del esquema:
// 1.x ya la expresa como fracción, 2.x en porcentaje.
func ParseRate(s, schemaVersion string) (decimal.Decimal, error) {
	d, err := ParseAmount(s)
	if err != nil {
		return decimal.Zero, err
	}
	if strings.HasPrefix(schemaVersion, "1.") {
		return d, nil
	}
	return d.Div(decimal.NewFromInt(100)), nil
}
