package nfse_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	"github.com/jhoicas/nfse-gateway/internal/domain/nfse"
)

func validDoc() *entity.Nfse {
	return &entity.Nfse{
		ID:              "n1",
		BusinessID:      "b1",
		RpsNumber:       "10",
		RpsSeries:       "A",
		ServiceItemCode: "01.07",
		ProviderCnpj:    "11.222.333/0001-81",
		TakerDocument:   "529.982.247-25",
		ServiceAmount:   decimal.RequireFromString("1000.00"),
		BaseCalculation: decimal.RequireFromString("1000.00"),
		IssRate:         decimal.RequireFromString("0.05"),
		IssAmount:       decimal.RequireFromString("50.00"),
		NetAmount:       decimal.RequireFromString("1000.00"),
		Status:          entity.NfseStatusDraft,
	}
}

func TestValidateForTransmission_Valido(t *testing.T) {
	require.NoError(t, nfse.ValidateForTransmission(validDoc()))
}

func TestValidateForTransmission_Errores(t *testing.T) {
	cases := map[string]func(d *entity.Nfse){
		"monto negativo":  func(d *entity.Nfse) { d.IssAmount = decimal.RequireFromString("-1") },
		"cnpj inválido":   func(d *entity.Nfse) { d.ProviderCnpj = "11.222.333/0001-80" },
		"rps no numérico": func(d *entity.Nfse) { d.RpsNumber = "A10" },
		"sin serie":       func(d *entity.Nfse) { d.RpsSeries = "" },
		"alícuota alta":   func(d *entity.Nfse) { d.IssRate = decimal.RequireFromString("0.06") },
		"base mayor":      func(d *entity.Nfse) { d.BaseCalculation = decimal.RequireFromString("1000.01") },
		"deducción negativa": func(d *entity.Nfse) {
			v := decimal.RequireFromString("-0.01")
			d.Deductions = &v
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := validDoc()
			mutate(d)
			assert.ErrorIs(t, nfse.ValidateForTransmission(d), domain.ErrValidation)
		})
	}
}

func TestComputeIssAmount(t *testing.T) {
	got := nfse.ComputeIssAmount(decimal.RequireFromString("1000.00"), decimal.RequireFromString("0.05"))
	assert.Equal(t, "50.00", got.StringFixed(2))
	got = nfse.ComputeIssAmount(decimal.RequireFromString("333.33"), decimal.RequireFromString("0.025"))
	assert.Equal(t, "8.33", got.StringFixed(2))
}

func TestAuthorize_TodoONadaUnaVez(t *testing.T) {
	d := validDoc()
	require.NoError(t, nfse.Authorize(d, "12345", "P-1", "ABC123"))
	assert.True(t, d.IsAuthorizedIdentitySet())

	// Reaplicar la misma identidad es idempotente.
	require.NoError(t, nfse.Authorize(d, "12345", "P-1", "ABC123"))
	// Una identidad distinta es un conflicto.
	assert.ErrorIs(t, nfse.Authorize(d, "99999", "P-2", "XYZ"), domain.ErrConflict)
	assert.Equal(t, "12345", *d.NfseNumber)

	empty := validDoc()
	assert.ErrorIs(t, nfse.Authorize(empty, "", "P", "C"), domain.ErrValidation)
	assert.False(t, empty.IsAuthorizedIdentitySet())
	assert.Nil(t, empty.NfseNumber)
}
