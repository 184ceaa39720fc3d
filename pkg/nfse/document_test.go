package nfse_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/nfse-gateway/pkg/nfse"
)

func TestValidateCNPJ(t *testing.T) {
	assert.NoError(t, nfse.ValidateCNPJ("11.222.333/0001-81"))
	assert.NoError(t, nfse.ValidateCNPJ("11222333000181"))
	assert.Error(t, nfse.ValidateCNPJ("11.222.333/0001-82"))
	assert.Error(t, nfse.ValidateCNPJ("00000000000000"))
	assert.Error(t, nfse.ValidateCNPJ("123"))
}

func TestValidateCPF(t *testing.T) {
	assert.NoError(t, nfse.ValidateCPF("529.982.247-25"))
	assert.Error(t, nfse.ValidateCPF("529.982.247-24"))
	assert.Error(t, nfse.ValidateCPF("111.111.111-11"))
}

func TestValidateTaxDocument_PorLongitud(t *testing.T) {
	assert.NoError(t, nfse.ValidateTaxDocument("52998224725"))
	assert.NoError(t, nfse.ValidateTaxDocument("11222333000181"))
	assert.True(t, nfse.IsCNPJ("11.222.333/0001-81"))
	assert.False(t, nfse.IsCNPJ("529.982.247-25"))
}

func TestFormatCurrency_SinNotacionCientifica(t *testing.T) {
	assert.Equal(t, "1000.00", nfse.FormatCurrency(decimal.RequireFromString("1000")))
	assert.Equal(t, "50.00", nfse.FormatCurrency(decimal.RequireFromString("50")))
	assert.Equal(t, "0.10", nfse.FormatCurrency(decimal.RequireFromString("0.1")))
	assert.Equal(t, "12000000.00", nfse.FormatCurrency(decimal.RequireFromString("1.2e7")))
	assert.Equal(t, "0.01", nfse.FormatCurrency(decimal.RequireFromString("0.005")))
}

func TestFormatRate_PorVersion(t *testing.T) {
	rate := decimal.RequireFromString("0.05")
	assert.Equal(t, "0.0500", nfse.FormatRate(rate, "1.00"))
	assert.Equal(t, "5.00", nfse.FormatRate(rate, "2.04"))
}

func TestParseAmountYRate(t *testing.T) {
	v, err := nfse.ParseAmount("1000,50")
	assert.NoError(t, err)
	assert.Equal(t, "1000.50", v.StringFixed(2))

	_, err = nfse.ParseAmount("abc")
	assert.Error(t, err)

	r, err := nfse.ParseRate("5.00", "2.04")
	assert.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.05")))

	r, err = nfse.ParseRate("0.0500", "1.00")
	assert.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.05")))

	// 1.00 % en 2.x no es 100 %.
	r, err = nfse.ParseRate("1.00", "2.02")
	assert.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.01")), r.String())

	r, err = nfse.ParseRate("0.50", "2.04")
	assert.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.005")), r.String())
}
