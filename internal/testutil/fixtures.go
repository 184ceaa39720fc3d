package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// Identificadores fijos de los fixtures.
const (
	BusinessID   = "biz-1"
	CityID       = "city-3550308"
	ProviderCNPJ = "11222333000181"
)

// NewDraftNfse documento DRAFT válido: 1000.00 de servicio al 5 %.
func NewDraftNfse(id, rpsNumber string) *entity.Nfse {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	return &entity.Nfse{
		ID:                            id,
		BusinessID:                    BusinessID,
		CityConfigurationID:           CityID,
		RpsNumber:                     rpsNumber,
		RpsSeries:                     "A",
		RpsType:                       entity.DefaultRpsType,
		ServiceItemCode:               "01.07",
		MunicipalTaxCode:              "010701",
		Description:                   "Suporte técnico em informática",
		ProviderCnpj:                  ProviderCNPJ,
		ProviderMunicipalRegistration: "12345678",
		TakerDocument:                 "52998224725",
		TakerName:                     "Maria da Silva",
		ServiceAmount:                 decimal.RequireFromString("1000.00"),
		BaseCalculation:               decimal.RequireFromString("1000.00"),
		IssRate:                       decimal.RequireFromString("0.05"),
		IssAmount:                     decimal.RequireFromString("50.00"),
		NetAmount:                     decimal.RequireFromString("1000.00"),
		Status:                        entity.NfseStatusDraft,
		IssueDate:                     now,
		ErrorList:                     []entity.NfseMessage{},
		WarningList:                   []entity.NfseMessage{},
		CreatedAt:                     now,
		UpdatedAt:                     now,
	}
}

// NewCity configuración de municipio con la versión de esquema indicada.
func NewCity(schemaVersion, endpoint string) *entity.CityConfiguration {
	return &entity.CityConfiguration{
		ID:               CityID,
		IBGECode:         "3550308",
		Name:             "São Paulo",
		UF:               "SP",
		Provider:         "abrasf",
		SchemaVersion:    schemaVersion,
		HomologationURL:  endpoint,
		ProductionURL:    endpoint,
		SOAPActionPrefix: "http://nfse.abrasf.org.br/",
		IsActive:         true,
	}
}
