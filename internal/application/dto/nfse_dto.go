package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// IssueNfseRequest body para POST /api/nfse.
type IssueNfseRequest struct {
	CityConfigurationID           string           `json:"city_configuration_id,omitempty"`
	CityIBGECode                  string           `json:"city_ibge_code,omitempty"`
	RpsNumber                     string           `json:"rps_number"`
	RpsSeries                     string           `json:"rps_series"`
	RpsType                       string           `json:"rps_type,omitempty"`
	ServiceItemCode               string           `json:"service_item_code"`
	MunicipalTaxCode              string           `json:"municipal_tax_code,omitempty"`
	Description                   string           `json:"description"`
	ProviderCnpj                  string           `json:"provider_cnpj"`
	ProviderMunicipalRegistration string           `json:"provider_municipal_registration,omitempty"`
	TakerDocument                 string           `json:"taker_document,omitempty"`
	TakerName                     string           `json:"taker_name,omitempty"`
	ServiceAmount                 decimal.Decimal  `json:"service_amount"`
	Deductions                    *decimal.Decimal `json:"deductions,omitempty"`
	IssRate                       decimal.Decimal  `json:"iss_rate"` // Fracción: 0.05 = 5 %
	IssAmount                     *decimal.Decimal `json:"iss_amount,omitempty"`
	IssWithheld                   bool             `json:"iss_withheld"`
	IssueDate                     *time.Time       `json:"issue_date,omitempty"`
}

// CancelNfseRequest body para POST /api/nfse/:id/cancel.
type CancelNfseRequest struct {
	Code   string `json:"code,omitempty"` // Código de cancelamento ABRASF (1, 2, 4, 9); por defecto 1
	Reason string `json:"reason"`
}

// SubstituteNfseRequest body para POST /api/nfse/:id/substitute.
type SubstituteNfseRequest struct {
	ReplacementID string `json:"replacement_id"`
	Code          string `json:"code,omitempty"`
	Reason        string `json:"reason"`
}

// NfseMessageResponse mensaje de retorno de la prefeitura.
type NfseMessageResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Correction string `json:"correction,omitempty"`
}

// NfseResponse documento en respuestas. El XML solo se incluye con ?xml=true.
type NfseResponse struct {
	ID                  string                `json:"id"`
	BusinessID          string                `json:"business_id"`
	CityConfigurationID string                `json:"city_configuration_id"`
	RpsNumber           string                `json:"rps_number"`
	RpsSeries           string                `json:"rps_series"`
	RpsType             string                `json:"rps_type"`
	NfseNumber          string                `json:"nfse_number,omitempty"`
	Protocol            string                `json:"protocol,omitempty"`
	VerificationCode    string                `json:"verification_code,omitempty"`
	LotProtocol         string                `json:"lot_protocol,omitempty"`
	Status              string                `json:"status"`
	ServiceItemCode     string                `json:"service_item_code"`
	Description         string                `json:"description"`
	ProviderCnpj        string                `json:"provider_cnpj"`
	TakerDocument       string                `json:"taker_document,omitempty"`
	TakerName           string                `json:"taker_name,omitempty"`
	ServiceAmount       decimal.Decimal       `json:"service_amount"`
	BaseCalculation     decimal.Decimal       `json:"base_calculation"`
	IssRate             decimal.Decimal       `json:"iss_rate"`
	IssAmount           decimal.Decimal       `json:"iss_amount"`
	Deductions          *decimal.Decimal      `json:"deductions,omitempty"`
	NetAmount           decimal.Decimal       `json:"net_amount"`
	IssWithheld         bool                  `json:"iss_withheld"`
	IssueDate           time.Time             `json:"issue_date"`
	Errors              []NfseMessageResponse `json:"errors"`
	Warnings            []NfseMessageResponse `json:"warnings"`
	SupersedesID        string                `json:"supersedes_id,omitempty"`
	SupersededByID      string                `json:"superseded_by_id,omitempty"`
	CancelledAt         *time.Time            `json:"cancelled_at,omitempty"`
	CancellationReason  string                `json:"cancellation_reason,omitempty"`
	OutboundXML         string                `json:"outbound_xml,omitempty"`
	InboundXML          string                `json:"inbound_xml,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// NfseEventResponse transición en la bitácora.
type NfseEventResponse struct {
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Trigger    string    `json:"trigger"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SubstitutionResponse resultado de una sustitución.
type SubstitutionResponse struct {
	Original    *NfseResponse `json:"original"`
	Replacement *NfseResponse `json:"replacement"`
}

// QueryNfseResponse documento tras la consulta y lo que respondió la prefeitura.
type QueryNfseResponse struct {
	Nfse      *NfseResponse         `json:"nfse"`
	Outcome   string                `json:"outcome,omitempty"`
	Protocol  string                `json:"protocol,omitempty"`
	Messages  []NfseMessageResponse `json:"messages"`
	Cancelled bool                  `json:"cancelled"`
}

// ReconcileResponse resultado del barrido.
type ReconcileResponse struct {
	Checked  int `json:"checked"`
	Resolved int `json:"resolved"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// NfseListResponse listado paginado.
type NfseListResponse struct {
	Items []*NfseResponse `json:"items"`
	Page  PageResponse    `json:"page"`
}

// ToNfseResponse mapea la entidad; withXML incluye los XML enviados y recibidos.
func ToNfseResponse(n *entity.Nfse, withXML bool) *NfseResponse {
	if n == nil {
		return nil
	}
	out := &NfseResponse{
		ID:                  n.ID,
		BusinessID:          n.BusinessID,
		CityConfigurationID: n.CityConfigurationID,
		RpsNumber:           n.RpsNumber,
		RpsSeries:           n.RpsSeries,
		RpsType:             n.RpsType,
		NfseNumber:          deref(n.NfseNumber),
		Protocol:            deref(n.Protocol),
		VerificationCode:    deref(n.VerificationCode),
		LotProtocol:         n.LotProtocol,
		Status:              n.Status,
		ServiceItemCode:     n.ServiceItemCode,
		Description:         n.Description,
		ProviderCnpj:        n.ProviderCnpj,
		TakerDocument:       n.TakerDocument,
		TakerName:           n.TakerName,
		ServiceAmount:       n.ServiceAmount,
		BaseCalculation:     n.BaseCalculation,
		IssRate:             n.IssRate,
		IssAmount:           n.IssAmount,
		Deductions:          n.Deductions,
		NetAmount:           n.NetAmount,
		IssWithheld:         n.IssWithheld,
		IssueDate:           n.IssueDate,
		Errors:              ToMessages(n.ErrorList),
		Warnings:            ToMessages(n.WarningList),
		SupersedesID:        deref(n.SupersedesID),
		SupersededByID:      deref(n.SupersededByID),
		CancelledAt:         n.CancelledAt,
		CancellationReason:  n.CancellationReason,
		CreatedAt:           n.CreatedAt,
		UpdatedAt:           n.UpdatedAt,
	}
	if withXML {
		out.OutboundXML = n.OutboundXML
		out.InboundXML = n.InboundXML
	}
	return out
}

// ToMessages nunca devuelve nil (el JSON siempre lleva una lista).
func ToMessages(msgs []entity.NfseMessage) []NfseMessageResponse {
	out := make([]NfseMessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, NfseMessageResponse{Code: m.Code, Message: m.Message, Correction: m.Correction})
	}
	return out
}

// ToEventResponses mapea la bitácora.
func ToEventResponses(events []*entity.NfseEvent) []NfseEventResponse {
	out := make([]NfseEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, NfseEventResponse{From: e.FromStatus, To: e.ToStatus, Trigger: e.Trigger, Detail: e.Detail, OccurredAt: e.OccurredAt})
	}
	return out
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
