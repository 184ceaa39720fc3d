package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados del ciclo de vida de la NFSe.
const (
	NfseStatusDraft        = "DRAFT"        // Creada por el caso de uso de emisión, aún no enviada
	NfseStatusQueued       = "QUEUED"       // Aceptada para transmisión
	NfseStatusTransmitting = "TRANSMITTING" // Llamada en curso a la prefeitura (evidencia durable)
	NfseStatusAuthorized   = "AUTHORIZED"   // Autorizada: numero, protocolo y código de verificación asignados
	NfseStatusRejected     = "REJECTED"     // Rechazada por reglas de negocio; corregible y reenviable
	NfseStatusError        = "ERROR"        // Fallas transitorias agotadas; reenviable
	NfseStatusCancelling   = "CANCELLING"
	NfseStatusCancelled    = "CANCELLED"
	NfseStatusSubstituting = "SUBSTITUTING"
	NfseStatusSubstituted  = "SUBSTITUTED"
)

// DefaultRpsType tipo de RPS "1" = Recibo Provisório de Serviços.
const DefaultRpsType = "1"

// NfseMessage mensaje de retorno (error o alerta) tal como lo devuelve la prefeitura.
type NfseMessage struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Correction string `json:"correction,omitempty"`
}

// Nfse representa el documento fiscal (agregado raíz del subsistema de transmisión).
type Nfse struct {
	ID                  string
	BusinessID          string
	CityConfigurationID string

	// Identidad pre-autorización controlada por el emisor.
	RpsNumber string
	RpsSeries string
	RpsType   string

	// Identidad post-autorización: todo o nada, solo en AUTHORIZED.
	NfseNumber       *string
	Protocol         *string
	VerificationCode *string

	// LotProtocol protocolo de un lote asíncrono recibido y aún sin NFS-e. Mientras
	// esté presente el lote no se reenvía: se resuelve por consulta.
	LotProtocol string

	// Servicio y partes.
	ServiceItemCode               string // Item de la lista de servicios (LC 116/2003)
	MunicipalTaxCode              string
	Description                   string
	ProviderCnpj                  string
	ProviderMunicipalRegistration string
	TakerDocument                 string // CPF o CNPJ del tomador
	TakerName                     string

	// Valores (punto fijo).
	ServiceAmount   decimal.Decimal
	BaseCalculation decimal.Decimal
	IssRate         decimal.Decimal // Fracción: 0.05 = 5 %
	IssAmount       decimal.Decimal
	Deductions      *decimal.Decimal
	NetAmount       decimal.Decimal
	IssWithheld     bool

	Status             string
	IssueDate          time.Time
	OutboundXML        string
	InboundXML         string
	ErrorList          []NfseMessage
	WarningList        []NfseMessage
	SupersedesID       *string
	SupersededByID     *string
	CancelledAt        *time.Time
	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RpsKey identidad RPS única por empresa (businessId:rpsNumber:rpsSeries).
func (n *Nfse) RpsKey() string {
	return n.BusinessID + ":" + n.RpsNumber + ":" + n.RpsSeries
}

// IsAuthorizedIdentitySet informa si los tres campos post-autorización están presentes.
func (n *Nfse) IsAuthorizedIdentitySet() bool {
	return n.NfseNumber != nil && n.Protocol != nil && n.VerificationCode != nil
}
