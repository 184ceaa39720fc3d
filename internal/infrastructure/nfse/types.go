// Package nfse implementa el códec ABRASF (construcción y lectura de mensajes) y el
// cliente de transmisión SOAP hacia los web services municipales de NFS-e.
package nfse

import (
	"encoding/xml"
	"strings"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// ── Namespaces y operaciones ──────────────────────────────────────────────────

const (
	NsABRASF = "http://www.abrasf.org.br/nfse.xsd"

	// ProviderABRASF único proveedor implementado (CityConfiguration.Provider).
	ProviderABRASF = "abrasf"

	// Operaciones SOAP (WSDL ABRASF).
	OpRecepcionarLoteRps         = "RecepcionarLoteRps"
	OpRecepcionarLoteRpsSincrono = "RecepcionarLoteRpsSincrono"
	OpCancelarNfse               = "CancelarNfse"
	OpSubstituirNfse             = "SubstituirNfse"
	OpConsultarNfsePorRps        = "ConsultarNfsePorRps"

	// Valores fijos del RPS.
	naturezaTributacaoMunicipio = "1"
	optionNo                    = "2" // 1 = Sim, 2 = Não
	rpsStatusNormal             = "1"
	quantidadeRpsPorLote        = 1

	dateTimeLayoutV1 = "2006-01-02T15:04:05"
	dateLayoutV2     = "2006-01-02"
)

// OutboundMessage XML listo para firmar y enviar.
type OutboundMessage struct {
	Operation string   // Operación SOAP
	XML       []byte   // Cuerpo ABRASF sin firma
	SignIDs   []string // Ids a firmar, de adentro hacia afuera
}

// isV1 informa si la versión de esquema es ABRASF 1.x.
func isV1(schemaVersion string) bool {
	return strings.HasPrefix(schemaVersion, "1.")
}

// supportsSubstitution SubstituirNfse existe desde ABRASF 2.01.
func supportsSubstitution(schemaVersion string) bool {
	return !isV1(schemaVersion)
}

// xmlID normaliza un valor para usarlo como atributo Id (NCName: solo letras y dígitos).
func xmlID(prefix string, parts ...string) string {
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, p := range parts {
		for _, r := range p {
			if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}

func rpsID(doc *entity.Nfse) string  { return xmlID("rps", doc.RpsNumber, doc.RpsSeries) }
func loteID(doc *entity.Nfse) string { return xmlID("lote", doc.RpsNumber, doc.RpsSeries) }

// ── Estructuras comunes ───────────────────────────────────────────────────────

type identificacaoRps struct {
	Numero string `xml:"Numero"`
	Serie  string `xml:"Serie"`
	Tipo   string `xml:"Tipo"`
}

type cpfCnpj struct {
	Cpf  string `xml:"Cpf,omitempty"`
	Cnpj string `xml:"Cnpj,omitempty"`
}

type identificacaoTomador struct {
	CpfCnpj cpfCnpj `xml:"CpfCnpj"`
}

type tomador struct {
	IdentificacaoTomador *identificacaoTomador `xml:"IdentificacaoTomador,omitempty"`
	RazaoSocial          string                `xml:"RazaoSocial,omitempty"`
}

// ── ABRASF 1.00: EnviarLoteRpsEnvio ──────────────────────────────────────────

type enviarLoteRpsEnvioV1 struct {
	XMLName xml.Name  `xml:"EnviarLoteRpsEnvio"`
	Xmlns   string    `xml:"xmlns,attr"`
	LoteRps loteRpsV1 `xml:"LoteRps"`
}

type loteRpsV1 struct {
	ID                 string  `xml:"Id,attr"`
	NumeroLote         string  `xml:"NumeroLote"`
	Cnpj               string  `xml:"Cnpj"`
	InscricaoMunicipal string  `xml:"InscricaoMunicipal,omitempty"`
	QuantidadeRps      int     `xml:"QuantidadeRps"`
	ListaRps           []rpsV1 `xml:"ListaRps>Rps"`
}

type rpsV1 struct {
	InfRps infRpsV1 `xml:"InfRps"`
}

type infRpsV1 struct {
	ID                     string           `xml:"Id,attr"`
	IdentificacaoRps       identificacaoRps `xml:"IdentificacaoRps"`
	DataEmissao            string           `xml:"DataEmissao"`
	NaturezaOperacao       string           `xml:"NaturezaOperacao"`
	OptanteSimplesNacional string           `xml:"OptanteSimplesNacional"`
	IncentivadorCultural   string           `xml:"IncentivadorCultural"`
	Status                 string           `xml:"Status"`
	Servico                servicoV1        `xml:"Servico"`
	Prestador              prestadorV1      `xml:"Prestador"`
	Tomador                *tomador         `xml:"Tomador,omitempty"`
}

type servicoV1 struct {
	Valores                   valoresV1 `xml:"Valores"`
	ItemListaServico          string    `xml:"ItemListaServico"`
	CodigoTributacaoMunicipio string    `xml:"CodigoTributacaoMunicipio,omitempty"`
	Discriminacao             string    `xml:"Discriminacao"`
	CodigoMunicipio           string    `xml:"CodigoMunicipio"`
}

type valoresV1 struct {
	ValorServicos    string `xml:"ValorServicos"`
	ValorDeducoes    string `xml:"ValorDeducoes,omitempty"`
	IssRetido        string `xml:"IssRetido"`
	ValorIss         string `xml:"ValorIss"`
	BaseCalculo      string `xml:"BaseCalculo"`
	Aliquota         string `xml:"Aliquota"`
	ValorLiquidoNfse string `xml:"ValorLiquidoNfse"`
}

type prestadorV1 struct {
	Cnpj               string `xml:"Cnpj"`
	InscricaoMunicipal string `xml:"InscricaoMunicipal,omitempty"`
}

// ── ABRASF 2.x: EnviarLoteRpsSincronoEnvio ───────────────────────────────────

type enviarLoteRpsSincronoEnvio struct {
	XMLName xml.Name  `xml:"EnviarLoteRpsSincronoEnvio"`
	Xmlns   string    `xml:"xmlns,attr"`
	LoteRps loteRpsV2 `xml:"LoteRps"`
}

type loteRpsV2 struct {
	ID                 string  `xml:"Id,attr"`
	Versao             string  `xml:"versao,attr"`
	NumeroLote         string  `xml:"NumeroLote"`
	CpfCnpj            cpfCnpj `xml:"CpfCnpj"`
	InscricaoMunicipal string  `xml:"InscricaoMunicipal,omitempty"`
	QuantidadeRps      int     `xml:"QuantidadeRps"`
	ListaRps           []rpsV2 `xml:"ListaRps>Rps"`
}

type rpsV2 struct {
	Inf infDeclaracaoPrestacaoServico `xml:"InfDeclaracaoPrestacaoServico"`
}

type infDeclaracaoPrestacaoServico struct {
	ID                     string      `xml:"Id,attr"`
	Rps                    rpsIdentV2  `xml:"Rps"`
	Competencia            string      `xml:"Competencia"`
	Servico                servicoV2   `xml:"Servico"`
	Prestador              prestadorV2 `xml:"Prestador"`
	Tomador                *tomador    `xml:"Tomador,omitempty"`
	OptanteSimplesNacional string      `xml:"OptanteSimplesNacional"`
	IncentivoFiscal        string      `xml:"IncentivoFiscal"`
}

type rpsIdentV2 struct {
	IdentificacaoRps identificacaoRps `xml:"IdentificacaoRps"`
	DataEmissao      string           `xml:"DataEmissao"`
	Status           string           `xml:"Status"`
}

type servicoV2 struct {
	Valores                   valoresV2 `xml:"Valores"`
	IssRetido                 string    `xml:"IssRetido"`
	ItemListaServico          string    `xml:"ItemListaServico"`
	CodigoTributacaoMunicipio string    `xml:"CodigoTributacaoMunicipio,omitempty"`
	Discriminacao             string    `xml:"Discriminacao"`
	CodigoMunicipio           string    `xml:"CodigoMunicipio"`
	ExigibilidadeISS          string    `xml:"ExigibilidadeISS"`
}

type valoresV2 struct {
	ValorServicos string `xml:"ValorServicos"`
	ValorDeducoes string `xml:"ValorDeducoes,omitempty"`
	ValorIss      string `xml:"ValorIss"`
	Aliquota      string `xml:"Aliquota"`
}

type prestadorV2 struct {
	CpfCnpj            cpfCnpj `xml:"CpfCnpj"`
	InscricaoMunicipal string  `xml:"InscricaoMunicipal,omitempty"`
}

// ── Cancelamento / Substituição / Consulta ───────────────────────────────────

type cancelarNfseEnvio struct {
	XMLName xml.Name           `xml:"CancelarNfseEnvio"`
	Xmlns   string             `xml:"xmlns,attr"`
	Pedido  pedidoCancelamento `xml:"Pedido"`
}

type pedidoCancelamento struct {
	Inf infPedidoCancelamento `xml:"InfPedidoCancelamento"`
}

type infPedidoCancelamento struct {
	ID                 string            `xml:"Id,attr"`
	IdentificacaoNfse  identificacaoNfse `xml:"IdentificacaoNfse"`
	CodigoCancelamento string            `xml:"CodigoCancelamento"`
}

type identificacaoNfse struct {
	Numero             string   `xml:"Numero"`
	Cnpj               string   `xml:"Cnpj,omitempty"`
	CpfCnpj            *cpfCnpj `xml:"CpfCnpj,omitempty"`
	InscricaoMunicipal string   `xml:"InscricaoMunicipal,omitempty"`
	CodigoMunicipio    string   `xml:"CodigoMunicipio"`
}

type substituirNfseEnvio struct {
	XMLName      xml.Name         `xml:"SubstituirNfseEnvio"`
	Xmlns        string           `xml:"xmlns,attr"`
	Substituicao substituicaoNfse `xml:"SubstituicaoNfse"`
}

type substituicaoNfse struct {
	ID     string             `xml:"Id,attr"`
	Pedido pedidoCancelamento `xml:"Pedido"`
	Rps    rpsV2              `xml:"Rps"`
}

type consultarNfseRpsEnvio struct {
	XMLName          xml.Name         `xml:"ConsultarNfseRpsEnvio"`
	Xmlns            string           `xml:"xmlns,attr"`
	IdentificacaoRps identificacaoRps `xml:"IdentificacaoRps"`
	Prestador        prestadorQuery   `xml:"Prestador"`
}

type prestadorQuery struct {
	Cnpj               string   `xml:"Cnpj,omitempty"`
	CpfCnpj            *cpfCnpj `xml:"CpfCnpj,omitempty"`
	InscricaoMunicipal string   `xml:"InscricaoMunicipal,omitempty"`
}
