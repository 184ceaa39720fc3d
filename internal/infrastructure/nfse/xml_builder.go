package nfse

import (
	"encoding/xml"
	"fmt"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	pkgnfse "github.com/jhoicas/nfse-gateway/pkg/nfse"
)

// XMLBuilderService construye los mensajes ABRASF (sin firma) según la versión de esquema del municipio.
type XMLBuilderService struct{}

// NewXMLBuilderService crea el servicio.
func NewXMLBuilderService() *XMLBuilderService {
	return &XMLBuilderService{}
}

// BuildSubmission genera el lote con un único RPS. 1.00 usa EnviarLoteRpsEnvio (asíncrono);
// 2.x usa EnviarLoteRpsSincronoEnvio.
func (s *XMLBuilderService) BuildSubmission(doc *entity.Nfse, city *entity.CityConfiguration) (*OutboundMessage, error) {
	if err := checkContext(doc, city); err != nil {
		return nil, err
	}
	if isV1(city.SchemaVersion) {
		env := enviarLoteRpsEnvioV1{
			Xmlns: NsABRASF,
			LoteRps: loteRpsV1{
				ID:                 loteID(doc),
				NumeroLote:         doc.RpsNumber,
				Cnpj:               string(pkgnfse.OnlyDigits(doc.ProviderCnpj)),
				InscricaoMunicipal: doc.ProviderMunicipalRegistration,
				QuantidadeRps:      quantidadeRpsPorLote,
				ListaRps:           []rpsV1{{InfRps: s.infRpsV1(doc, city)}},
			},
		}
		return marshalOutbound(OpRecepcionarLoteRps, env, rpsID(doc), loteID(doc))
	}

	env := enviarLoteRpsSincronoEnvio{
		Xmlns: NsABRASF,
		LoteRps: loteRpsV2{
			ID:                 loteID(doc),
			Versao:             city.SchemaVersion,
			NumeroLote:         doc.RpsNumber,
			CpfCnpj:            cpfCnpj{Cnpj: string(pkgnfse.OnlyDigits(doc.ProviderCnpj))},
			InscricaoMunicipal: doc.ProviderMunicipalRegistration,
			QuantidadeRps:      quantidadeRpsPorLote,
			ListaRps:           []rpsV2{s.rpsV2(doc, city)},
		},
	}
	return marshalOutbound(OpRecepcionarLoteRpsSincrono, env, rpsID(doc), loteID(doc))
}

// BuildCancellation genera CancelarNfseEnvio para un documento autorizado.
func (s *XMLBuilderService) BuildCancellation(doc *entity.Nfse, city *entity.CityConfiguration, code string) (*OutboundMessage, error) {
	if err := checkContext(doc, city); err != nil {
		return nil, err
	}
	if doc.NfseNumber == nil || *doc.NfseNumber == "" {
		return nil, fmt.Errorf("nfse: cancelamento requiere número de NFS-e")
	}
	pedido := s.pedidoCancelamento(doc, city, code)
	env := cancelarNfseEnvio{Xmlns: NsABRASF, Pedido: pedido}
	return marshalOutbound(OpCancelarNfse, env, pedido.Inf.ID)
}

// BuildSubstitution genera SubstituirNfseEnvio: cancela original y emite replacement en una sola llamada.
func (s *XMLBuilderService) BuildSubstitution(original, replacement *entity.Nfse, city *entity.CityConfiguration, code string) (*OutboundMessage, error) {
	if err := checkContext(original, city); err != nil {
		return nil, err
	}
	if replacement == nil {
		return nil, fmt.Errorf("nfse: falta el documento sustituto")
	}
	if !supportsSubstitution(city.SchemaVersion) {
		return nil, fmt.Errorf("nfse: SubstituirNfse no existe en ABRASF %s", city.SchemaVersion)
	}
	if original.NfseNumber == nil || *original.NfseNumber == "" {
		return nil, fmt.Errorf("nfse: sustitución requiere número de NFS-e original")
	}
	pedido := s.pedidoCancelamento(original, city, code)
	substID := xmlID("subst", *original.NfseNumber)
	env := substituirNfseEnvio{
		Xmlns: NsABRASF,
		Substituicao: substituicaoNfse{
			ID:     substID,
			Pedido: pedido,
			Rps:    s.rpsV2(replacement, city),
		},
	}
	return marshalOutbound(OpSubstituirNfse, env, rpsID(replacement), pedido.Inf.ID, substID)
}

// BuildQuery genera ConsultarNfseRpsEnvio a partir de la identidad RPS (no se firma).
func (s *XMLBuilderService) BuildQuery(doc *entity.Nfse, city *entity.CityConfiguration) (*OutboundMessage, error) {
	if err := checkContext(doc, city); err != nil {
		return nil, err
	}
	prestador := prestadorQuery{InscricaoMunicipal: doc.ProviderMunicipalRegistration}
	cnpj := string(pkgnfse.OnlyDigits(doc.ProviderCnpj))
	if isV1(city.SchemaVersion) {
		prestador.Cnpj = cnpj
	} else {
		prestador.CpfCnpj = &cpfCnpj{Cnpj: cnpj}
	}
	env := consultarNfseRpsEnvio{
		Xmlns:            NsABRASF,
		IdentificacaoRps: identificacao(doc),
		Prestador:        prestador,
	}
	return marshalOutbound(OpConsultarNfsePorRps, env)
}

// ── Piezas ────────────────────────────────────────────────────────────────────

func (s *XMLBuilderService) infRpsV1(doc *entity.Nfse, city *entity.CityConfiguration) infRpsV1 {
	valores := valoresV1{
		ValorServicos:    pkgnfse.FormatCurrency(doc.ServiceAmount),
		IssRetido:        issRetido(doc),
		ValorIss:         pkgnfse.FormatCurrency(doc.IssAmount),
		BaseCalculo:      pkgnfse.FormatCurrency(doc.BaseCalculation),
		Aliquota:         pkgnfse.FormatRate(doc.IssRate, city.SchemaVersion),
		ValorLiquidoNfse: pkgnfse.FormatCurrency(doc.NetAmount),
	}
	if doc.Deductions != nil {
		valores.ValorDeducoes = pkgnfse.FormatCurrency(*doc.Deductions)
	}
	return infRpsV1{
		ID:                     rpsID(doc),
		IdentificacaoRps:       identificacao(doc),
		DataEmissao:            doc.IssueDate.Format(dateTimeLayoutV1),
		NaturezaOperacao:       naturezaTributacaoMunicipio,
		OptanteSimplesNacional: optionNo,
		IncentivadorCultural:   optionNo,
		Status:                 rpsStatusNormal,
		Servico: servicoV1{
			Valores:                   valores,
			ItemListaServico:          doc.ServiceItemCode,
			CodigoTributacaoMunicipio: doc.MunicipalTaxCode,
			Discriminacao:             doc.Description,
			CodigoMunicipio:           city.IBGECode,
		},
		Prestador: prestadorV1{
			Cnpj:               string(pkgnfse.OnlyDigits(doc.ProviderCnpj)),
			InscricaoMunicipal: doc.ProviderMunicipalRegistration,
		},
		Tomador: buildTomador(doc),
	}
}

func (s *XMLBuilderService) rpsV2(doc *entity.Nfse, city *entity.CityConfiguration) rpsV2 {
	valores := valoresV2{
		ValorServicos: pkgnfse.FormatCurrency(doc.ServiceAmount),
		ValorIss:      pkgnfse.FormatCurrency(doc.IssAmount),
		Aliquota:      pkgnfse.FormatRate(doc.IssRate, city.SchemaVersion),
	}
	if doc.Deductions != nil {
		valores.ValorDeducoes = pkgnfse.FormatCurrency(*doc.Deductions)
	}
	return rpsV2{Inf: infDeclaracaoPrestacaoServico{
		ID: rpsID(doc),
		Rps: rpsIdentV2{
			IdentificacaoRps: identificacao(doc),
			DataEmissao:      doc.IssueDate.Format(dateLayoutV2),
			Status:           rpsStatusNormal,
		},
		Competencia: doc.IssueDate.Format(dateLayoutV2),
		Servico: servicoV2{
			Valores:                   valores,
			IssRetido:                 issRetido(doc),
			ItemListaServico:          doc.ServiceItemCode,
			CodigoTributacaoMunicipio: doc.MunicipalTaxCode,
			Discriminacao:             doc.Description,
			CodigoMunicipio:           city.IBGECode,
			ExigibilidadeISS:          pkgnfse.ExigibilityRequired,
		},
		Prestador: prestadorV2{
			CpfCnpj:            cpfCnpj{Cnpj: string(pkgnfse.OnlyDigits(doc.ProviderCnpj))},
			InscricaoMunicipal: doc.ProviderMunicipalRegistration,
		},
		Tomador:                buildTomador(doc),
		OptanteSimplesNacional: optionNo,
		IncentivoFiscal:        optionNo,
	}}
}

func (s *XMLBuilderService) pedidoCancelamento(doc *entity.Nfse, city *entity.CityConfiguration, code string) pedidoCancelamento {
	if code == "" {
		code = pkgnfse.CancelCodeEmissionError
	}
	ident := identificacaoNfse{
		Numero:             *doc.NfseNumber,
		InscricaoMunicipal: doc.ProviderMunicipalRegistration,
		CodigoMunicipio:    city.IBGECode,
	}
	cnpj := string(pkgnfse.OnlyDigits(doc.ProviderCnpj))
	if isV1(city.SchemaVersion) {
		ident.Cnpj = cnpj
	} else {
		ident.CpfCnpj = &cpfCnpj{Cnpj: cnpj}
	}
	return pedidoCancelamento{Inf: infPedidoCancelamento{
		ID:                 xmlID("cancel", *doc.NfseNumber),
		IdentificacaoNfse:  ident,
		CodigoCancelamento: code,
	}}
}

func identificacao(doc *entity.Nfse) identificacaoRps {
	tipo := doc.RpsType
	if tipo == "" {
		tipo = entity.DefaultRpsType
	}
	return identificacaoRps{Numero: doc.RpsNumber, Serie: doc.RpsSeries, Tipo: tipo}
}

func issRetido(doc *entity.Nfse) string {
	if doc.IssWithheld {
		return pkgnfse.IssWithheldYes
	}
	return pkgnfse.IssWithheldNo
}

func buildTomador(doc *entity.Nfse) *tomador {
	if doc.TakerDocument == "" && doc.TakerName == "" {
		return nil
	}
	t := &tomador{RazaoSocial: doc.TakerName}
	if doc.TakerDocument != "" {
		digits := string(pkgnfse.OnlyDigits(doc.TakerDocument))
		id := &identificacaoTomador{}
		if pkgnfse.IsCNPJ(digits) {
			id.CpfCnpj.Cnpj = digits
		} else {
			id.CpfCnpj.Cpf = digits
		}
		t.IdentificacaoTomador = id
	}
	return t
}

func checkContext(doc *entity.Nfse, city *entity.CityConfiguration) error {
	if doc == nil || city == nil {
		return fmt.Errorf("nfse: faltan documento o configuración del municipio")
	}
	if city.IBGECode == "" {
		return fmt.Errorf("nfse: municipio %q sin código IBGE", city.ID)
	}
	return nil
}

func marshalOutbound(op string, v any, signIDs ...string) (*OutboundMessage, error) {
	body, err := xml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("nfse: serializar %s: %w", op, err)
	}
	return &OutboundMessage{
		Operation: op,
		XML:       append([]byte(xml.Header), body...),
		SignIDs:   signIDs,
	}, nil
}
