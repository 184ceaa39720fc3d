package nfse

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	pkgnfse "github.com/jhoicas/nfse-gateway/pkg/nfse"
	"github.com/shopspring/decimal"
)

// Raíces de respuesta ABRASF reconocidas (1.00 y 2.x).
var responseRoots = []string{
	"EnviarLoteRpsResposta",
	"EnviarLoteRpsSincronoResposta",
	"GerarNfseResposta",
	"ConsultarNfseRpsResposta",
	"ConsultarLoteRpsResposta",
	"CancelarNfseResposta",
	"SubstituirNfseResposta",
}

// Formatos de fecha observados en las respuestas municipales.
var responseTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ResponseParser lee las respuestas de la prefeitura sin depender de prefijos de namespace.
// schemaVersion decide cómo se lee la alícuota (fracción en 1.x, porcentaje en 2.x).
type ResponseParser struct {
	schemaVersion string
}

// NewResponseParser crea el parser para la versión de esquema del municipio.
func NewResponseParser(schemaVersion string) *ResponseParser {
	return &ResponseParser{schemaVersion: schemaVersion}
}

// Parse normaliza la respuesta cruda (envelope SOAP o XML ABRASF directo).
// Respuestas ambiguas (vacías, ilegibles, fault SOAP, lote pendiente) se clasifican
// como TRANSIENT_FAILURE sin error; solo valores numéricos corruptos devuelven error.
func (p *ResponseParser) Parse(raw []byte) (*entity.ResponseEnvelope, error) {
	env := &entity.ResponseEnvelope{
		Outcome:    entity.OutcomeTransientFailure,
		Messages:   []entity.NfseMessage{},
		Warnings:   []entity.NfseMessage{},
		InboundXML: string(raw),
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		env.Messages = append(env.Messages, entity.NfseMessage{Message: "respuesta vacía"})
		return env, nil
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		env.Messages = append(env.Messages, entity.NfseMessage{Message: "respuesta ilegible: " + err.Error()})
		return env, nil
	}
	if fault := doc.FindElement("//Fault"); fault != nil {
		env.Messages = append(env.Messages, entity.NfseMessage{
			Code:    childText(fault, "faultcode", "Code/Value"),
			Message: childText(fault, "faultstring", "Reason/Text"),
		})
		return env, nil
	}

	root := findResponseRoot(doc, 2)
	if root == nil {
		env.Messages = append(env.Messages, entity.NfseMessage{Message: "respuesta sin mensaje ABRASF reconocible"})
		return env, nil
	}

	env.Messages = collectMessages(root, ".//ListaMensagemRetorno/MensagemRetorno", ".//ListaMensagemRetornoLote/MensagemRetorno")
	env.Warnings = collectMessages(root, ".//ListaMensagemAlertaRetorno/MensagemRetorno")
	if len(env.Messages) == 0 && len(env.Warnings) == 0 {
		env.Messages = collectMessages(root, ".//MensagemRetorno")
	}
	env.Protocol = strings.TrimSpace(textOf(root.FindElement(".//Protocolo")))

	if inf := findInfNfse(root); inf != nil {
		if err := p.readInfNfse(inf, env); err != nil {
			return nil, err
		}
	}
	if at, ok := findCancellation(root); ok {
		env.CancelledAt = &at
	}

	p.classify(root, env)
	return env, nil
}

// classify decide el Outcome a partir de lo extraído.
func (p *ResponseParser) classify(root *etree.Element, env *entity.ResponseEnvelope) {
	isCancel := root.Tag == "CancelarNfseResposta"
	switch {
	case env.HasNfse() && !isCancel:
		env.Outcome = entity.OutcomeAuthorized
	case isCancel && env.CancelledAt != nil:
		env.Outcome = entity.OutcomeAuthorized
	case hasPendingCode(env.Messages):
		env.Pending = true
		env.Outcome = entity.OutcomeTransientFailure
	case len(env.Messages) > 0:
		env.Outcome = entity.OutcomeRejected
	case root.Tag == "EnviarLoteRpsResposta" && env.Protocol != "":
		// Lote asíncrono recibido: la NFS-e se obtiene consultando.
		env.Pending = true
		env.Outcome = entity.OutcomeTransientFailure
	default:
		env.Outcome = entity.OutcomeTransientFailure
	}
}

func (p *ResponseParser) readInfNfse(inf *etree.Element, env *entity.ResponseEnvelope) error {
	env.NfseNumber = strings.TrimSpace(textOf(inf.SelectElement("Numero")))
	env.VerificationCode = strings.TrimSpace(textOf(inf.SelectElement("CodigoVerificacao")))
	if t, ok := parseTime(textOf(inf.SelectElement("DataEmissao"))); ok {
		env.IssueDate = &t
	}

	// 1.00: InfNfse/Servico/Valores. 2.x: InfNfse/ValoresNfse + DeclaracaoPrestacaoServico/.../Valores.
	valores := inf.FindElement("./Servico/Valores")
	if v := inf.FindElement("./ValoresNfse"); v != nil {
		valores = v
	}
	if valores == nil {
		valores = inf.FindElement(".//Valores")
	}
	if valores == nil {
		return nil
	}
	var err error
	if env.BaseCalculation, err = optionalAmount(valores, "BaseCalculo", pkgnfse.ParseAmount); err != nil {
		return err
	}
	if env.IssRate, err = optionalAmount(valores, "Aliquota", p.parseRate); err != nil {
		return err
	}
	if env.IssAmount, err = optionalAmount(valores, "ValorIss", pkgnfse.ParseAmount); err != nil {
		return err
	}
	if env.NetAmount, err = optionalAmount(valores, "ValorLiquidoNfse", pkgnfse.ParseAmount); err != nil {
		return err
	}
	return nil
}

func (p *ResponseParser) parseRate(s string) (decimal.Decimal, error) {
	return pkgnfse.ParseRate(s, p.schemaVersion)
}

// findResponseRoot ubica el mensaje ABRASF. Muchos municipios lo devuelven escapado
// dentro de <outputXML> o <return>; se desempaqueta hasta depth niveles.
func findResponseRoot(doc *etree.Document, depth int) *etree.Element {
	for _, name := range responseRoots {
		if el := doc.FindElement("//" + name); el != nil {
			return el
		}
	}
	if depth == 0 {
		return nil
	}
	for _, el := range doc.FindElements("//*") {
		text := strings.TrimSpace(el.Text())
		if !strings.HasPrefix(text, "<") {
			continue
		}
		inner := etree.NewDocument()
		if err := inner.ReadFromString(text); err != nil {
			continue
		}
		if found := findResponseRoot(inner, depth-1); found != nil {
			return found
		}
	}
	return nil
}

// findInfNfse prioriza la NFS-e sustituta en SubstituirNfseResposta.
func findInfNfse(root *etree.Element) *etree.Element {
	if el := root.FindElement(".//NfseSubstituidora/CompNfse/Nfse/InfNfse"); el != nil {
		return el
	}
	return root.FindElement(".//CompNfse/Nfse/InfNfse")
}

// findCancellation detecta confirmación de cancelamento (respuesta de CancelarNfse o
// NfseCancelamento dentro de una consulta).
func findCancellation(root *etree.Element) (time.Time, bool) {
	for _, path := range []string{
		".//NfseCancelamento//DataHora",
		".//RetCancelamento//DataHora",
		".//Cancelamento//DataHora",
		".//DataHoraCancelamento",
	} {
		if t, ok := parseTime(textOf(root.FindElement(path))); ok {
			return t, true
		}
	}
	if root.FindElement(".//NfseCancelamento") != nil {
		return time.Time{}, true
	}
	return time.Time{}, false
}

func collectMessages(root *etree.Element, paths ...string) []entity.NfseMessage {
	out := []entity.NfseMessage{}
	for _, path := range paths {
		for _, m := range root.FindElements(path) {
			out = append(out, entity.NfseMessage{
				Code:       strings.TrimSpace(textOf(m.SelectElement("Codigo"))),
				Message:    strings.TrimSpace(textOf(m.SelectElement("Mensagem"))),
				Correction: strings.TrimSpace(textOf(m.SelectElement("Correcao"))),
			})
		}
	}
	return out
}

func hasPendingCode(msgs []entity.NfseMessage) bool {
	for _, m := range msgs {
		if pkgnfse.PendingCodes[strings.ToUpper(m.Code)] {
			return true
		}
	}
	return false
}

func optionalAmount(parent *etree.Element, tag string, parse func(string) (decimal.Decimal, error)) (*decimal.Decimal, error) {
	el := parent.SelectElement(tag)
	if el == nil || strings.TrimSpace(el.Text()) == "" {
		return nil, nil
	}
	d, err := parse(el.Text())
	if err != nil {
		return nil, fmt.Errorf("nfse: %s: %w", tag, err)
	}
	return &d, nil
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range responseTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func childText(el *etree.Element, paths ...string) string {
	for _, p := range paths {
		if c := el.FindElement(p); c != nil {
			return strings.TrimSpace(c.Text())
		}
	}
	return ""
}

func textOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	return el.Text()
}
