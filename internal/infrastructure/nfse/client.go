package nfse

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	domainnfse "github.com/jhoicas/nfse-gateway/internal/domain/nfse"
	pkgnfse "github.com/jhoicas/nfse-gateway/pkg/nfse"
)

// CertificateProvider entrega el certificado de firma de una empresa.
// Debe fallar (ErrNoActiveCertificate / ErrCertificateExpired) si no hay uno utilizable.
type CertificateProvider interface {
	LoadSigningCertificate(ctx context.Context, businessID string) (tls.Certificate, error)
}

// Client cliente ABRASF de un municipio: construye, firma, envía y clasifica.
type Client struct {
	city    *entity.CityConfiguration
	env     string
	certs   CertificateProvider
	builder *XMLBuilderService
	parser  *ResponseParser
	signer  pkgnfse.Signer
	caller  SOAPCaller
}

// NewClient construye el cliente para city en el ambiente env (homologacao|producao).
func NewClient(city *entity.CityConfiguration, env string, certs CertificateProvider, signer pkgnfse.Signer, caller SOAPCaller) *Client {
	return &Client{
		city:    city,
		env:     env,
		certs:   certs,
		builder: NewXMLBuilderService(),
		parser:  NewResponseParser(city.SchemaVersion),
		signer:  signer,
		caller:  caller,
	}
}

// Transmit envía el RPS (lote de uno).
func (c *Client) Transmit(ctx context.Context, doc *entity.Nfse) (*entity.ResponseEnvelope, error) {
	msg, err := c.builder.BuildSubmission(doc, c.city)
	if err != nil {
		return nil, err
	}
	return c.exchange(ctx, doc.BusinessID, msg)
}

// Cancel solicita el cancelamento de una NFS-e autorizada.
func (c *Client) Cancel(ctx context.Context, doc *entity.Nfse, req entity.CancelRequest) (*entity.ResponseEnvelope, error) {
	msg, err := c.builder.BuildCancellation(doc, c.city, req.Code)
	if err != nil {
		return nil, err
	}
	return c.exchange(ctx, doc.BusinessID, msg)
}

// Substitute cancela original y emite replacement en una única llamada.
func (c *Client) Substitute(ctx context.Context, original, replacement *entity.Nfse, req entity.CancelRequest) (*entity.ResponseEnvelope, error) {
	msg, err := c.builder.BuildSubstitution(original, replacement, c.city, req.Code)
	if err != nil {
		return nil, err
	}
	return c.exchange(ctx, original.BusinessID, msg)
}

// Query consulta la NFS-e generada a partir de la identidad RPS.
func (c *Client) Query(ctx context.Context, doc *entity.Nfse) (*entity.ResponseEnvelope, error) {
	msg, err := c.builder.BuildQuery(doc, c.city)
	if err != nil {
		return nil, err
	}
	return c.exchange(ctx, doc.BusinessID, msg)
}

// exchange firma, envía y parsea. Respuestas ambiguas se devuelven junto con un TransientError
// para que el coordinador aplique reintentos y consulta de reconciliación.
func (c *Client) exchange(ctx context.Context, businessID string, msg *OutboundMessage) (*entity.ResponseEnvelope, error) {
	cert, err := c.certs.LoadSigningCertificate(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("nfse: certificado de firma de %s: %w", businessID, err)
	}

	payload := msg.XML
	for _, id := range msg.SignIDs {
		if payload, err = c.signer.Sign(payload, id, cert); err != nil {
			return nil, fmt.Errorf("nfse: firmar %s: %w", id, err)
		}
	}

	raw, callErr := c.caller.Call(ctx, SOAPRequest{
		Endpoint:      c.city.EndpointFor(c.env),
		Action:        c.city.SOAPActionPrefix + msg.Operation,
		Operation:     msg.Operation,
		SchemaVersion: c.city.SchemaVersion,
		Payload:       payload,
		Certificate:   cert,
	})
	if callErr != nil && !domain.IsRetryable(callErr) {
		return nil, callErr
	}

	env, err := c.parser.Parse(raw)
	if err != nil {
		return nil, err
	}
	env.OutboundXML = string(payload)
	if callErr != nil {
		return env, callErr
	}
	if env.Outcome == entity.OutcomeTransientFailure {
		return env, domain.NewTransientError(msg.Operation, fmt.Errorf("respuesta ambigua: %s", describeMessages(env.Messages)))
	}
	return env, nil
}

func describeMessages(msgs []entity.NfseMessage) string {
	if len(msgs) == 0 {
		return "sin mensajes"
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, strings.TrimSpace(m.Code+" "+m.Message))
	}
	return strings.Join(parts, "; ")
}

var _ domainnfse.TransmissionClient = (*Client)(nil)
