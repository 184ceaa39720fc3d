package nfse

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jhoicas/nfse-gateway/internal/domain"
)

const (
	soapNS       = "http://schemas.xmlsoap.org/soap/envelope/"
	nsWSABRASF   = "http://nfse.abrasf.org.br"
	cabecalhoFmt = `<?xml version="1.0" encoding="UTF-8"?><cabecalho xmlns="%s" versao="%s"><versaoDados>%s</versaoDados></cabecalho>`

	// DefaultCallTimeout timeout por llamada si no se configura otro.
	DefaultCallTimeout = 30 * time.Second
	maxResponseBytes   = 4 << 20
)

// ── Puerto (interfaz) ──────────────────────────────────────────────────────────

// SOAPCaller entrega un mensaje ABRASF firmado y devuelve el cuerpo crudo de la respuesta.
// Fallas de red, timeout y 5xx se devuelven como *domain.TransientError.
type SOAPCaller interface {
	Call(ctx context.Context, req SOAPRequest) ([]byte, error)
}

// SOAPRequest parámetros de una llamada.
type SOAPRequest struct {
	Endpoint      string
	Action        string // SOAPAction completo
	Operation     string // Elemento de la operación en el Body
	SchemaVersion string
	Payload       []byte // XML ABRASF firmado
	Certificate   tls.Certificate
}

// ── Implementación SOAP 1.1 ───────────────────────────────────────────────────

// SOAPClient implementa SOAPCaller sobre net/http con TLS mutuo (certificado A1 del prestador).
type SOAPClient struct {
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client // por huella del certificado
	base    *http.Transport
}

// NewSOAPClient construye el cliente con el timeout por llamada indicado (0 = DefaultCallTimeout).
func NewSOAPClient(timeout time.Duration) *SOAPClient {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	base, _ := http.DefaultTransport.(*http.Transport)
	if base == nil {
		base = &http.Transport{}
	}
	return &SOAPClient{timeout: timeout, clients: make(map[string]*http.Client), base: base}
}

// ── Estructuras SOAP ──────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	XmlnsS  string   `xml:"xmlns:soapenv,attr"`
	Header  struct{} `xml:"soapenv:Header"`
	Body    soapBody `xml:"soapenv:Body"`
}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soapenv:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// operationBody cuerpo estándar ABRASF 2.x: cabecera y datos como texto XML.
type operationBody struct {
	XMLName  xml.Name
	Xmlns    string `xml:"xmlns,attr"`
	CabecMsg string `xml:"nfseCabecMsg"`
	DadosMsg string `xml:"nfseDadosMsg"`
}

// ── Call ──────────────────────────────────────────────────────────────────────

// Call envía el mensaje y devuelve el cuerpo crudo. Solo valida el transporte:
// la clasificación del contenido corresponde al ResponseParser.
func (c *SOAPClient) Call(ctx context.Context, r SOAPRequest) ([]byte, error) {
	if r.Endpoint == "" {
		return nil, fmt.Errorf("soap: endpoint vacío para %s", r.Operation)
	}
	envelope := soapEnvelope{
		XmlnsS: soapNS,
		Body: soapBody{Content: &operationBody{
			XMLName:  xml.Name{Local: r.Operation + "Request"},
			Xmlns:    nsWSABRASF,
			CabecMsg: fmt.Sprintf(cabecalhoFmt, NsABRASF, r.SchemaVersion, r.SchemaVersion),
			DadosMsg: string(r.Payload),
		}},
	}
	xmlPayload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("soap: serializar envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(append([]byte(xml.Header), xmlPayload...)))
	if err != nil {
		return nil, fmt.Errorf("soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+r.Action+`"`)

	resp, err := c.clientFor(r.Certificate).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewTransientError(r.Operation, fmt.Errorf("timeout o cancelación: %w", ctx.Err()))
		}
		return nil, domain.NewTransientError(r.Operation, fmt.Errorf("llamada HTTP fallida: %w", err))
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.NewTransientError(r.Operation, fmt.Errorf("leer respuesta: %w", err))
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		// SOAP 1.1 entrega los Fault con 500; el cuerpo se conserva para el parser.
		return rawBody, domain.NewTransientError(r.Operation, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return rawBody, fmt.Errorf("soap: %s respondió HTTP %d", r.Endpoint, resp.StatusCode)
	}
	return rawBody, nil
}

// clientFor reutiliza un http.Client por certificado (TLS mutuo).
func (c *SOAPClient) clientFor(cert tls.Certificate) *http.Client {
	key := ""
	if len(cert.Certificate) > 0 {
		key = string(cert.Certificate[0])
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[key]; ok {
		return hc
	}
	tr := c.base.Clone()
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if tr.TLSClientConfig != nil {
		tlsCfg = tr.TLSClientConfig.Clone()
	}
	if key != "" {
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	tr.TLSClientConfig = tlsCfg
	hc := &http.Client{Transport: tr}
	c.clients[key] = hc
	return hc
}

// WithTLSConfig reemplaza la configuración TLS base (CA propias de la prefeitura, tests).
func (c *SOAPClient) WithTLSConfig(cfg *tls.Config) *SOAPClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = c.base.Clone()
	c.base.TLSClientConfig = cfg
	c.clients = make(map[string]*http.Client)
	return c
}

var _ SOAPCaller = (*SOAPClient)(nil)
