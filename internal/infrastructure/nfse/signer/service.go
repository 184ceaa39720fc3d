// Servicio de firma XMLDSig enveloped para NFS-e ABRASF.
// Inserta <Signature> como hermano siguiente del elemento referenciado por Id.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/tls"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/jhoicas/nfse-gateway/pkg/nfse"
	"github.com/ucarion/c14n"
)

// DigitalSignatureService implementa pkg/nfse.Signer.
type DigitalSignatureService struct {
	alg Algorithm
}

// NewDigitalSignatureService crea el servicio con el algoritmo de la versión de esquema.
func NewDigitalSignatureService(alg Algorithm) *DigitalSignatureService {
	return &DigitalSignatureService{alg: alg}
}

// Sign firma el elemento con atributo Id=referenceID y agrega la firma a continuación.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, referenceID string, cert tls.Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("nfse: XML vacío")
	}
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("nfse: certificado sin cadena")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("nfse: el certificado debe incluir llave privada RSA")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("nfse: parsear XML: %w", err)
	}
	target := doc.FindElement(fmt.Sprintf("//*[@Id='%s']", referenceID))
	if target == nil {
		return nil, fmt.Errorf("nfse: no se encontró el elemento con Id %q", referenceID)
	}
	if target == doc.Root() {
		return nil, fmt.Errorf("nfse: el elemento firmado %q no puede ser la raíz", referenceID)
	}

	// 1) Digest del elemento referenciado (C14N con los namespaces heredados)
	subtree, err := detachWithNamespaces(target)
	if err != nil {
		return nil, err
	}
	canonicalRef, err := canonicalizeXML(subtree)
	if err != nil {
		return nil, fmt.Errorf("nfse: canonicalizar referencia: %w", err)
	}
	digestB64 := base64.StdEncoding.EncodeToString(s.digest(canonicalRef))

	// 2) SignedInfo canonicalizado y firmado con RSA
	signedInfoXML := s.buildSignedInfo(referenceID, digestB64)
	canonicalSignedInfo, err := canonicalizeXML([]byte(signedInfoXML))
	if err != nil {
		return nil, fmt.Errorf("nfse: canonicalizar SignedInfo: %w", err)
	}
	hashAlg := crypto.SHA1
	if s.alg.sha256 {
		hashAlg = crypto.SHA256
	}
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, hashAlg, s.digest(canonicalSignedInfo))
	if err != nil {
		return nil, fmt.Errorf("nfse: firmar SignedInfo: %w", err)
	}

	// 3) Signature completo e inserción como hermano del elemento
	certB64 := base64.StdEncoding.EncodeToString(cert.Certificate[0])
	signatureXML := s.buildSignature(signedInfoXML, base64.StdEncoding.EncodeToString(signatureValue), certB64)
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("nfse: parsear Signature: %w", err)
	}
	parent := target.Parent()
	parent.InsertChildAt(target.Index()+1, sigDoc.Root())

	doc.WriteSettings.CanonicalEndTags = true
	var out bytes.Buffer
	if _, err := doc.WriteTo(&out); err != nil {
		return nil, fmt.Errorf("nfse: serializar XML firmado: %w", err)
	}
	return out.Bytes(), nil
}

func (s *DigitalSignatureService) digest(data []byte) []byte {
	if s.alg.sha256 {
		h := sha256.Sum256(data)
		return h[:]
	}
	h := sha1.Sum(data)
	return h[:]
}

func (s *DigitalSignatureService) buildSignedInfo(referenceID, digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"></CanonicalizationMethod>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + s.alg.SignatureMethod + `"></SignatureMethod>`)
	sb.WriteString(`<Reference URI="#` + referenceID + `">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"></Transform>`)
	sb.WriteString(`<Transform Algorithm="` + AlgC14N + `"></Transform></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + s.alg.DigestMethod + `"></DigestMethod>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

func (s *DigitalSignatureService) buildSignature(signedInfoXML, signatureValueB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	// SignedInfo hereda el namespace del padre; se elimina la declaración repetida.
	sb.WriteString(strings.Replace(signedInfoXML, ` xmlns="`+NamespaceDS+`"`, "", 1))
	sb.WriteString(`<SignatureValue>` + signatureValueB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo><X509Data><X509Certificate>` + certB64 + `</X509Certificate></X509Data></KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

// detachWithNamespaces serializa una copia del elemento agregando las declaraciones
// xmlns de sus ancestros (C14N inclusivo las incluye en el subconjunto).
func detachWithNamespaces(el *etree.Element) ([]byte, error) {
	cp := el.Copy()
	declared := map[string]bool{}
	for _, a := range cp.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			declared[a.FullKey()] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			isNS := a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
			if !isNS || declared[a.FullKey()] {
				continue
			}
			declared[a.FullKey()] = true
			cp.CreateAttr(a.FullKey(), a.Value)
		}
	}
	d := etree.NewDocument()
	d.SetRoot(cp)
	b, err := d.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("nfse: serializar referencia: %w", err)
	}
	return b, nil
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

var _ nfse.Signer = (*DigitalSignatureService)(nil)
