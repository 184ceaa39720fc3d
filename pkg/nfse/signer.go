package nfse

import "crypto/tls"

// Signer firma un XML ABRASF (firma enveloped XMLDSig) sobre el elemento con el Id indicado.
type Signer interface {
	// Sign devuelve el XML con ds:Signature insertado como hermano siguiente del
	// elemento referenciado (InfRps, LoteRps, InfPedidoCancelamento...).
	Sign(xmlBytes []byte, referenceID string, cert tls.Certificate) ([]byte, error)
}
