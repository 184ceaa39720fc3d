// Constantes para firma XMLDSig enveloped (ABRASF).

package signer

// Namespaces y algoritmos XMLDSig.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	AlgSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// Algorithm par de algoritmos (firma, digest) exigido por la versión de esquema.
type Algorithm struct {
	SignatureMethod string
	DigestMethod    string
	sha256          bool
}

var (
	// AlgorithmSHA1 exigido por la mayoría de los municipios ABRASF 1.00.
	AlgorithmSHA1 = Algorithm{SignatureMethod: AlgRSASHA1, DigestMethod: AlgSHA1}
	// AlgorithmSHA256 ABRASF 2.x.
	AlgorithmSHA256 = Algorithm{SignatureMethod: AlgRSASHA256, DigestMethod: AlgSHA256, sha256: true}
)

// AlgorithmForSchema elige el algoritmo por versión de esquema ("1.00", "2.04"...).
func AlgorithmForSchema(version string) Algorithm {
	if len(version) > 0 && version[0] == '1' {
		return AlgorithmSHA1
	}
	return AlgorithmSHA256
}
