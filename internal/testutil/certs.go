// Package testutil genera certificados A1 de prueba (autofirmados) para los tests.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/youmark/pkcs8"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

// TestCert certificado autofirmado con su llave.
type TestCert struct {
	Key  *rsa.PrivateKey
	Cert *x509.Certificate
}

// NewTestCert genera un certificado con el serial y la vigencia indicados.
// El CN sigue el formato ICP-Brasil "RAZAO SOCIAL:CNPJ".
func NewTestCert(t *testing.T, serial int64, notBefore, notAfter time.Time) *TestCert {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject: pkix.Name{
			CommonName:   "EMPRESA TESTE LTDA:11222333000181",
			Organization: []string{"ICP-Brasil"},
			Country:      []string{"BR"},
		},
		NotBefore:   notBefore,
		NotAfter:    notAfter,
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &TestCert{Key: key, Cert: cert}
}

// NewValidTestCert certificado vigente por un año.
func NewValidTestCert(t *testing.T, serial int64) *TestCert {
	t.Helper()
	now := time.Now()
	return NewTestCert(t, serial, now.Add(-time.Hour), now.AddDate(1, 0, 0))
}

// P12 empaqueta el par en PKCS#12 (3DES, compatible con x/crypto/pkcs12).
func (c *TestCert) P12(t *testing.T, password string) []byte {
	t.Helper()
	pfx, err := gopkcs12.LegacyDES.Encode(c.Key, c.Cert, nil, password)
	require.NoError(t, err)
	return pfx
}

// PEM certificado + llave PKCS#8 cifrada con password.
func (c *TestCert) PEM(t *testing.T, password string) []byte {
	t.Helper()
	keyDER, err := pkcs8.MarshalPrivateKey(c.Key, []byte(password), nil)
	require.NoError(t, err)
	out := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Cert.Raw})
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: keyDER})...)
	return out
}

// TLS par listo para firmar y para mTLS.
func (c *TestCert) TLS() tls.Certificate {
	return tls.Certificate{Certificate: [][]byte{c.Cert.Raw}, PrivateKey: c.Key, Leaf: c.Cert}
}
