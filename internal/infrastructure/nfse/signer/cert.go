// Carga de certificado A1 desde .p12/.pfx (PKCS#12) o PEM (certificado + llave PKCS#8 cifrada).

package signer

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jhoicas/nfse-gateway/internal/domain"
	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pkcs12"
)

// LoadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx.
func LoadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("leer p12: %w", err)
	}
	return DecodeContainer(data, password)
}

// DecodeContainer detecta el formato (PEM o PKCS#12) y devuelve el par certificado/llave.
// Errores: domain.ErrWrongPassword o domain.ErrInvalidCertificate.
func DecodeContainer(blob []byte, password string) (tls.Certificate, error) {
	if len(blob) == 0 {
		return tls.Certificate{}, fmt.Errorf("%w: contenedor vacío", domain.ErrInvalidCertificate)
	}
	if bytes.Contains(blob, []byte("-----BEGIN")) {
		return DecodePEM(blob, password)
	}
	return DecodeP12(blob, password)
}

// DecodeP12 decodifica un PKCS#12. Los .pfx de ICP-Brasil suelen traer la cadena
// completa; en ese caso se cae a ToPEM y se elige la hoja que corresponde a la llave.
func DecodeP12(data []byte, password string) (tls.Certificate, error) {
	priv, cert, err := pkcs12.Decode(data, password)
	if err == nil {
		return tls.Certificate{
			Certificate: [][]byte{cert.Raw},
			PrivateKey:  priv,
			Leaf:        cert,
		}, nil
	}
	if errors.Is(err, pkcs12.ErrIncorrectPassword) {
		return tls.Certificate{}, fmt.Errorf("%w: %v", domain.ErrWrongPassword, err)
	}
	blocks, pemErr := pkcs12.ToPEM(data, password)
	if pemErr != nil {
		if errors.Is(pemErr, pkcs12.ErrIncorrectPassword) {
			return tls.Certificate{}, fmt.Errorf("%w: %v", domain.ErrWrongPassword, pemErr)
		}
		return tls.Certificate{}, fmt.Errorf("%w: decodificar p12: %v", domain.ErrInvalidCertificate, err)
	}
	var buf bytes.Buffer
	for _, b := range blocks {
		_ = pem.Encode(&buf, b)
	}
	return DecodePEM(buf.Bytes(), "")
}

// DecodePEM arma el par desde bloques CERTIFICATE y una llave
// (ENCRYPTED PRIVATE KEY, PRIVATE KEY o RSA PRIVATE KEY).
func DecodePEM(data []byte, password string) (tls.Certificate, error) {
	var certs []*x509.Certificate
	var key crypto.PrivateKey
	rest := data
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("%w: parsear certificado: %v", domain.ErrInvalidCertificate, err)
			}
			certs = append(certs, c)
		case "ENCRYPTED PRIVATE KEY":
			if password == "" {
				return tls.Certificate{}, fmt.Errorf("%w: llave cifrada sin contraseña", domain.ErrWrongPassword)
			}
			k, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(password))
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("%w: descifrar llave PKCS#8: %v", domain.ErrWrongPassword, err)
			}
			key = k
		case "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY":
			k, err := parsePlainKey(block.Bytes)
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("%w: %v", domain.ErrInvalidCertificate, err)
			}
			key = k
		}
	}
	if len(certs) == 0 || key == nil {
		return tls.Certificate{}, fmt.Errorf("%w: se requieren certificado y llave privada", domain.ErrInvalidCertificate)
	}
	leaf := matchLeaf(certs, key)
	if leaf == nil {
		return tls.Certificate{}, fmt.Errorf("%w: ningún certificado corresponde a la llave privada", domain.ErrInvalidCertificate)
	}
	chain := [][]byte{leaf.Raw}
	for _, c := range certs {
		if c != leaf {
			chain = append(chain, c.Raw)
		}
	}
	return tls.Certificate{Certificate: chain, PrivateKey: key, Leaf: leaf}, nil
}

// parsePlainKey ToPEM de x/crypto etiqueta como "PRIVATE KEY" llaves en PKCS#1; se prueban los tres formatos.
func parsePlainKey(der []byte) (crypto.PrivateKey, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	return nil, errors.New("formato de llave privada no soportado")
}

func matchLeaf(certs []*x509.Certificate, key crypto.PrivateKey) *x509.Certificate {
	var pub crypto.PublicKey
	switch k := key.(type) {
	case *rsa.PrivateKey:
		pub = &k.PublicKey
	case *ecdsa.PrivateKey:
		pub = &k.PublicKey
	default:
		return nil
	}
	type equaler interface{ Equal(crypto.PublicKey) bool }
	for _, c := range certs {
		if eq, ok := c.PublicKey.(equaler); ok && eq.Equal(pub) {
			return c
		}
	}
	return nil
}

// Thumbprint SHA-1 del DER en hexadecimal mayúsculas (formato de Windows/ICP-Brasil).
func Thumbprint(cert *x509.Certificate) string {
	h := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(h[:]))
}

// SerialHex número de serie en hexadecimal mayúsculas.
func SerialHex(cert *x509.Certificate) string {
	return strings.ToUpper(cert.SerialNumber.Text(16))
}

// SubjectCNPJ CNPJ del titular en certificados e-CNPJ ICP-Brasil ("RAZAO SOCIAL:CNPJ" en el CN).
// Vacío si el CN no lo trae.
func SubjectCNPJ(cert *x509.Certificate) string {
	cn := cert.Subject.CommonName
	i := strings.LastIndexByte(cn, ':')
	if i < 0 {
		return ""
	}
	candidate := strings.TrimSpace(cn[i+1:])
	if len(candidate) != 14 {
		return ""
	}
	for _, r := range candidate {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return candidate
}
