// Package security cifrado en reposo de secretos asociados a una empresa.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// sealedPrefix marca los valores cifrados; filas anteriores sin prefijo se leen tal cual.
const sealedPrefix = "gcm:"

// ErrSealedValue el valor cifrado no se pudo abrir (clave distinta o dato alterado).
var ErrSealedValue = errors.New("security: valor cifrado inválido")

// AESGCMSealer cifra con AES-256-GCM. La clave se deriva del secreto de configuración y
// de la empresa; la empresa además va como dato autenticado.
type AESGCMSealer struct {
	secret string
}

// NewAESGCMSealer crea el sealer con el secreto de NFSE_CERT_SECRET.
func NewAESGCMSealer(secret string) *AESGCMSealer {
	return &AESGCMSealer{secret: secret}
}

// Seal cifra value con nonce aleatorio: gcm:<base64(nonce|ciphertext)>.
func (s *AESGCMSealer) Seal(businessID, value string) (string, error) {
	gcm, err := s.aead(businessID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("security: nonce: %w", err)
	}
	out := gcm.Seal(nonce, nonce, []byte(value), []byte(businessID))
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open descifra un valor producido por Seal. Sin prefijo se asume texto plano heredado.
func (s *AESGCMSealer) Open(businessID, sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return sealed, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedValue, err)
	}
	gcm, err := s.aead(businessID)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: demasiado corto", ErrSealedValue)
	}
	nonce, ct := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, []byte(businessID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedValue, err)
	}
	return string(plain), nil
}

func (s *AESGCMSealer) aead(businessID string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(businessID, s.secret))
	if err != nil {
		return nil, fmt.Errorf("security: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func deriveKey(businessID, secret string) []byte {
	sum := sha256.Sum256([]byte(secret + ":" + businessID))
	return sum[:]
}
