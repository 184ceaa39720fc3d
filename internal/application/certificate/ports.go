package certificate

import (
	"context"

	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
)

// TxRunner ejecuta fn dentro de una transacción con el repositorio de certificados atado a ella.
// La activación usa una sola transacción para que nunca se observen dos ACTIVE a la vez.
type TxRunner interface {
	RunCertificates(ctx context.Context, fn func(repo repository.DigitalCertificateRepository) error) error
}

// PasswordSealer cifra la contraseña del contenedor antes de persistirla junto al blob.
type PasswordSealer interface {
	Seal(businessID, password string) (string, error)
	Open(businessID, sealed string) (string, error)
}
