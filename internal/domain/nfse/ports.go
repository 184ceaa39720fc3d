package nfse

import (
	"context"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// TransmissionClient puerto de salida hacia el web service de la prefeitura.
// Cada llamada firma con el certificado activo de la empresa del documento.
//
// Errores: *domain.TransientError (red, timeout, 5xx, respuesta ambigua) es reintentable;
// cualquier otro error es terminal. Un rechazo de negocio no es error: llega como
// ResponseEnvelope con Outcome REJECTED.
type TransmissionClient interface {
	Transmit(ctx context.Context, doc *entity.Nfse) (*entity.ResponseEnvelope, error)
	Cancel(ctx context.Context, doc *entity.Nfse, req entity.CancelRequest) (*entity.ResponseEnvelope, error)
	Substitute(ctx context.Context, original, replacement *entity.Nfse, req entity.CancelRequest) (*entity.ResponseEnvelope, error)
	Query(ctx context.Context, doc *entity.Nfse) (*entity.ResponseEnvelope, error)
}

// ClientResolver selecciona el cliente según la configuración del municipio del documento.
type ClientResolver interface {
	ClientFor(ctx context.Context, cityConfigurationID string) (TransmissionClient, error)
}
