package repository

import (
	"context"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
)

// NfseEventRepository bitácora append-only de transiciones.
type NfseEventRepository interface {
	Append(ctx context.Context, event *entity.NfseEvent) error
	ListByNfse(ctx context.Context, nfseID string) ([]*entity.NfseEvent, error)
}
