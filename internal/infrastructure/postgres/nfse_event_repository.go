package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jhoicas/nfse-gateway/internal/domain/entity"
	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
)

var _ repository.NfseEventRepository = (*NfseEventRepo)(nil)

// NfseEventRepo bitácora append-only sobre la tabla nfse_events.
type NfseEventRepo struct {
	q Querier
}

// NewNfseEventRepository construye el adaptador. Pasar pool o tx (Querier).
func NewNfseEventRepository(q Querier) *NfseEventRepo {
	return &NfseEventRepo{q: q}
}

// Append inserta el evento; nunca se actualiza.
func (r *NfseEventRepo) Append(ctx context.Context, ev *entity.NfseEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	query := `
		INSERT INTO nfse_events (id, nfse_id, from_status, to_status, trigger, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.q.Exec(ctx, query,
		ev.ID, ev.NfseID, ev.FromStatus, ev.ToStatus, ev.Trigger, ev.Detail, ev.OccurredAt,
	); err != nil {
		return fmt.Errorf("insert nfse event: %w", err)
	}
	return nil
}

// ListByNfse eventos del documento en orden cronológico.
func (r *NfseEventRepo) ListByNfse(ctx context.Context, nfseID string) ([]*entity.NfseEvent, error) {
	query := `
		SELECT id, nfse_id, from_status, to_status, trigger, detail, occurred_at
		FROM nfse_events WHERE nfse_id = $1
		ORDER BY occurred_at, id`
	rows, err := r.q.Query(ctx, query, nfseID)
	if err != nil {
		return nil, fmt.Errorf("list nfse events: %w", err)
	}
	defer rows.Close()
	var list []*entity.NfseEvent
	for rows.Next() {
		var ev entity.NfseEvent
		if err := rows.Scan(&ev.ID, &ev.NfseID, &ev.FromStatus, &ev.ToStatus, &ev.Trigger, &ev.Detail, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan nfse event: %w", err)
		}
		list = append(list, &ev)
	}
	return list, rows.Err()
}
