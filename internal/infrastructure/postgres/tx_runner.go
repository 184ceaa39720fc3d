package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/nfse-gateway/internal/application/certificate"
	"github.com/jhoicas/nfse-gateway/internal/domain/repository"
)

// Ensure TxRunner implements certificate.TxRunner.
var _ certificate.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunCertificates inicia una transacción, ejecuta fn con el repositorio de certificados atado
// a la tx y hace Commit o Rollback.
func (r *TxRunner) RunCertificates(ctx context.Context, fn func(repo repository.DigitalCertificateRepository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	repo := &DigitalCertificateRepo{q: tx, inTx: true}
	if err := fn(repo); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
