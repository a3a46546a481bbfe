package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
)

var _ repository.TransactionLogRepository = (*transactionLogRepo)(nil)

type transactionLogRepo struct{ pool *pgxpool.Pool }

func NewTransactionLogRepo(pool *pgxpool.Pool) *transactionLogRepo {
	return &transactionLogRepo{pool: pool}
}

// Append is insert-only. Entries are written before the payload is acted on,
// so a crash mid-handling still leaves an audit trail.
func (r *transactionLogRepo) Append(ctx context.Context, tx repository.Tx, entry *model.TransactionLog) error {
	const q = `INSERT INTO transaction_logs (id, type, url, data, created_at) VALUES ($1,$2,$3,$4,$5);`
	_, err := execSQL(ctx, r.pool, tx, q, entry.ID, string(entry.Type), entry.URL, entry.Data, entry.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}
