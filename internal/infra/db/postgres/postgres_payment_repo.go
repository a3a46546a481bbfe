package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, user_id, subscription_id, vendor_transaction_id, order_id, amount_cents, currency, method, status, debit_period, is_reference_payment, is_postponed, billing, extra_data, backend, created_at, last_action_at, completed_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, user_id, subscription_id, vendor_transaction_id, order_id, amount_cents, currency, method, status, debit_period, is_reference_payment, is_postponed, billing, extra_data, backend, created_at, last_action_at, completed_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
) ON CONFLICT (id) DO UPDATE SET
  subscription_id=$3, vendor_transaction_id=$4, amount_cents=$6, currency=$7, method=$8, status=$9, debit_period=$10, is_reference_payment=$11, is_postponed=$12, billing=$13, extra_data=$14, backend=$15, last_action_at=$17, completed_at=$18;`

	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.UserID, p.SubscriptionID, p.VendorTransactionID, p.OrderID, p.AmountCents, p.Currency, string(p.Method), int(p.Status), string(p.DebitPeriod), p.IsReferencePayment, p.IsPostponed, p.Billing, p.ExtraData, p.Backend, p.CreatedAt, p.LastActionAt, p.CompletedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.queryOne(ctx, tx, q, id)
}

func (r *paymentRepo) FindByTransaction(ctx context.Context, tx repository.Tx, vendorTxID, orderID string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE vendor_transaction_id=$1 AND order_id=$2 LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.queryOne(ctx, tx, q, vendorTxID, orderID)
}

func (r *paymentRepo) FindByOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id=$1 LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.queryOne(ctx, tx, q, orderID)
}

func (r *paymentRepo) CountPaidSince(ctx context.Context, tx repository.Tx, userID string, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM payments WHERE user_id=$1 AND status=$2 AND completed_at >= $3;`
	row, err := pickRow(ctx, r.pool, tx, q, userID, int(model.PaymentStatusPaid), since)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *paymentRepo) SumPaidSince(ctx context.Context, tx repository.Tx, userID string, since time.Time) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount_cents),0) FROM payments WHERE user_id=$1 AND status=$2 AND completed_at >= $3;`
	row, err := pickRow(ctx, r.pool, tx, q, userID, int(model.PaymentStatusPaid), since)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func (r *paymentRepo) SumPaidByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount_cents),0) FROM payments WHERE status=$1 AND completed_at >= DATE_TRUNC($2, NOW());`
	row, err := pickRow(ctx, r.pool, tx, q, int(model.PaymentStatusPaid), period)
	if err != nil {
		return 0, err
	}
	var sum int64
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}

func (r *paymentRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}

	p := &model.Payment{}
	var method, debitPeriod string
	var status int
	if err := row.Scan(&p.ID, &p.UserID, &p.SubscriptionID, &p.VendorTransactionID, &p.OrderID, &p.AmountCents, &p.Currency, &method, &status, &debitPeriod, &p.IsReferencePayment, &p.IsPostponed, &p.Billing, &p.ExtraData, &p.Backend, &p.CreatedAt, &p.LastActionAt, &p.CompletedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	p.Method = model.PaymentMethod(method)
	p.Status = model.PaymentStatus(status)
	p.DebitPeriod = model.DebitPeriod(debitPeriod)
	return p, nil
}
