package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
	"subscription-payments/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, reference_payment_id, last_payment_id, state, amount_cents, debit_period, next_due_date, has_problems, num_attempts_recurring, created_at, cancelled_at, terminated_at`

// Save upserts the subscription and enforces, inside the caller's
// transaction, that the write neither raises the state (except to SUSPENDED)
// nor leaves the user with two subscriptions in an active state. Both
// violations are returned as fatal sentinels and roll the transaction back.
// A unique partial index on (user_id) WHERE state IN (1,2,99) backstops the
// exclusivity check at the constraint level.
func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if ptx, ok := tx.(pgx.Tx); ok {
		if err := r.guard(ctx, ptx, s); err != nil {
			return err
		}
	}

	const q = `
INSERT INTO subscriptions (
  id, user_id, reference_payment_id, last_payment_id, state, amount_cents, debit_period, next_due_date, has_problems, num_attempts_recurring, created_at, cancelled_at, terminated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
  last_payment_id=$4, state=$5, amount_cents=$6, debit_period=$7, next_due_date=$8, has_problems=$9, num_attempts_recurring=$10, cancelled_at=$12, terminated_at=$13;`

	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, s.ReferencePaymentID, s.LastPaymentID, int(s.State), s.AmountCents, string(s.DebitPeriod), s.NextDueDate, s.HasProblems, s.NumAttemptsRecurring, s.CreatedAt, s.CancelledAt, s.TerminatedAt)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return err
		default:
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return domain.ErrStateConflict
			}
			return domain.ErrOperationFailed
		}
	}
	return nil
}

// guard re-reads the persisted row under FOR UPDATE and checks both
// invariants before the write happens.
func (r *subscriptionRepo) guard(ctx context.Context, tx pgx.Tx, s *model.Subscription) error {
	var current int
	err := tx.QueryRow(ctx, `SELECT state FROM subscriptions WHERE id=$1 FOR UPDATE;`, s.ID).Scan(&current)
	switch {
	case err == pgx.ErrNoRows:
		// fresh insert, nothing to regress from
	case err != nil:
		return domain.ErrReadDatabaseRow
	default:
		cur := model.SubscriptionState(current)
		if cur != s.State && !cur.CanTransitionTo(s.State) {
			return domain.ErrStateRegression
		}
	}

	if !s.State.InActiveFamily() {
		return nil
	}
	var n int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE user_id=$1 AND id<>$2 AND state IN (1,2,99);`,
		s.UserID, s.ID).Scan(&n)
	if err != nil {
		return domain.ErrReadDatabaseRow
	}
	if n > 0 {
		return domain.ErrStateConflict
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.queryOne(ctx, tx, q, id)
}

func (r *subscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	return r.findByUserAndState(ctx, tx, userID, model.SubscriptionStateActive)
}

func (r *subscriptionRepo) FindCancelledByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	return r.findByUserAndState(ctx, tx, userID, model.SubscriptionStateCancelledButActive)
}

func (r *subscriptionRepo) FindSuspendedByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	return r.findByUserAndState(ctx, tx, userID, model.SubscriptionStateSuspended)
}

func (r *subscriptionRepo) findByUserAndState(ctx context.Context, tx repository.Tx, userID string, state model.SubscriptionState) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id=$1 AND state=$2 ORDER BY created_at DESC LIMIT 1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	q += ";"
	return r.queryOne(ctx, tx, q, userID, int(state))
}

func (r *subscriptionRepo) ListByState(ctx context.Context, tx repository.Tx, state model.SubscriptionState) ([]*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE state=$1 ORDER BY created_at ASC;`
	return r.queryMany(ctx, tx, q, int(state))
}

func (r *subscriptionRepo) ListDue(ctx context.Context, tx repository.Tx, today time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE state IN (1,2)
   AND next_due_date::date <= $1::date
 ORDER BY next_due_date ASC
 LIMIT $2;`
	return r.queryMany(ctx, tx, q, today, limit)
}

func (r *subscriptionRepo) CountByState(ctx context.Context, tx repository.Tx) (map[model.SubscriptionState]int, error) {
	const q = `SELECT state, COUNT(*) FROM subscriptions GROUP BY state;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()

	counts := make(map[model.SubscriptionState]int)
	for rows.Next() {
		var state, count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		counts[model.SubscriptionState(state)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return counts, nil
}

func (r *subscriptionRepo) CountWithProblems(ctx context.Context, tx repository.Tx) (int, error) {
	const q = `SELECT COUNT(*) FROM subscriptions WHERE has_problems AND state IN (1,2,99);`
	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, sql string, args ...any) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, sql, args...)
	if err != nil {
		return nil, err
	}

	s := &model.Subscription{}
	var state int
	var debitPeriod string
	if err := row.Scan(&s.ID, &s.UserID, &s.ReferencePaymentID, &s.LastPaymentID, &state, &s.AmountCents, &debitPeriod, &s.NextDueDate, &s.HasProblems, &s.NumAttemptsRecurring, &s.CreatedAt, &s.CancelledAt, &s.TerminatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	s.State = model.SubscriptionState(state)
	s.DebitPeriod = model.DebitPeriod(debitPeriod)
	return s, nil
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, sql string, args ...any) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, sql, args...)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s := &model.Subscription{}
		var state int
		var debitPeriod string
		if err := rows.Scan(&s.ID, &s.UserID, &s.ReferencePaymentID, &s.LastPaymentID, &state, &s.AmountCents, &debitPeriod, &s.NextDueDate, &s.HasProblems, &s.NumAttemptsRecurring, &s.CreatedAt, &s.CancelledAt, &s.TerminatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		s.State = model.SubscriptionState(state)
		s.DebitPeriod = model.DebitPeriod(debitPeriod)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
